package layers

import (
	"encoding/json"
	"testing"
)

func TestCompileDenseModel(t *testing.T) {
	model, err := NewModelBuilder([]int{32, 4}).
		AddDense(5, true, "fc1").
		AddReLU("relu1").
		AddDense(3, true, "fc2").
		AddReLU("relu2").
		AddDense(1, true, "fc3").
		AddSigmoid("sigmoid1").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !model.Compiled {
		t.Errorf("expected compiled model")
	}
	// 4*5+5 + 5*3+3 + 3*1+1 = 25 + 18 + 4
	if model.TotalParameters != 47 {
		t.Errorf("expected 47 parameters, got %d", model.TotalParameters)
	}
	if len(model.OutputShape) != 2 || model.OutputShape[1] != 1 {
		t.Errorf("expected output shape [32 1], got %v", model.OutputShape)
	}
	if err := model.Validate(); err != nil {
		t.Errorf("expected valid model, got %v", err)
	}
}

func TestCompileConvModel(t *testing.T) {
	model, err := NewModelBuilder([]int{8, 3, 64, 64}).
		AddConv2D(16, 3, 1, 1, true, "conv1").
		AddReLU("relu1").
		AddMaxPool2D(2, 2, 0, "pool1").
		AddConv2D(32, 3, 1, 1, true, "conv2").
		AddReLU("relu2").
		AddMaxPool2D(2, 2, 0, "pool2").
		AddFlatten("flatten").
		AddDense(128, true, "fc1").
		AddReLU("relu3").
		AddDense(4, true, "fc2").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		layer    string
		expected []int
	}{
		{"conv1", []int{8, 16, 64, 64}},
		{"pool1", []int{8, 16, 32, 32}},
		{"conv2", []int{8, 32, 32, 32}},
		{"pool2", []int{8, 32, 16, 16}},
		{"flatten", []int{8, 32 * 16 * 16}},
		{"fc1", []int{8, 128}},
		{"fc2", []int{8, 4}},
	}
	for _, tt := range tests {
		layer, err := model.FindLayer(tt.layer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(layer.OutputShape) != len(tt.expected) {
			t.Errorf("%s: expected shape %v, got %v", tt.layer, tt.expected, layer.OutputShape)
			continue
		}
		for i := range tt.expected {
			if layer.OutputShape[i] != tt.expected[i] {
				t.Errorf("%s: expected shape %v, got %v", tt.layer, tt.expected, layer.OutputShape)
				break
			}
		}
	}

	// conv1: 16*3*3*3+16, conv2: 32*16*3*3+32, fc1: 8192*128+128, fc2: 128*4+4
	expectedParams := int64(16*3*3*3+16) + int64(32*16*3*3+32) + int64(8192*128+128) + int64(128*4+4)
	if model.TotalParameters != expectedParams {
		t.Errorf("expected %d parameters, got %d", expectedParams, model.TotalParameters)
	}
}

func TestCompileInfersDenseInputSize(t *testing.T) {
	model, err := NewModelBuilder([]int{1, 2, 4, 4}).
		AddFlatten("flatten").
		AddDense(10, false, "fc").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	layer, err := model.FindLayer("fc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inputSize, ok := layer.IntParam("input_size")
	if !ok {
		t.Fatalf("expected input_size to be set during compilation")
	}
	if inputSize != 32 {
		t.Errorf("expected inferred input size 32, got %d", inputSize)
	}
	// No bias: one parameter tensor.
	if len(layer.ParameterShapes) != 1 {
		t.Errorf("expected 1 parameter shape, got %d", len(layer.ParameterShapes))
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *ModelBuilder
	}{
		{
			"empty model",
			func() *ModelBuilder { return NewModelBuilder([]int{1, 4}) },
		},
		{
			"conv on 2d input",
			func() *ModelBuilder {
				return NewModelBuilder([]int{1, 4}).AddConv2D(8, 3, 1, 1, true, "conv")
			},
		},
		{
			"kernel larger than input",
			func() *ModelBuilder {
				return NewModelBuilder([]int{1, 1, 2, 2}).AddConv2D(8, 5, 1, 0, true, "conv")
			},
		},
		{
			"missing batch dimension",
			func() *ModelBuilder { return NewModelBuilder([]int{4}).AddDense(2, true, "fc") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.build().Compile(); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestBatchNormCompile(t *testing.T) {
	model, err := NewModelBuilder([]int{4, 8}).
		AddDense(6, true, "fc1").
		AddBatchNorm(1e-5, 0.1, "bn1").
		AddReLU("relu1").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bn, err := model.FindLayer("bn1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := bn.IntParam("num_features"); n != 6 {
		t.Errorf("expected 6 features, got %d", n)
	}
	if bn.ParameterCount != 12 {
		t.Errorf("expected 12 learnable parameters, got %d", bn.ParameterCount)
	}
}

func TestSpecSurvivesJSONRoundTrip(t *testing.T) {
	model, err := NewModelBuilder([]int{1, 3, 8, 8}).
		AddConv2D(4, 3, 1, 1, true, "conv1").
		AddReLU("relu1").
		AddFlatten("flatten").
		AddDense(2, true, "fc").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := json.Marshal(model)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded ModelSpec
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// JSON stores numbers as float64; accessors must still read them.
	conv, err := decoded.FindLayer("conv1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k, ok := conv.IntParam("kernel_size"); !ok || k != 3 {
		t.Errorf("expected kernel_size 3 after round trip, got %d (ok=%v)", k, ok)
	}
	if b, ok := conv.BoolParam("use_bias"); !ok || !b {
		t.Errorf("expected use_bias true after round trip")
	}
	if decoded.TotalParameters != model.TotalParameters {
		t.Errorf("expected %d parameters, got %d", model.TotalParameters, decoded.TotalParameters)
	}
}

func TestLastParameterizedLayer(t *testing.T) {
	model, err := NewModelBuilder([]int{1, 4}).
		AddDense(8, true, "fc1").
		AddReLU("relu1").
		AddDense(2, true, "fc2").
		AddSoftmax("softmax").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx := model.LastParameterizedLayer()
	if idx < 0 || model.Layers[idx].Name != "fc2" {
		t.Errorf("expected fc2 as last parameterized layer, got index %d", idx)
	}
}
