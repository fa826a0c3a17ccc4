package training

import (
	"math"
	"testing"

	"trellis/layers"
	"trellis/tensor"
)

func mustFloats(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.NewTensor(shape, tensor.Float32, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tt
}

func mustInts(t *testing.T, shape []int, data []int32) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.NewTensor(shape, tensor.Int32, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tt
}

func assertFloats(t *testing.T, context string, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d values, got %d", context, len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Errorf("%s: index %d: expected %v, got %v", context, i, want[i], got[i])
		}
	}
}

func TestLinearForward(t *testing.T) {
	linear, err := NewLinear(2, 3, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, _ := linear.Weight().GetFloat32Data()
	copy(w, []float32{1, 2, 3, 4, 5, 6})
	b, _ := linear.Bias().GetFloat32Data()
	copy(b, []float32{0.1, 0.2, 0.3})

	input := mustFloats(t, []int{1, 2}, []float32{1, 1})
	out, err := linear.Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := out.GetFloat32Data()
	assertFloats(t, "linear forward", got, []float32{5.1, 7.2, 9.3}, 1e-5)
}

func TestLinearValidation(t *testing.T) {
	tests := []struct {
		name    string
		in, out int
	}{
		{"zero input", 0, 3},
		{"zero output", 3, 0},
		{"negative input", -1, 3},
	}
	for _, tt := range tests {
		if _, err := NewLinear(tt.in, tt.out, true); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}

func TestActivationModules(t *testing.T) {
	input := mustFloats(t, []int{1, 3}, []float32{0, 1, -1})

	relu, err := NewReLU().Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := relu.GetFloat32Data()
	assertFloats(t, "relu", got, []float32{0, 1, 0}, 1e-6)

	sig, err := NewSigmoid().Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = sig.GetFloat32Data()
	assertFloats(t, "sigmoid", got, []float32{0.5, 0.731059, 0.268941}, 1e-5)

	tanh, err := NewTanh().Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = tanh.GetFloat32Data()
	assertFloats(t, "tanh", got, []float32{0, 0.761594, -0.761594}, 1e-5)

	softmaxIn := mustFloats(t, []int{1, 2}, []float32{0, float32(math.Log(3))})
	soft, err := NewSoftmax().Forward(softmaxIn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = soft.GetFloat32Data()
	assertFloats(t, "softmax", got, []float32{0.25, 0.75}, 1e-5)
}

func TestSequentialForwardAndModes(t *testing.T) {
	linear, err := NewLinear(2, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, _ := linear.Weight().GetFloat32Data()
	copy(w, []float32{1, 0, 0, 1})

	model := NewSequential(linear, NewReLU())
	input := mustFloats(t, []int{1, 2}, []float32{-3, 4})
	out, err := model.Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := out.GetFloat32Data()
	assertFloats(t, "sequential forward", got, []float32{0, 4}, 1e-6)

	model.Eval()
	if model.IsTraining() {
		t.Errorf("expected eval mode after Eval()")
	}
	for i, m := range model.Modules() {
		if m.IsTraining() {
			t.Errorf("module %d: expected eval mode to propagate", i)
		}
	}
	model.Train()
	if !model.IsTraining() {
		t.Errorf("expected training mode after Train()")
	}
}

func TestDropoutEvalIdentity(t *testing.T) {
	dropout, err := NewDropout(0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dropout.Eval()

	input := mustFloats(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	out, err := dropout.Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := out.GetFloat32Data()
	assertFloats(t, "dropout eval", got, []float32{1, 2, 3, 4, 5, 6}, 0)
}

func TestDropoutTrainScaling(t *testing.T) {
	SetRandomSeed(7)
	dropout, err := NewDropout(0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input, err := tensor.Ones([]int{1, 1000}, tensor.Float32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := dropout.Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := out.GetFloat32Data()

	zeros := 0
	sum := 0.0
	for _, v := range got {
		if v == 0 {
			zeros++
		} else if math.Abs(float64(v)-2.0) > 1e-6 {
			t.Fatalf("kept value should be scaled to 2.0, got %v", v)
		}
		sum += float64(v)
	}
	frac := float64(zeros) / float64(len(got))
	if frac < 0.4 || frac > 0.6 {
		t.Errorf("expected roughly half dropped, got fraction %.3f", frac)
	}
	mean := sum / float64(len(got))
	if mean < 0.8 || mean > 1.2 {
		t.Errorf("expected mean near 1.0 after scaling, got %.3f", mean)
	}

	if _, err := NewDropout(1.0); err == nil {
		t.Errorf("expected error for rate 1.0, got nil")
	}
}

func TestBatchNormTrainAndEval(t *testing.T) {
	bn, err := NewBatchNorm(2, 1e-5, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mustFloats(t, []int{2, 2}, []float32{1, 2, 5, 8})
	out, err := bn.Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := out.GetFloat32Data()
	assertFloats(t, "batchnorm train", got, []float32{-1, -1, 1, 1}, 1e-3)

	buffers := bn.Buffers()
	if len(buffers) != 2 {
		t.Fatalf("expected 2 buffers, got %d", len(buffers))
	}
	// Running variance holds the unbiased batch estimate: biased vars 4
	// and 9 scale by n/(n-1) = 2, so 0.9*1 + 0.1*8 and 0.9*1 + 0.1*18.
	mean, _ := buffers[0].GetFloat32Data()
	assertFloats(t, "running mean", mean, []float32{0.3, 0.5}, 1e-5)
	variance, _ := buffers[1].GetFloat32Data()
	assertFloats(t, "running var", variance, []float32{1.7, 2.7}, 1e-5)

	bn.Eval()
	evalIn := mustFloats(t, []int{1, 2}, []float32{3, 5})
	out, err = bn.Forward(evalIn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = out.GetFloat32Data()
	assertFloats(t, "batchnorm eval", got, []float32{2.0708, 2.7386}, 1e-3)
}

func TestSequentialParametersAndBuffers(t *testing.T) {
	linear, err := NewLinear(4, 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bn, err := NewBatchNorm(2, 1e-5, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model := NewSequential(linear, bn, NewReLU())

	if n := len(model.Parameters()); n != 4 {
		t.Errorf("expected 4 parameter tensors (weight, bias, gamma, beta), got %d", n)
	}
	if n := len(model.Buffers()); n != 2 {
		t.Errorf("expected 2 buffer tensors (running mean, running var), got %d", n)
	}
}

func TestCountTrainableParameters(t *testing.T) {
	linear, err := NewLinear(3, 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model := NewSequential(linear)

	if n := CountTrainableParameters(model); n != 8 {
		t.Errorf("expected 8 trainable parameters, got %d", n)
	}

	linear.Weight().SetRequiresGrad(false)
	if n := CountTrainableParameters(model); n != 2 {
		t.Errorf("expected 2 trainable parameters after freezing weight, got %d", n)
	}
}

func TestBuildFromSpec(t *testing.T) {
	spec, err := layers.NewModelBuilder([]int{1, 4}).
		AddDense(5, true, "fc1").
		AddReLU("relu1").
		AddDense(3, true, "fc2").
		AddReLU("relu2").
		AddDense(1, true, "output").
		AddSigmoid("sigmoid").
		Compile()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	SetRandomSeed(11)
	model, err := BuildFromSpec(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(model.Modules()); n != 6 {
		t.Fatalf("expected 6 modules, got %d", n)
	}
	if n := CountTrainableParameters(model); n != spec.TotalParameters {
		t.Errorf("expected %d trainable parameters, got %d", spec.TotalParameters, n)
	}

	input, err := tensor.Random([]int{2, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := model.Forward(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 1 {
		t.Fatalf("expected output shape [2 1], got %v", out.Shape)
	}
	got, _ := out.GetFloat32Data()
	for i, v := range got {
		if v <= 0 || v >= 1 {
			t.Errorf("output %d: sigmoid output should be in (0, 1), got %v", i, v)
		}
	}
}

func TestBuildFromSpecRequiresCompiled(t *testing.T) {
	spec := &layers.ModelSpec{}
	if _, err := BuildFromSpec(spec); err == nil {
		t.Errorf("expected error for uncompiled spec, got nil")
	}
	if _, err := BuildFromSpec(nil); err == nil {
		t.Errorf("expected error for nil spec, got nil")
	}
}
