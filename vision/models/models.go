// Package models builds and restores the traffic-sign classifier models.
package models

import (
	"fmt"
	"time"

	"trellis/checkpoints"
	"trellis/layers"
	"trellis/tensor"
	"trellis/training"
)

// SignNet compiles the default traffic-sign CNN: three conv blocks
// (16/32/64 channels, each 3x3 conv + ReLU + 2x2 max pool) followed by a
// 128-unit dense layer and the classifier head.
func SignNet(numClasses, imageSize int) (*layers.ModelSpec, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", numClasses)
	}
	if imageSize < 8 {
		return nil, fmt.Errorf("image size %d too small for three pooling stages", imageSize)
	}

	builder := layers.NewModelBuilder([]int{1, 3, imageSize, imageSize})
	spec, err := builder.
		AddConv2D(16, 3, 1, 1, true, "conv1").
		AddReLU("relu1").
		AddMaxPool2D(2, 2, 0, "pool1").
		AddConv2D(32, 3, 1, 1, true, "conv2").
		AddReLU("relu2").
		AddMaxPool2D(2, 2, 0, "pool2").
		AddConv2D(64, 3, 1, 1, true, "conv3").
		AddReLU("relu3").
		AddMaxPool2D(2, 2, 0, "pool3").
		AddFlatten("flatten").
		AddDense(128, true, "fc1").
		AddReLU("relu4").
		AddDense(numClasses, true, "classifier").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("compile sign net: %w", err)
	}
	return spec, nil
}

// Build instantiates a model from a compiled spec with seeded weight
// initialization.
func Build(spec *layers.ModelSpec, seed int64) (*training.Sequential, error) {
	training.SetRandomSeed(seed)
	return training.BuildFromSpec(spec)
}

// LoadPretrained reads a JSON or ONNX checkpoint (decided by file
// extension), rebuilds its module graph, and restores the stored weights.
func LoadPretrained(path string) (*training.Sequential, *layers.ModelSpec, error) {
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatForPath(path))
	checkpoint, err := saver.LoadCheckpoint(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}

	model, err := training.BuildFromSpec(&checkpoint.ModelSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild model: %w", err)
	}
	if err := checkpoints.LoadWeights(checkpoint, model.Parameters(), model.Buffers()); err != nil {
		return nil, nil, fmt.Errorf("restore weights: %w", err)
	}
	return model, &checkpoint.ModelSpec, nil
}

// ReplaceClassifier swaps the final dense layer of a pretrained model for
// a freshly initialized one sized to numClasses, carrying every other
// layer's weights over. The backbone spec must end in a dense layer.
func ReplaceClassifier(spec *layers.ModelSpec, model *training.Sequential, numClasses int, seed int64) (*training.Sequential, *layers.ModelSpec, error) {
	if spec == nil || !spec.Compiled {
		return nil, nil, fmt.Errorf("model spec must be compiled")
	}
	last := spec.LastParameterizedLayer()
	if last < 0 || spec.Layers[last].Type != layers.Dense {
		return nil, nil, fmt.Errorf("model does not end in a dense classifier")
	}

	builder := layers.NewModelBuilder(spec.InputShape)
	for i := range spec.Layers {
		layer := spec.Layers[i]
		if i == last {
			useBias := true
			if b, ok := layer.BoolParam("use_bias"); ok {
				useBias = b
			}
			builder.AddDense(numClasses, useBias, layer.Name)
			continue
		}
		// Recompile from the declared parameters so shape inference
		// re-derives the sizes.
		builder.AddLayer(layers.LayerSpec{
			Type:       layer.Type,
			Name:       layer.Name,
			Parameters: copyParams(layer.Parameters),
		})
	}
	newSpec, err := builder.Compile()
	if err != nil {
		return nil, nil, fmt.Errorf("recompile with %d classes: %w", numClasses, err)
	}

	training.SetRandomSeed(seed)
	newModel, err := training.BuildFromSpec(newSpec)
	if err != nil {
		return nil, nil, err
	}

	// Copy backbone weights module by module; the final replaced layer
	// keeps its fresh initialization.
	oldModules := model.Modules()
	newModules := newModel.Modules()
	if len(oldModules) != len(newModules) {
		return nil, nil, fmt.Errorf("module count changed: %d -> %d", len(oldModules), len(newModules))
	}
	lastModule := lastParameterizedModule(newModules)
	for i := range newModules {
		if i == lastModule {
			continue
		}
		if err := copyModuleState(oldModules[i], newModules[i]); err != nil {
			return nil, nil, fmt.Errorf("module %d: %w", i, err)
		}
	}
	return newModel, newSpec, nil
}

// FreezeBackbone disables gradients on every parameter except those of
// the final parameterized module, turning the network into a fixed
// feature extractor with a trainable head.
func FreezeBackbone(model *training.Sequential) error {
	modules := model.Modules()
	last := lastParameterizedModule(modules)
	if last < 0 {
		return fmt.Errorf("model has no parameters")
	}
	for i, m := range modules {
		if i == last {
			continue
		}
		for _, p := range m.Parameters() {
			p.SetRequiresGrad(false)
		}
	}
	return nil
}

// TrainableParameters returns the parameters still tracking gradients, in
// model order. Feed these to the optimizer after freezing.
func TrainableParameters(model *training.Sequential) []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, p := range model.Parameters() {
		if p.RequiresGrad() {
			params = append(params, p)
		}
	}
	return params
}

// NewCheckpoint packages a model's current weights with its spec and
// training state.
func NewCheckpoint(spec *layers.ModelSpec, model *training.Sequential, state checkpoints.TrainingState, description string) (*checkpoints.Checkpoint, error) {
	weights, err := checkpoints.ExtractWeights(spec, model.Parameters(), model.Buffers())
	if err != nil {
		return nil, fmt.Errorf("extract weights: %w", err)
	}
	return &checkpoints.Checkpoint{
		ModelSpec:     *spec,
		Weights:       weights,
		TrainingState: state,
		Metadata: checkpoints.CheckpointMetadata{
			Version:     "1.0.0",
			Framework:   "trellis",
			CreatedAt:   time.Now().UTC(),
			Description: description,
		},
	}, nil
}

func lastParameterizedModule(modules []training.Module) int {
	last := -1
	for i, m := range modules {
		if len(m.Parameters()) > 0 {
			last = i
		}
	}
	return last
}

func copyModuleState(src, dst training.Module) error {
	srcParams := src.Parameters()
	dstParams := dst.Parameters()
	if len(srcParams) != len(dstParams) {
		return fmt.Errorf("parameter count mismatch: %d vs %d", len(srcParams), len(dstParams))
	}
	for i := range srcParams {
		if err := copyTensorData(srcParams[i], dstParams[i]); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
	}

	srcHolder, srcOK := src.(training.BufferHolder)
	dstHolder, dstOK := dst.(training.BufferHolder)
	if srcOK != dstOK {
		return fmt.Errorf("buffer holder mismatch")
	}
	if srcOK {
		srcBufs := srcHolder.Buffers()
		dstBufs := dstHolder.Buffers()
		if len(srcBufs) != len(dstBufs) {
			return fmt.Errorf("buffer count mismatch: %d vs %d", len(srcBufs), len(dstBufs))
		}
		for i := range srcBufs {
			if err := copyTensorData(srcBufs[i], dstBufs[i]); err != nil {
				return fmt.Errorf("buffer %d: %w", i, err)
			}
		}
	}
	return nil
}

func copyTensorData(src, dst *tensor.Tensor) error {
	if src.NumElems != dst.NumElems || src.DType != dst.DType {
		return fmt.Errorf("tensor mismatch: %v/%s vs %v/%s", src.Shape, src.DType, dst.Shape, dst.DType)
	}
	switch src.DType {
	case tensor.Float32:
		copy(dst.Data.([]float32), src.Data.([]float32))
	case tensor.Int32:
		copy(dst.Data.([]int32), src.Data.([]int32))
	}
	return nil
}

func copyParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
