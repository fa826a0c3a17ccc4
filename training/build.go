package training

import (
	"fmt"

	"trellis/layers"
)

// BuildFromSpec constructs runnable modules from a compiled model spec. The
// returned Sequential's parameter order matches the spec's parameter shape
// order, which checkpoint extraction and restoration rely on.
func BuildFromSpec(spec *layers.ModelSpec) (*Sequential, error) {
	if spec == nil {
		return nil, fmt.Errorf("model spec is nil")
	}
	if !spec.Compiled {
		return nil, fmt.Errorf("model spec must be compiled before building")
	}

	model := NewSequential()
	for i := range spec.Layers {
		layer := &spec.Layers[i]
		module, err := buildModule(layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Name, err)
		}
		model.Add(module)
	}
	return model, nil
}

func buildModule(layer *layers.LayerSpec) (Module, error) {
	switch layer.Type {
	case layers.Dense:
		inputSize, ok := layer.IntParam("input_size")
		if !ok {
			return nil, fmt.Errorf("missing input_size (spec not compiled?)")
		}
		outputSize, ok := layer.IntParam("output_size")
		if !ok {
			return nil, fmt.Errorf("missing output_size")
		}
		useBias := true
		if b, ok := layer.BoolParam("use_bias"); ok {
			useBias = b
		}
		return NewLinear(inputSize, outputSize, useBias)

	case layers.Conv2D:
		inC, ok := layer.IntParam("input_channels")
		if !ok {
			return nil, fmt.Errorf("missing input_channels (spec not compiled?)")
		}
		outC, ok := layer.IntParam("output_channels")
		if !ok {
			return nil, fmt.Errorf("missing output_channels")
		}
		kernel, ok := layer.IntParam("kernel_size")
		if !ok {
			return nil, fmt.Errorf("missing kernel_size")
		}
		stride, _ := layer.IntParam("stride")
		padding, _ := layer.IntParam("padding")
		useBias := true
		if b, ok := layer.BoolParam("use_bias"); ok {
			useBias = b
		}
		return NewConv2D(inC, outC, kernel, stride, padding, useBias)

	case layers.ReLU:
		return NewReLU(), nil
	case layers.Sigmoid:
		return NewSigmoid(), nil
	case layers.Tanh:
		return NewTanh(), nil
	case layers.Softmax:
		return NewSoftmax(), nil
	case layers.Flatten:
		return NewFlatten(), nil

	case layers.MaxPool2D:
		kernel, ok := layer.IntParam("kernel_size")
		if !ok {
			return nil, fmt.Errorf("missing kernel_size")
		}
		stride, _ := layer.IntParam("stride")
		padding, _ := layer.IntParam("padding")
		return NewMaxPool2D(kernel, stride, padding), nil

	case layers.Dropout:
		rate, ok := layer.FloatParam("rate")
		if !ok {
			return nil, fmt.Errorf("missing rate")
		}
		return NewDropout(rate)

	case layers.BatchNorm:
		features, ok := layer.IntParam("num_features")
		if !ok {
			return nil, fmt.Errorf("missing num_features (spec not compiled?)")
		}
		eps, _ := layer.FloatParam("eps")
		momentum, _ := layer.FloatParam("momentum")
		return NewBatchNorm(features, eps, momentum)

	default:
		return nil, fmt.Errorf("unsupported layer type %s", layer.Type)
	}
}
