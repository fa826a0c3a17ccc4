package layers

import "fmt"

// ModelBuilder accumulates layer specs and resolves shapes at Compile time.
// Input sizes of Dense and Conv2D layers are inferred from the preceding
// layer, so callers only state what each layer produces.
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder starts a builder for models taking the given input shape,
// including the batch dimension: [N, features] or [N, C, H, W].
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		inputShape: append([]int(nil), inputShape...),
	}
}

// AddLayer appends a pre-built layer spec.
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense appends a fully connected layer. The input size is inferred
// during compilation; non-2D inputs are flattened implicitly.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
}

// AddConv2D appends a 2D convolution. Input channels are inferred.
func (mb *ModelBuilder) AddConv2D(outputChannels, kernelSize, stride, padding int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"output_channels": outputChannels,
			"kernel_size":     kernelSize,
			"stride":          stride,
			"padding":         padding,
			"use_bias":        useBias,
		},
	})
}

// AddReLU appends a ReLU activation.
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name, Parameters: map[string]interface{}{}})
}

// AddSigmoid appends a sigmoid activation.
func (mb *ModelBuilder) AddSigmoid(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Sigmoid, Name: name, Parameters: map[string]interface{}{}})
}

// AddTanh appends a tanh activation.
func (mb *ModelBuilder) AddTanh(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Tanh, Name: name, Parameters: map[string]interface{}{}})
}

// AddSoftmax appends a softmax over the last dimension.
func (mb *ModelBuilder) AddSoftmax(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Softmax, Name: name, Parameters: map[string]interface{}{}})
}

// AddMaxPool2D appends a max pooling layer. A stride of 0 defaults to the
// kernel size.
func (mb *ModelBuilder) AddMaxPool2D(kernelSize, stride, padding int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: MaxPool2D,
		Name: name,
		Parameters: map[string]interface{}{
			"kernel_size": kernelSize,
			"stride":      stride,
			"padding":     padding,
		},
	})
}

// AddFlatten appends a layer collapsing all non-batch dimensions.
func (mb *ModelBuilder) AddFlatten(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Flatten, Name: name, Parameters: map[string]interface{}{}})
}

// AddDropout appends a dropout layer with the given drop probability.
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// AddBatchNorm appends a batch normalization layer over the current feature
// or channel dimension.
func (mb *ModelBuilder) AddBatchNorm(eps, momentum float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: BatchNorm,
		Name: name,
		Parameters: map[string]interface{}{
			"eps":      eps,
			"momentum": momentum,
		},
	})
}

// Compile resolves every layer's input/output shapes and parameter
// metadata, producing an immutable ModelSpec.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile an empty model")
	}
	if len(mb.inputShape) < 2 {
		return nil, fmt.Errorf("input shape must include a batch dimension, got %v", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: append([]int(nil), mb.inputShape...),
	}
	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	var allShapes [][]int
	var totalParams int64

	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
		allShapes = append(allShapes, paramShapes...)
		totalParams += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allShapes
	model.TotalParameters = totalParams
	model.Compiled = true
	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case Conv2D:
		return computeConv2DInfo(layer, inputShape)
	case MaxPool2D:
		return computeMaxPool2DInfo(layer, inputShape)
	case Flatten:
		return computeFlattenInfo(inputShape)
	case BatchNorm:
		return computeBatchNormInfo(layer, inputShape)
	case ReLU, Sigmoid, Tanh, Softmax, Dropout:
		out := append([]int(nil), inputShape...)
		return out, nil, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type %s", layer.Type)
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	outputSize, ok := layer.IntParam("output_size")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing output_size parameter")
	}
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("output_size must be positive, got %d", outputSize)
	}
	useBias := true
	if b, ok := layer.BoolParam("use_bias"); ok {
		useBias = b
	}

	// Non-batch dimensions flatten into the input size.
	inputSize := 1
	for _, d := range inputShape[1:] {
		inputSize *= d
	}
	layer.Parameters["input_size"] = inputSize

	shapes := [][]int{{inputSize, outputSize}}
	count := int64(inputSize * outputSize)
	if useBias {
		shapes = append(shapes, []int{outputSize})
		count += int64(outputSize)
	}
	return []int{inputShape[0], outputSize}, shapes, count, nil
}

func computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("conv2d requires 4D input [N,C,H,W], got %v", inputShape)
	}
	outC, ok := layer.IntParam("output_channels")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing output_channels parameter")
	}
	kernel, ok := layer.IntParam("kernel_size")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing kernel_size parameter")
	}
	stride, _ := layer.IntParam("stride")
	if stride == 0 {
		stride = 1
	}
	padding, _ := layer.IntParam("padding")
	useBias := true
	if b, ok := layer.BoolParam("use_bias"); ok {
		useBias = b
	}

	inC, h, w := inputShape[1], inputShape[2], inputShape[3]
	layer.Parameters["input_channels"] = inC

	outH := (h+2*padding-kernel)/stride + 1
	outW := (w+2*padding-kernel)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, nil, 0, fmt.Errorf("kernel %d stride %d padding %d collapses %dx%d input", kernel, stride, padding, h, w)
	}

	shapes := [][]int{{outC, inC, kernel, kernel}}
	count := int64(outC * inC * kernel * kernel)
	if useBias {
		shapes = append(shapes, []int{outC})
		count += int64(outC)
	}
	return []int{inputShape[0], outC, outH, outW}, shapes, count, nil
}

func computeMaxPool2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("maxpool2d requires 4D input [N,C,H,W], got %v", inputShape)
	}
	kernel, ok := layer.IntParam("kernel_size")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing kernel_size parameter")
	}
	stride, _ := layer.IntParam("stride")
	if stride == 0 {
		stride = kernel
	}
	padding, _ := layer.IntParam("padding")

	h, w := inputShape[2], inputShape[3]
	outH := (h+2*padding-kernel)/stride + 1
	outW := (w+2*padding-kernel)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, nil, 0, fmt.Errorf("kernel %d stride %d padding %d collapses %dx%d input", kernel, stride, padding, h, w)
	}
	return []int{inputShape[0], inputShape[1], outH, outW}, nil, 0, nil
}

func computeFlattenInfo(inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("flatten requires at least 2D input, got %v", inputShape)
	}
	size := 1
	for _, d := range inputShape[1:] {
		size *= d
	}
	return []int{inputShape[0], size}, nil, 0, nil
}

func computeBatchNormInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 2 && len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("batchnorm requires 2D or 4D input, got %v", inputShape)
	}
	features := inputShape[1]
	layer.Parameters["num_features"] = features

	// gamma and beta are learnable; running statistics ride in checkpoints
	// but are not counted here.
	shapes := [][]int{{features}, {features}}
	count := int64(2 * features)
	out := append([]int(nil), inputShape...)
	return out, shapes, count, nil
}
