package training

import (
	"fmt"

	"trellis/tensor"
)

// SetRandomSeed seeds weight initialization and dropout masks for
// reproducible runs.
func SetRandomSeed(seed int64) {
	tensor.SetRandomSeed(seed)
}

// Module is a neural network layer: a differentiable forward pass plus its
// trainable parameters and a train/eval mode switch.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// BufferHolder is implemented by modules carrying non-learnable state that
// checkpoints must persist, such as batch norm running statistics.
type BufferHolder interface {
	Buffers() []*tensor.Tensor
}

// Linear is a fully connected layer computing y = x @ W + b with weight
// shape [inputSize, outputSize].
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a Linear layer with Xavier-uniform weights and zero
// bias. Pass bias=false to omit the bias term.
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer sizes must be positive, got %d and %d", inputSize, outputSize)
	}
	weight, err := tensor.XavierUniform([]int{inputSize, outputSize}, inputSize, outputSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight, training: true}
	if bias {
		b, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		b.SetRequiresGrad(true)
		l.bias = b
	}
	return l, nil
}

func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer expects 2D input [batch, features], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	out, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		out, err = tensor.AddAutograd(out, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %w", err)
		}
	}
	return out, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// Weight returns the weight tensor ([inputSize, outputSize]).
func (l *Linear) Weight() *tensor.Tensor { return l.weight }

// Bias returns the bias tensor or nil.
func (l *Linear) Bias() *tensor.Tensor { return l.bias }

// ReLU applies max(x, 0).
type ReLU struct {
	training bool
}

func NewReLU() *ReLU { return &ReLU{training: true} }

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input)
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }
func (r *ReLU) Train()                       { r.training = true }
func (r *ReLU) Eval()                        { r.training = false }
func (r *ReLU) IsTraining() bool             { return r.training }

// Sigmoid applies the logistic function element-wise.
type Sigmoid struct {
	training bool
}

func NewSigmoid() *Sigmoid { return &Sigmoid{training: true} }

func (s *Sigmoid) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.SigmoidAutograd(input)
}

func (s *Sigmoid) Parameters() []*tensor.Tensor { return nil }
func (s *Sigmoid) Train()                       { s.training = true }
func (s *Sigmoid) Eval()                        { s.training = false }
func (s *Sigmoid) IsTraining() bool             { return s.training }

// Tanh applies the hyperbolic tangent element-wise.
type Tanh struct {
	training bool
}

func NewTanh() *Tanh { return &Tanh{training: true} }

func (t *Tanh) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.TanhAutograd(input)
}

func (t *Tanh) Parameters() []*tensor.Tensor { return nil }
func (t *Tanh) Train()                       { t.training = true }
func (t *Tanh) Eval()                        { t.training = false }
func (t *Tanh) IsTraining() bool             { return t.training }

// Softmax normalizes rows of a 2D tensor into probabilities.
type Softmax struct {
	training bool
}

func NewSoftmax() *Softmax { return &Softmax{training: true} }

func (s *Softmax) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.SoftmaxAutograd(input)
}

func (s *Softmax) Parameters() []*tensor.Tensor { return nil }
func (s *Softmax) Train()                       { s.training = true }
func (s *Softmax) Eval()                        { s.training = false }
func (s *Softmax) IsTraining() bool             { return s.training }

// Conv2D is a 2D convolution over [N, C, H, W] inputs.
type Conv2D struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	stride   int
	padding  int
	training bool
}

// NewConv2D creates a convolution layer with Kaiming-normal weights.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, bias bool) (*Conv2D, error) {
	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 {
		return nil, fmt.Errorf("conv2d sizes must be positive")
	}
	if stride <= 0 {
		stride = 1
	}
	fanIn := inChannels * kernelSize * kernelSize
	weight, err := tensor.KaimingNormal([]int{outChannels, inChannels, kernelSize, kernelSize}, fanIn)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	c := &Conv2D{weight: weight, stride: stride, padding: padding, training: true}
	if bias {
		b, err := tensor.Zeros([]int{outChannels}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		b.SetRequiresGrad(true)
		c.bias = b
	}
	return c, nil
}

func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv2DAutograd(input, c.weight, c.bias, c.stride, c.padding)
}

func (c *Conv2D) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{c.weight}
	if c.bias != nil {
		params = append(params, c.bias)
	}
	return params
}

func (c *Conv2D) Train()           { c.training = true }
func (c *Conv2D) Eval()            { c.training = false }
func (c *Conv2D) IsTraining() bool { return c.training }

// MaxPool2D downsamples by taking window maxima.
type MaxPool2D struct {
	kernelSize int
	stride     int
	padding    int
	training   bool
}

// NewMaxPool2D creates a pooling layer. A stride of 0 defaults to the
// kernel size.
func NewMaxPool2D(kernelSize, stride, padding int) *MaxPool2D {
	if stride <= 0 {
		stride = kernelSize
	}
	return &MaxPool2D{kernelSize: kernelSize, stride: stride, padding: padding, training: true}
}

func (m *MaxPool2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MaxPool2DAutograd(input, m.kernelSize, m.stride, m.padding)
}

func (m *MaxPool2D) Parameters() []*tensor.Tensor { return nil }
func (m *MaxPool2D) Train()                       { m.training = true }
func (m *MaxPool2D) Eval()                        { m.training = false }
func (m *MaxPool2D) IsTraining() bool             { return m.training }

// Flatten collapses all non-batch dimensions.
type Flatten struct {
	training bool
}

func NewFlatten() *Flatten { return &Flatten{training: true} }

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FlattenAutograd(input)
}

func (f *Flatten) Parameters() []*tensor.Tensor { return nil }
func (f *Flatten) Train()                       { f.training = true }
func (f *Flatten) Eval()                        { f.training = false }
func (f *Flatten) IsTraining() bool             { return f.training }

// Dropout zeroes elements with probability rate during training and scales
// the survivors by 1/(1-rate). Evaluation mode is the identity.
type Dropout struct {
	rate     float64
	training bool
}

func NewDropout(rate float64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %v", rate)
	}
	return &Dropout{rate: rate, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.rate == 0 {
		return input, nil
	}
	mask, err := tensor.Random(input.Shape)
	if err != nil {
		return nil, err
	}
	keep := float32(1 - d.rate)
	scale := 1 / keep
	data := mask.Data.([]float32)
	for i, v := range data {
		if v < keep {
			data[i] = scale
		} else {
			data[i] = 0
		}
	}
	return tensor.MulAutograd(input, mask)
}

func (d *Dropout) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout) Train()                       { d.training = true }
func (d *Dropout) Eval()                        { d.training = false }
func (d *Dropout) IsTraining() bool             { return d.training }

// BatchNorm normalizes activations per feature (2D input) or per channel
// (4D input). Training mode uses batch statistics and updates running
// estimates; eval mode uses the running estimates.
type BatchNorm struct {
	gamma       *tensor.Tensor
	beta        *tensor.Tensor
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor
	eps         float64
	momentum    float64
	training    bool
}

func NewBatchNorm(numFeatures int, eps, momentum float64) (*BatchNorm, error) {
	if numFeatures <= 0 {
		return nil, fmt.Errorf("batchnorm feature count must be positive, got %d", numFeatures)
	}
	if eps <= 0 {
		eps = 1e-5
	}
	if momentum <= 0 || momentum >= 1 {
		momentum = 0.1
	}
	gamma, err := tensor.Ones([]int{numFeatures}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	gamma.SetRequiresGrad(true)
	beta, err := tensor.Zeros([]int{numFeatures}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	beta.SetRequiresGrad(true)
	runningMean, err := tensor.Zeros([]int{numFeatures}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	runningVar, err := tensor.Ones([]int{numFeatures}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	return &BatchNorm{
		gamma:       gamma,
		beta:        beta,
		runningMean: runningMean,
		runningVar:  runningVar,
		eps:         eps,
		momentum:    momentum,
		training:    true,
	}, nil
}

func (b *BatchNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BatchNormAutograd(input, b.gamma, b.beta, b.runningMean, b.runningVar, b.training, b.momentum, b.eps)
}

func (b *BatchNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{b.gamma, b.beta}
}

// Buffers returns the running mean and variance, in that order.
func (b *BatchNorm) Buffers() []*tensor.Tensor {
	return []*tensor.Tensor{b.runningMean, b.runningVar}
}

func (b *BatchNorm) Train()           { b.training = true }
func (b *BatchNorm) Eval()            { b.training = false }
func (b *BatchNorm) IsTraining() bool { return b.training }

// Sequential chains modules, feeding each output into the next.
type Sequential struct {
	modules  []Module
	training bool
}

func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules, training: true}
}

// Add appends a module.
func (s *Sequential) Add(m Module) *Sequential {
	s.modules = append(s.modules, m)
	return s
}

// Modules returns the contained modules in order.
func (s *Sequential) Modules() []Module {
	return s.modules
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, m := range s.modules {
		out, err = m.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %w", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Buffers returns non-learnable state from all contained modules.
func (s *Sequential) Buffers() []*tensor.Tensor {
	var buffers []*tensor.Tensor
	for _, m := range s.modules {
		if bh, ok := m.(BufferHolder); ok {
			buffers = append(buffers, bh.Buffers()...)
		}
	}
	return buffers
}

func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

// CountTrainableParameters sums the elements of parameters that still
// require gradients. Frozen layers contribute nothing.
func CountTrainableParameters(m Module) int64 {
	var count int64
	for _, p := range m.Parameters() {
		if p.RequiresGrad() {
			count += int64(p.NumElems)
		}
	}
	return count
}
