package tensor

import (
	"fmt"
	"sync/atomic"
)

// Operation is a node in the autograd graph. Backward receives the gradient
// of the loss with respect to the operation's output and returns gradients
// with respect to each input, in input order.
type Operation interface {
	Name() string
	Inputs() []*Tensor
	Backward(gradOutput *Tensor) ([]*Tensor, error)
}

var gradEnabled atomic.Bool

func init() {
	gradEnabled.Store(true)
}

// GradEnabled reports whether new operations record the autograd graph.
func GradEnabled() bool {
	return gradEnabled.Load()
}

// SetGradEnabled switches graph recording on or off. Evaluation and
// inference paths disable it to skip graph construction.
func SetGradEnabled(enabled bool) {
	gradEnabled.Store(enabled)
}

// attachOp links result into the graph when recording is on and any input
// tracks gradients.
func attachOp(result *Tensor, op Operation, inputs ...*Tensor) {
	if !GradEnabled() {
		return
	}
	for _, in := range inputs {
		if in.requiresGrad {
			result.creator = op
			result.requiresGrad = true
			return
		}
	}
}

func accumulateGrad(t *Tensor, g *Tensor) error {
	if !shapesEqual(t.Shape, g.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		clone.requiresGrad = false
		t.grad = clone
		return nil
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// Backward runs reverse-mode differentiation from a scalar tensor, filling
// the grad of every reachable tensor that requires gradients.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar tensor, got shape %v (use BackwardWithGradient)", t.Shape)
	}
	seed, err := Ones(t.Shape, Float32)
	if err != nil {
		return err
	}
	return t.BackwardWithGradient(seed)
}

// BackwardWithGradient runs reverse-mode differentiation seeded with an
// explicit output gradient.
func (t *Tensor) BackwardWithGradient(grad *Tensor) error {
	if t.creator == nil {
		return fmt.Errorf("tensor has no autograd graph to traverse")
	}
	if !shapesEqual(t.Shape, grad.Shape) {
		return fmt.Errorf("seed gradient shape %v does not match output shape %v", grad.Shape, t.Shape)
	}
	if err := accumulateGrad(t, grad); err != nil {
		return err
	}

	order, err := topologicalOrder(t)
	if err != nil {
		return err
	}

	// Reverse topological order: outputs before their inputs.
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}
		inputGrads, err := node.creator.Backward(node.grad)
		if err != nil {
			return fmt.Errorf("backward through %s: %w", node.creator.Name(), err)
		}
		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("backward through %s returned %d gradients for %d inputs",
				node.creator.Name(), len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			if inputGrads[j] == nil || !in.requiresGrad {
				continue
			}
			if err := accumulateGrad(in, inputGrads[j]); err != nil {
				return fmt.Errorf("accumulating gradient for input %d of %s: %w", j, node.creator.Name(), err)
			}
		}
	}
	return nil
}

func topologicalOrder(root *Tensor) ([]*Tensor, error) {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(*Tensor) error
	visit = func(t *Tensor) error {
		if visited[t] {
			return nil
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				if err := visit(in); err != nil {
					return err
				}
			}
		}
		order = append(order, t)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

type baseOp struct {
	inputs []*Tensor
	name   string
}

func (o *baseOp) Name() string      { return o.name }
func (o *baseOp) Inputs() []*Tensor { return o.inputs }

// --- element-wise binary ops ---

type addOp struct{ baseOp }

func (o *addOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	a, b := o.inputs[0], o.inputs[1]
	gradA, err := reduceGradientToShape(gradOutput, a.Shape)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(gradOutput, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddAutograd returns a + b with broadcasting, recording the graph.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	attachOp(out, &addOp{baseOp{inputs: []*Tensor{a, b}, name: "Add"}}, a, b)
	return out, nil
}

type subOp struct{ baseOp }

func (o *subOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	a, b := o.inputs[0], o.inputs[1]
	gradA, err := reduceGradientToShape(gradOutput, a.Shape)
	if err != nil {
		return nil, err
	}
	neg, err := Scale(gradOutput, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(neg, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubAutograd returns a - b with broadcasting, recording the graph.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	attachOp(out, &subOp{baseOp{inputs: []*Tensor{a, b}, name: "Sub"}}, a, b)
	return out, nil
}

type mulOp struct{ baseOp }

func (o *mulOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	a, b := o.inputs[0], o.inputs[1]
	gradATimesB, err := Mul(gradOutput, b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceGradientToShape(gradATimesB, a.Shape)
	if err != nil {
		return nil, err
	}
	gradBTimesA, err := Mul(gradOutput, a)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(gradBTimesA, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd returns the element-wise product, recording the graph.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	attachOp(out, &mulOp{baseOp{inputs: []*Tensor{a, b}, name: "Mul"}}, a, b)
	return out, nil
}

type divOp struct{ baseOp }

func (o *divOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	a, b := o.inputs[0], o.inputs[1]
	gradOverB, err := Div(gradOutput, b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceGradientToShape(gradOverB, a.Shape)
	if err != nil {
		return nil, err
	}
	// d(a/b)/db = -a / b^2
	bSquared, err := Mul(b, b)
	if err != nil {
		return nil, err
	}
	aOverB2, err := Div(a, bSquared)
	if err != nil {
		return nil, err
	}
	negGrad, err := Mul(gradOutput, aOverB2)
	if err != nil {
		return nil, err
	}
	negGrad, err = Scale(negGrad, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(negGrad, b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// DivAutograd returns a / b with broadcasting, recording the graph.
func DivAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := Div(a, b)
	if err != nil {
		return nil, err
	}
	attachOp(out, &divOp{baseOp{inputs: []*Tensor{a, b}, name: "Div"}}, a, b)
	return out, nil
}

// --- matrix ops ---

type matmulOp struct{ baseOp }

func (o *matmulOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	a, b := o.inputs[0], o.inputs[1]
	bT, err := Transpose2D(b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOutput, bT)
	if err != nil {
		return nil, err
	}
	aT, err := Transpose2D(a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOutput)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulAutograd returns the matrix product, recording the graph.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	out, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	attachOp(out, &matmulOp{baseOp{inputs: []*Tensor{a, b}, name: "MatMul"}}, a, b)
	return out, nil
}

// --- activations ---

type reluOp struct {
	baseOp
}

func (o *reluOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	input := o.inputs[0]
	grad, err := NewTensor(input.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	in := input.Data.([]float32)
	g := gradOutput.Data.([]float32)
	out := grad.Data.([]float32)
	for i := range in {
		if in[i] > 0 {
			out[i] = g[i]
		}
	}
	return []*Tensor{grad}, nil
}

// ReLUAutograd returns max(x, 0), recording the graph.
func ReLUAutograd(t *Tensor) (*Tensor, error) {
	out, err := ReLU(t)
	if err != nil {
		return nil, err
	}
	attachOp(out, &reluOp{baseOp{inputs: []*Tensor{t}, name: "ReLU"}}, t)
	return out, nil
}

type sigmoidOp struct {
	baseOp
	output *Tensor
}

func (o *sigmoidOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	grad, err := NewTensor(o.output.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	out := o.output.Data.([]float32)
	g := gradOutput.Data.([]float32)
	dst := grad.Data.([]float32)
	for i := range out {
		dst[i] = g[i] * out[i] * (1 - out[i])
	}
	return []*Tensor{grad}, nil
}

// SigmoidAutograd returns 1/(1+exp(-x)), recording the graph. The backward
// pass reuses the forward output: dy/dx = y(1-y).
func SigmoidAutograd(t *Tensor) (*Tensor, error) {
	out, err := Sigmoid(t)
	if err != nil {
		return nil, err
	}
	attachOp(out, &sigmoidOp{baseOp: baseOp{inputs: []*Tensor{t}, name: "Sigmoid"}, output: out}, t)
	return out, nil
}

type tanhOp struct {
	baseOp
	output *Tensor
}

func (o *tanhOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	grad, err := NewTensor(o.output.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	out := o.output.Data.([]float32)
	g := gradOutput.Data.([]float32)
	dst := grad.Data.([]float32)
	for i := range out {
		dst[i] = g[i] * (1 - out[i]*out[i])
	}
	return []*Tensor{grad}, nil
}

// TanhAutograd returns tanh(x), recording the graph.
func TanhAutograd(t *Tensor) (*Tensor, error) {
	out, err := Tanh(t)
	if err != nil {
		return nil, err
	}
	attachOp(out, &tanhOp{baseOp: baseOp{inputs: []*Tensor{t}, name: "Tanh"}, output: out}, t)
	return out, nil
}

type softmaxOp struct {
	baseOp
	output *Tensor
}

func (o *softmaxOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	// dx = y * (dy - sum(dy * y)) per row
	rows, cols := o.output.Shape[0], o.output.Shape[1]
	grad, err := NewTensor(o.output.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	y := o.output.Data.([]float32)
	g := gradOutput.Data.([]float32)
	dst := grad.Data.([]float32)
	for r := 0; r < rows; r++ {
		var dot float32
		for c := 0; c < cols; c++ {
			dot += g[r*cols+c] * y[r*cols+c]
		}
		for c := 0; c < cols; c++ {
			i := r*cols + c
			dst[i] = y[i] * (g[i] - dot)
		}
	}
	return []*Tensor{grad}, nil
}

// SoftmaxAutograd computes row-wise softmax over a 2D tensor, recording the
// graph.
func SoftmaxAutograd(t *Tensor) (*Tensor, error) {
	out, err := Softmax(t)
	if err != nil {
		return nil, err
	}
	attachOp(out, &softmaxOp{baseOp: baseOp{inputs: []*Tensor{t}, name: "Softmax"}, output: out}, t)
	return out, nil
}

// --- shape ops ---

type reshapeOp struct {
	baseOp
	inputShape []int
}

func (o *reshapeOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	grad, err := gradOutput.Reshape(o.inputShape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ReshapeAutograd returns a reshaped view, recording the graph. The backward
// pass reshapes the gradient back to the input shape.
func ReshapeAutograd(t *Tensor, shape []int) (*Tensor, error) {
	out, err := t.Reshape(shape)
	if err != nil {
		return nil, err
	}
	out.creator = nil
	out.requiresGrad = false
	attachOp(out, &reshapeOp{
		baseOp:     baseOp{inputs: []*Tensor{t}, name: "Reshape"},
		inputShape: append([]int(nil), t.Shape...),
	}, t)
	return out, nil
}

// FlattenAutograd collapses all dimensions after the first into one,
// recording the graph. [N, C, H, W] becomes [N, C*H*W].
func FlattenAutograd(t *Tensor) (*Tensor, error) {
	if len(t.Shape) < 2 {
		return nil, fmt.Errorf("flatten requires at least 2 dimensions, got shape %v", t.Shape)
	}
	return ReshapeAutograd(t, []int{t.Shape[0], -1})
}
