package training

import (
	"fmt"
	"math"

	"trellis/tensor"
)

// Loss computes a scalar training objective. The returned tensor is wired
// into the autograd graph, so calling Backward on it fills parameter
// gradients.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// CrossEntropyLoss combines log-softmax and negative log likelihood over
// integer class targets, averaged over the batch. Predictions are raw
// logits of shape [batch, classes]; targets are Int32 with shape [batch]
// or [batch, 1].
type CrossEntropyLoss struct{}

func NewCrossEntropyLoss() *CrossEntropyLoss { return &CrossEntropyLoss{} }

func (l *CrossEntropyLoss) Name() string { return "CrossEntropyLoss" }

type crossEntropyOp struct {
	logits  *tensor.Tensor
	probs   []float32
	targets []int32
	batch   int
	classes int
}

func (o *crossEntropyOp) Name() string { return "CrossEntropyLoss" }
func (o *crossEntropyOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{o.logits} }

func (o *crossEntropyOp) Backward(gradOutput *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale, err := gradOutput.Item()
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Zeros([]int{o.batch, o.classes}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	// dL/dlogits = (softmax - onehot) / batch
	g := grad.Data.([]float32)
	s := float32(scale) / float32(o.batch)
	for i := 0; i < o.batch; i++ {
		for c := 0; c < o.classes; c++ {
			g[i*o.classes+c] = o.probs[i*o.classes+c] * s
		}
		g[i*o.classes+int(o.targets[i])] -= s
	}
	return []*tensor.Tensor{grad}, nil
}

func (l *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if len(predicted.Shape) != 2 {
		return nil, fmt.Errorf("cross entropy expects 2D logits [batch, classes], got shape %v", predicted.Shape)
	}
	targets, err := classTargets(target, predicted.Shape[0])
	if err != nil {
		return nil, err
	}
	batch, classes := predicted.Shape[0], predicted.Shape[1]
	for i, t := range targets {
		if t < 0 || int(t) >= classes {
			return nil, fmt.Errorf("target %d at index %d out of range [0, %d)", t, i, classes)
		}
	}

	probsT, err := tensor.Softmax(predicted)
	if err != nil {
		return nil, err
	}
	probs := probsT.Data.([]float32)

	total := 0.0
	for i := 0; i < batch; i++ {
		p := float64(probs[i*classes+int(targets[i])])
		if p < 1e-10 {
			p = 1e-10
		}
		total -= math.Log(p)
	}
	loss, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{float32(total / float64(batch))})
	if err != nil {
		return nil, err
	}

	if tensor.GradEnabled() && predicted.RequiresGrad() {
		loss.SetCreator(&crossEntropyOp{
			logits:  predicted,
			probs:   probs,
			targets: targets,
			batch:   batch,
			classes: classes,
		})
	}
	return loss, nil
}

// BCELoss is binary cross entropy over probabilities in [0, 1], averaged
// over all elements. Predictions and targets must have the same element
// count; targets hold 0 or 1 values.
type BCELoss struct{}

func NewBCELoss() *BCELoss { return &BCELoss{} }

func (l *BCELoss) Name() string { return "BCELoss" }

const bceEps = 1e-7

type bceOp struct {
	pred    *tensor.Tensor
	clamped []float32
	targets []float32
	n       int
}

func (o *bceOp) Name() string { return "BCELoss" }
func (o *bceOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{o.pred} }

func (o *bceOp) Backward(gradOutput *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale, err := gradOutput.Item()
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Zeros(o.pred.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	// dL/dp = (p - y) / (p (1 - p)) / n
	g := grad.Data.([]float32)
	s := float32(scale) / float32(o.n)
	for i := range g {
		p := o.clamped[i]
		g[i] = s * (p - o.targets[i]) / (p * (1 - p))
	}
	return []*tensor.Tensor{grad}, nil
}

func (l *BCELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if predicted.DType != tensor.Float32 || target.DType != tensor.Float32 {
		return nil, fmt.Errorf("bce loss requires float32 predictions and targets")
	}
	if predicted.NumElems != target.NumElems {
		return nil, fmt.Errorf("bce loss size mismatch: %d predictions, %d targets", predicted.NumElems, target.NumElems)
	}

	preds := predicted.Data.([]float32)
	targets := target.Data.([]float32)
	n := predicted.NumElems

	clamped := make([]float32, n)
	total := 0.0
	for i := 0; i < n; i++ {
		p := preds[i]
		if p < bceEps {
			p = bceEps
		}
		if p > 1-bceEps {
			p = 1 - bceEps
		}
		clamped[i] = p
		y := float64(targets[i])
		total -= y*math.Log(float64(p)) + (1-y)*math.Log(1-float64(p))
	}
	loss, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{float32(total / float64(n))})
	if err != nil {
		return nil, err
	}

	if tensor.GradEnabled() && predicted.RequiresGrad() {
		loss.SetCreator(&bceOp{
			pred:    predicted,
			clamped: clamped,
			targets: append([]float32(nil), targets...),
			n:       n,
		})
	}
	return loss, nil
}

// MSELoss is mean (or summed) squared error.
type MSELoss struct {
	reduction string
}

// NewMSELoss creates an MSE loss with reduction "mean" or "sum".
func NewMSELoss(reduction string) (*MSELoss, error) {
	if reduction != "mean" && reduction != "sum" {
		return nil, fmt.Errorf("unsupported reduction %q (want mean or sum)", reduction)
	}
	return &MSELoss{reduction: reduction}, nil
}

func (l *MSELoss) Name() string { return "MSELoss" }

type mseOp struct {
	pred    *tensor.Tensor
	diff    []float32
	divisor float32
}

func (o *mseOp) Name() string { return "MSELoss" }
func (o *mseOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{o.pred} }

func (o *mseOp) Backward(gradOutput *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale, err := gradOutput.Item()
	if err != nil {
		return nil, err
	}
	grad, err := tensor.Zeros(o.pred.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	g := grad.Data.([]float32)
	s := float32(scale) * 2 / o.divisor
	for i := range g {
		g[i] = s * o.diff[i]
	}
	return []*tensor.Tensor{grad}, nil
}

func (l *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if predicted.DType != tensor.Float32 || target.DType != tensor.Float32 {
		return nil, fmt.Errorf("mse loss requires float32 predictions and targets")
	}
	if predicted.NumElems != target.NumElems {
		return nil, fmt.Errorf("mse loss size mismatch: %d predictions, %d targets", predicted.NumElems, target.NumElems)
	}

	preds := predicted.Data.([]float32)
	targets := target.Data.([]float32)
	n := predicted.NumElems

	diff := make([]float32, n)
	total := 0.0
	for i := 0; i < n; i++ {
		d := preds[i] - targets[i]
		diff[i] = d
		total += float64(d) * float64(d)
	}
	divisor := float32(1)
	if l.reduction == "mean" {
		divisor = float32(n)
		total /= float64(n)
	}
	loss, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{float32(total)})
	if err != nil {
		return nil, err
	}

	if tensor.GradEnabled() && predicted.RequiresGrad() {
		loss.SetCreator(&mseOp{pred: predicted, diff: diff, divisor: divisor})
	}
	return loss, nil
}

// classTargets extracts integer class labels from an Int32 tensor of shape
// [batch] or [batch, 1].
func classTargets(target *tensor.Tensor, batch int) ([]int32, error) {
	if target.DType != tensor.Int32 {
		return nil, fmt.Errorf("class targets must be int32, got %s", target.DType)
	}
	valid := len(target.Shape) == 1 && target.Shape[0] == batch ||
		len(target.Shape) == 2 && target.Shape[0] == batch && target.Shape[1] == 1
	if !valid {
		return nil, fmt.Errorf("targets must have shape [%d] or [%d, 1], got %v", batch, batch, target.Shape)
	}
	return target.Data.([]int32), nil
}
