package training

import (
	"fmt"
	"math"

	"trellis/tensor"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update. Parameters without gradients are skipped,
	// which is how frozen layers stay frozen.
	Step() error
	// ZeroGrad clears gradients on all managed parameters.
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// SGD implements stochastic gradient descent with optional momentum,
// Nesterov momentum, weight decay, and dampening.
type SGD struct {
	parameters  []*tensor.Tensor
	lr          float64
	momentum    float64
	weightDecay float64
	dampening   float64
	nesterov    bool
	velocity    map[*tensor.Tensor][]float32
}

func NewSGD(parameters []*tensor.Tensor, lr, momentum, weightDecay, dampening float64, nesterov bool) (*SGD, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	if momentum < 0 {
		return nil, fmt.Errorf("momentum must be non-negative, got %v", momentum)
	}
	if nesterov && (momentum == 0 || dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}
	return &SGD{
		parameters:  parameters,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		dampening:   dampening,
		nesterov:    nesterov,
		velocity:    make(map[*tensor.Tensor][]float32),
	}, nil
}

func (o *SGD) Step() error {
	for _, p := range o.parameters {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		data, err := p.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("sgd step: %w", err)
		}
		g, err := grad.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("sgd step: %w", err)
		}

		lr := float32(o.lr)
		wd := float32(o.weightDecay)
		mom := float32(o.momentum)
		damp := float32(o.dampening)

		if o.momentum == 0 {
			for i := range data {
				gi := g[i]
				if wd != 0 {
					gi += wd * data[i]
				}
				data[i] -= lr * gi
			}
			continue
		}

		buf, ok := o.velocity[p]
		if !ok {
			buf = make([]float32, len(data))
			for i := range buf {
				gi := g[i]
				if wd != 0 {
					gi += wd * data[i]
				}
				buf[i] = gi
			}
			o.velocity[p] = buf
		} else {
			for i := range buf {
				gi := g[i]
				if wd != 0 {
					gi += wd * data[i]
				}
				buf[i] = mom*buf[i] + (1-damp)*gi
			}
		}

		if o.nesterov {
			for i := range data {
				gi := g[i]
				if wd != 0 {
					gi += wd * data[i]
				}
				data[i] -= lr * (gi + mom*buf[i])
			}
		} else {
			for i := range data {
				data[i] -= lr * buf[i]
			}
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.parameters {
		p.ZeroGrad()
	}
}

func (o *SGD) GetLR() float64   { return o.lr }
func (o *SGD) SetLR(lr float64) { o.lr = lr }

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int
	m           map[*tensor.Tensor][]float32
	v           map[*tensor.Tensor][]float32
}

func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) (*Adam, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	if beta1 < 0 || beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %v", beta1)
	}
	if beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %v", beta2)
	}
	if eps <= 0 {
		eps = 1e-8
	}
	return &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[*tensor.Tensor][]float32),
		v:           make(map[*tensor.Tensor][]float32),
	}, nil
}

func (o *Adam) Step() error {
	o.step++
	bc1 := 1 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.beta2, float64(o.step))

	for _, p := range o.parameters {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		data, err := p.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("adam step: %w", err)
		}
		g, err := grad.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("adam step: %w", err)
		}

		m, ok := o.m[p]
		if !ok {
			m = make([]float32, len(data))
			o.m[p] = m
		}
		v, ok := o.v[p]
		if !ok {
			v = make([]float32, len(data))
			o.v[p] = v
		}

		b1 := float32(o.beta1)
		b2 := float32(o.beta2)
		wd := float32(o.weightDecay)

		for i := range data {
			gi := g[i]
			if wd != 0 {
				gi += wd * data[i]
			}
			m[i] = b1*m[i] + (1-b1)*gi
			v[i] = b2*v[i] + (1-b2)*gi*gi

			mHat := float64(m[i]) / bc1
			vHat := float64(v[i]) / bc2
			data[i] -= float32(o.lr * mHat / (math.Sqrt(vHat) + o.eps))
		}
	}
	return nil
}

func (o *Adam) ZeroGrad() {
	for _, p := range o.parameters {
		p.ZeroGrad()
	}
}

func (o *Adam) GetLR() float64   { return o.lr }
func (o *Adam) SetLR(lr float64) { o.lr = lr }
