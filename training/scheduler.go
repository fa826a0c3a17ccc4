package training

import "math"

// LRScheduler computes the learning rate for an epoch. Schedulers are pure
// functions of the epoch except ReduceLROnPlateau, which tracks a metric
// through its Step method.
type LRScheduler interface {
	GetLR(epoch int, step int, baseLR float64) float64
	GetName() string
}

// StepLR decays the learning rate by gamma every stepSize epochs.
type StepLR struct {
	stepSize int
	gamma    float64
}

func NewStepLR(stepSize int, gamma float64) *StepLR {
	if stepSize < 1 {
		stepSize = 1
	}
	return &StepLR{stepSize: stepSize, gamma: gamma}
}

func (s *StepLR) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.gamma, float64(epoch/s.stepSize))
}

func (s *StepLR) GetName() string { return "StepLR" }

// ExponentialLR decays the learning rate by gamma every epoch.
type ExponentialLR struct {
	gamma float64
}

func NewExponentialLR(gamma float64) *ExponentialLR {
	return &ExponentialLR{gamma: gamma}
}

func (s *ExponentialLR) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.gamma, float64(epoch))
}

func (s *ExponentialLR) GetName() string { return "ExponentialLR" }

// CosineAnnealingLR anneals the learning rate along a cosine curve from
// baseLR down to etaMin over tMax epochs.
type CosineAnnealingLR struct {
	tMax   int
	etaMin float64
}

func NewCosineAnnealingLR(tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax < 1 {
		tMax = 1
	}
	return &CosineAnnealingLR{tMax: tMax, etaMin: etaMin}
}

func (s *CosineAnnealingLR) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.tMax {
		return s.etaMin
	}
	return s.etaMin + (baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.tMax)))/2
}

func (s *CosineAnnealingLR) GetName() string { return "CosineAnnealingLR" }

// ReduceLROnPlateau multiplies the learning rate by factor when the tracked
// metric stops improving for patience epochs. Feed it the validation loss
// with Step after every epoch.
type ReduceLROnPlateau struct {
	factor    float64
	patience  int
	threshold float64
	best      float64
	badEpochs int
	scale     float64
}

func NewReduceLROnPlateau(factor float64, patience int, threshold float64) *ReduceLROnPlateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience < 0 {
		patience = 0
	}
	if threshold <= 0 {
		threshold = 1e-4
	}
	return &ReduceLROnPlateau{
		factor:    factor,
		patience:  patience,
		threshold: threshold,
		best:      math.Inf(1),
		scale:     1,
	}
}

// Step records the epoch metric (lower is better) and reduces the rate when
// no improvement beyond the threshold was seen for patience epochs.
func (s *ReduceLROnPlateau) Step(metric float64) {
	if metric < s.best-s.threshold {
		s.best = metric
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs > s.patience {
		s.scale *= s.factor
		s.badEpochs = 0
	}
}

func (s *ReduceLROnPlateau) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * s.scale
}

func (s *ReduceLROnPlateau) GetName() string { return "ReduceLROnPlateau" }

// ConstantLR keeps the base learning rate unchanged.
type ConstantLR struct{}

func NewConstantLR() *ConstantLR { return &ConstantLR{} }

func (s *ConstantLR) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLR) GetName() string { return "ConstantLR" }
