package training

import "time"

// EpochStats records the outcome of one training epoch.
type EpochStats struct {
	Epoch         int           `json:"epoch"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValLoss       float64       `json:"val_loss"`
	ValAccuracy   float64       `json:"val_accuracy"`
	LearningRate  float64       `json:"learning_rate"`
	Duration      time.Duration `json:"duration"`
}

// History accumulates per-epoch statistics across a training run and tracks
// the best validation accuracy seen so far.
type History struct {
	Epochs          []EpochStats `json:"epochs"`
	BestEpoch       int          `json:"best_epoch"`
	BestValAccuracy float64      `json:"best_val_accuracy"`
}

func NewHistory() *History {
	return &History{BestEpoch: -1, BestValAccuracy: 0}
}

// Append records stats for one epoch and reports whether validation
// accuracy strictly improved. Ties keep the earlier epoch.
func (h *History) Append(s EpochStats) bool {
	h.Epochs = append(h.Epochs, s)
	if s.ValAccuracy > h.BestValAccuracy || h.BestEpoch < 0 {
		h.BestEpoch = s.Epoch
		h.BestValAccuracy = s.ValAccuracy
		return true
	}
	return false
}

// Len returns the number of recorded epochs.
func (h *History) Len() int { return len(h.Epochs) }

// TrainLosses returns per-epoch training losses, for plotting.
func (h *History) TrainLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainLoss
	}
	return out
}

// ValLosses returns per-epoch validation losses, for plotting.
func (h *History) ValLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.ValLoss
	}
	return out
}

// TrainAccuracies returns per-epoch training accuracies, for plotting.
func (h *History) TrainAccuracies() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainAccuracy
	}
	return out
}

// ValAccuracies returns per-epoch validation accuracies, for plotting.
func (h *History) ValAccuracies() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.ValAccuracy
	}
	return out
}
