package training

import (
	"fmt"
	"time"

	"trellis/tensor"
)

// TrainerConfig controls a training run.
type TrainerConfig struct {
	Epochs    int
	Optimizer Optimizer
	Loss      Loss

	// Scheduler adjusts the learning rate per epoch. Nil keeps the
	// optimizer's rate constant.
	Scheduler LRScheduler

	// EarlyStoppingPatience stops training after this many epochs without
	// a validation accuracy improvement. Zero disables early stopping.
	EarlyStoppingPatience int

	// OnImprovement runs after every epoch whose validation accuracy
	// strictly beats the best seen so far. Checkpoint saving hooks in
	// here.
	OnImprovement func(stats EpochStats) error

	ShowProgress bool
	Description  string
}

// Trainer drives minibatch training of a model over any batch source.
type Trainer struct {
	model   *Sequential
	config  TrainerConfig
	history *History
	baseLR  float64
}

func NewTrainer(model *Sequential, config TrainerConfig) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.Optimizer == nil {
		return nil, fmt.Errorf("optimizer cannot be nil")
	}
	if config.Loss == nil {
		return nil, fmt.Errorf("loss function cannot be nil")
	}
	if config.Description == "" {
		config.Description = "model"
	}
	return &Trainer{
		model:   model,
		config:  config,
		history: NewHistory(),
		baseLR:  config.Optimizer.GetLR(),
	}, nil
}

// History returns the per-epoch statistics recorded so far.
func (t *Trainer) History() *History { return t.history }

// Fit trains for the configured number of epochs, validating after each one
// when val is non-nil. It returns the completed history.
func (t *Trainer) Fit(train, val BatchSource) (*History, error) {
	if train == nil {
		return nil, fmt.Errorf("training batch source cannot be nil")
	}

	noImprove := 0
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		if t.config.Scheduler != nil {
			if _, ok := t.config.Scheduler.(*ReduceLROnPlateau); !ok {
				t.config.Optimizer.SetLR(t.config.Scheduler.GetLR(epoch, 0, t.baseLR))
			}
		}

		start := time.Now()
		trainLoss, trainAcc, err := t.trainEpoch(epoch, train)
		if err != nil {
			return t.history, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}

		stats := EpochStats{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			LearningRate:  t.config.Optimizer.GetLR(),
		}

		if val != nil {
			valLoss, valAcc, err := t.validateEpoch(epoch, val)
			if err != nil {
				return t.history, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
			}
			stats.ValLoss = valLoss
			stats.ValAccuracy = valAcc

			if plateau, ok := t.config.Scheduler.(*ReduceLROnPlateau); ok {
				plateau.Step(valLoss)
				t.config.Optimizer.SetLR(plateau.GetLR(epoch, 0, t.baseLR))
			}
		} else {
			// Without a validation set the training metrics stand in
			// for the improvement signal.
			stats.ValLoss = trainLoss
			stats.ValAccuracy = trainAcc
		}
		stats.Duration = time.Since(start)

		improved := t.history.Append(stats)
		if improved {
			noImprove = 0
			if t.config.OnImprovement != nil {
				if err := t.config.OnImprovement(stats); err != nil {
					return t.history, fmt.Errorf("epoch %d improvement hook: %w", epoch+1, err)
				}
			}
		} else {
			noImprove++
			if t.config.EarlyStoppingPatience > 0 && noImprove >= t.config.EarlyStoppingPatience {
				break
			}
		}
	}
	return t.history, nil
}

func (t *Trainer) trainEpoch(epoch int, src BatchSource) (float64, float64, error) {
	t.model.Train()
	src.Reset()

	var bar *ProgressBar
	if t.config.ShowProgress {
		bar = NewProgressBar(fmt.Sprintf("Epoch %d/%d (train)", epoch+1, t.config.Epochs), src.Len())
	}

	totalLoss := 0.0
	totalCorrect := 0
	totalSamples := 0
	step := 0
	for src.HasNext() {
		batch, err := src.Next()
		if err != nil {
			return 0, 0, err
		}

		output, err := t.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("forward: %w", err)
		}
		loss, err := t.config.Loss.Forward(output, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("loss: %w", err)
		}

		t.config.Optimizer.ZeroGrad()
		if err := loss.Backward(); err != nil {
			return 0, 0, fmt.Errorf("backward: %w", err)
		}
		if err := t.config.Optimizer.Step(); err != nil {
			return 0, 0, fmt.Errorf("optimizer step: %w", err)
		}

		lossValue, err := loss.Item()
		if err != nil {
			return 0, 0, err
		}
		correct, err := countCorrect(output, batch.Labels)
		if err != nil {
			return 0, 0, err
		}

		totalLoss += lossValue * float64(batch.Size)
		totalCorrect += correct
		totalSamples += batch.Size
		step++

		if bar != nil {
			bar.Update(step, map[string]float64{
				"loss": totalLoss / float64(totalSamples),
				"acc":  float64(totalCorrect) / float64(totalSamples),
			})
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if totalSamples == 0 {
		return 0, 0, fmt.Errorf("batch source produced no samples")
	}
	return totalLoss / float64(totalSamples), float64(totalCorrect) / float64(totalSamples), nil
}

func (t *Trainer) validateEpoch(epoch int, src BatchSource) (float64, float64, error) {
	var bar *ProgressBar
	if t.config.ShowProgress {
		bar = NewProgressBar(fmt.Sprintf("Epoch %d/%d (val)", epoch+1, t.config.Epochs), src.Len())
	}
	loss, acc, _, err := t.evaluate(src, bar, nil)
	return loss, acc, err
}

// EvaluationResult holds held-out metrics plus the confusion matrix that
// produced them.
type EvaluationResult struct {
	Loss      float64
	Accuracy  float64
	Confusion *ConfusionMatrix
}

// Evaluate runs the model over src without tracking gradients and
// accumulates a confusion matrix over numClasses classes.
func (t *Trainer) Evaluate(src BatchSource, numClasses int) (*EvaluationResult, error) {
	cm, err := NewConfusionMatrix(numClasses)
	if err != nil {
		return nil, err
	}
	var bar *ProgressBar
	if t.config.ShowProgress {
		bar = NewProgressBar("Evaluate", src.Len())
	}
	loss, acc, _, err := t.evaluate(src, bar, cm)
	if err != nil {
		return nil, err
	}
	return &EvaluationResult{Loss: loss, Accuracy: acc, Confusion: cm}, nil
}

// evaluate runs one gradient-free pass over src, optionally feeding a
// confusion matrix.
func (t *Trainer) evaluate(src BatchSource, bar *ProgressBar, cm *ConfusionMatrix) (float64, float64, int, error) {
	wasTraining := t.model.IsTraining()
	t.model.Eval()
	defer func() {
		if wasTraining {
			t.model.Train()
		}
	}()
	prev := tensor.GradEnabled()
	tensor.SetGradEnabled(false)
	defer tensor.SetGradEnabled(prev)

	src.Reset()
	totalLoss := 0.0
	totalCorrect := 0
	totalSamples := 0
	step := 0
	for src.HasNext() {
		batch, err := src.Next()
		if err != nil {
			return 0, 0, 0, err
		}
		output, err := t.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("forward: %w", err)
		}
		loss, err := t.config.Loss.Forward(output, batch.Labels)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("loss: %w", err)
		}
		lossValue, err := loss.Item()
		if err != nil {
			return 0, 0, 0, err
		}
		correct, err := countCorrect(output, batch.Labels)
		if err != nil {
			return 0, 0, 0, err
		}
		if cm != nil {
			preds, err := output.GetFloat32Data()
			if err != nil {
				return 0, 0, 0, err
			}
			labels, err := labelsToInt32(batch.Labels)
			if err != nil {
				return 0, 0, 0, err
			}
			if err := cm.UpdateFromPredictions(preds, labels); err != nil {
				return 0, 0, 0, err
			}
		}

		totalLoss += lossValue * float64(batch.Size)
		totalCorrect += correct
		totalSamples += batch.Size
		step++
		if bar != nil {
			bar.Update(step, map[string]float64{
				"loss": totalLoss / float64(totalSamples),
				"acc":  float64(totalCorrect) / float64(totalSamples),
			})
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if totalSamples == 0 {
		return 0, 0, 0, fmt.Errorf("batch source produced no samples")
	}
	return totalLoss / float64(totalSamples), float64(totalCorrect) / float64(totalSamples), totalSamples, nil
}

// Predict runs a gradient-free forward pass in eval mode.
func (t *Trainer) Predict(data *tensor.Tensor) (*tensor.Tensor, error) {
	wasTraining := t.model.IsTraining()
	t.model.Eval()
	defer func() {
		if wasTraining {
			t.model.Train()
		}
	}()
	prev := tensor.GradEnabled()
	tensor.SetGradEnabled(false)
	defer tensor.SetGradEnabled(prev)
	return t.model.Forward(data)
}

// countCorrect compares model outputs against labels. Multi-class outputs
// [batch, classes] use argmax; single-output binary probabilities use a 0.5
// threshold.
func countCorrect(output, labels *tensor.Tensor) (int, error) {
	preds, err := output.GetFloat32Data()
	if err != nil {
		return 0, err
	}
	want, err := labelsToInt32(labels)
	if err != nil {
		return 0, err
	}
	n := len(want)
	if n == 0 {
		return 0, fmt.Errorf("empty label batch")
	}

	correct := 0
	switch {
	case len(preds) == n:
		for i := 0; i < n; i++ {
			pred := int32(0)
			if preds[i] > 0.5 {
				pred = 1
			}
			if pred == want[i] {
				correct++
			}
		}
	case len(preds)%n == 0:
		classes := len(preds) / n
		for i := 0; i < n; i++ {
			row := preds[i*classes : (i+1)*classes]
			best := 0
			for c := 1; c < classes; c++ {
				if row[c] > row[best] {
					best = c
				}
			}
			if int32(best) == want[i] {
				correct++
			}
		}
	default:
		return 0, fmt.Errorf("output length %d incompatible with %d labels", len(preds), n)
	}
	return correct, nil
}

// labelsToInt32 flattens integer or 0/1 float labels to class indices.
func labelsToInt32(labels *tensor.Tensor) ([]int32, error) {
	switch labels.DType {
	case tensor.Int32:
		data, err := labels.GetInt32Data()
		if err != nil {
			return nil, err
		}
		out := make([]int32, len(data))
		copy(out, data)
		return out, nil
	case tensor.Float32:
		data, err := labels.GetFloat32Data()
		if err != nil {
			return nil, err
		}
		out := make([]int32, len(data))
		for i, v := range data {
			out[i] = int32(v + 0.5)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported label dtype %s", labels.DType)
	}
}
