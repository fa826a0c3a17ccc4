package signs

import (
	"fmt"

	"trellis/training"
	"trellis/vision/dataloader"
	"trellis/vision/dataset"
	"trellis/vision/models"
	"trellis/vision/preprocessing"
)

// EvalResult holds held-out metrics for a stored checkpoint.
type EvalResult struct {
	Result     *training.EvaluationResult
	Report     *training.ClassificationReport
	ClassNames []string
}

// Evaluate loads a checkpoint and measures it against the named dataset
// split (train, val, or test).
func (p *Pipeline) Evaluate(checkpointPath, split string) (*EvalResult, error) {
	if p.cfg.Signs.DatasetDir == "" {
		return nil, fmt.Errorf("signs.dataset_dir is not configured")
	}

	ds, err := dataset.NewImageFolderDataset(p.splitDir(split), nil)
	if err != nil {
		return nil, fmt.Errorf("load %s split: %w", split, err)
	}
	classNames := ds.ClassNames()

	model, _, err := models.LoadPretrained(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	evalPipe, err := preprocessing.EvalPipeline(p.transformConfig())
	if err != nil {
		return nil, fmt.Errorf("build eval pipeline: %w", err)
	}
	loader, err := dataloader.New(ds, dataloader.Config{
		BatchSize: p.cfg.Signs.Training.BatchSize,
		Seed:      p.cfg.Signs.Seed,
		Workers:   p.cfg.Signs.Training.Workers,
		CacheSize: p.cfg.Signs.Training.CacheSize,
		Pipeline:  evalPipe,
	})
	if err != nil {
		return nil, fmt.Errorf("%s loader: %w", split, err)
	}

	optimizer, err := training.NewSGD(model.Parameters(), p.cfg.Signs.Training.LearningRate, 0, 0, 0, false)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	trainer, err := training.NewTrainer(model, training.TrainerConfig{
		Epochs:       1,
		Optimizer:    optimizer,
		Loss:         training.NewCrossEntropyLoss(),
		ShowProgress: true,
		Description:  "SignNet",
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}

	result, err := trainer.Evaluate(loader, len(classNames))
	if err != nil {
		return nil, fmt.Errorf("evaluate %s split: %w", split, err)
	}
	report, err := training.BuildClassificationReport(result.Confusion, classNames)
	if err != nil {
		return nil, fmt.Errorf("classification report: %w", err)
	}

	p.log.Info("evaluation finished",
		"split", split,
		"loss", result.Loss,
		"accuracy", result.Accuracy,
		"samples", result.Confusion.Total())
	return &EvalResult{Result: result, Report: report, ClassNames: classNames}, nil
}
