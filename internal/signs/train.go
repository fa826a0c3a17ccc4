package signs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"trellis/charts"
	"trellis/checkpoints"
	"trellis/layers"
	"trellis/training"
	"trellis/vision/dataloader"
	"trellis/vision/dataset"
	"trellis/vision/models"
	"trellis/vision/preprocessing"
)

// TrainResult collects everything a training run produced.
type TrainResult struct {
	RunID          string
	History        *training.History
	Test           *training.EvaluationResult
	Report         *training.ClassificationReport
	ClassNames     []string
	CheckpointPath string
	ChartPaths     []string
}

// Train runs the full signs training pipeline: load the assembled splits,
// build or adapt the model, fit with validation-driven checkpointing,
// evaluate the best weights on the test split, and render charts.
func (p *Pipeline) Train(ctx context.Context) (*TrainResult, error) {
	s := p.cfg.Signs
	if s.DatasetDir == "" {
		return nil, fmt.Errorf("signs.dataset_dir is not configured (run `trellis prepare` first)")
	}

	trainDS, err := dataset.NewImageFolderDataset(p.splitDir("train"), nil)
	if err != nil {
		return nil, fmt.Errorf("load train split: %w", err)
	}
	classNames := trainDS.ClassNames()
	numClasses := trainDS.NumClasses()
	if numClasses < 2 {
		return nil, fmt.Errorf("train split has %d classes, need at least 2", numClasses)
	}
	p.log.Info("train split loaded", "samples", trainDS.Len(), "classes", numClasses)

	tc := p.transformConfig()
	trainPipe, err := preprocessing.TrainPipeline(tc)
	if err != nil {
		return nil, fmt.Errorf("build train pipeline: %w", err)
	}
	evalPipe, err := preprocessing.EvalPipeline(tc)
	if err != nil {
		return nil, fmt.Errorf("build eval pipeline: %w", err)
	}

	trainLoader, err := dataloader.New(trainDS, dataloader.Config{
		BatchSize: s.Training.BatchSize,
		Shuffle:   true,
		Seed:      s.Seed,
		Workers:   s.Training.Workers,
		Pipeline:  trainPipe,
	})
	if err != nil {
		return nil, fmt.Errorf("train loader: %w", err)
	}
	valLoader, err := p.evalLoader("val", evalPipe)
	if err != nil {
		return nil, err
	}
	if valLoader == nil {
		p.log.Warn("val split is empty, using training metrics for model selection")
	}

	model, spec, err := p.buildModel(numClasses, tc.CropTo)
	if err != nil {
		return nil, err
	}

	var runID string
	if p.store != nil {
		run, err := p.store.Create(ctx, "signs", configDigest(s))
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		runID = run.ID
	}

	checkpointPath := p.checkpointPath(runID)
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)

	params := model.Parameters()
	if s.Pretrained != "" && s.FreezeBackbone {
		params = models.TrainableParameters(model)
	}
	optimizer, err := training.NewSGD(params, s.Training.LearningRate, s.Training.Momentum, s.Training.WeightDecay, 0, false)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	trainer, err := training.NewTrainer(model, training.TrainerConfig{
		Epochs:                s.Training.Epochs,
		Optimizer:             optimizer,
		Loss:                  training.NewCrossEntropyLoss(),
		Scheduler:             training.NewStepLR(s.Training.StepSize, s.Training.Gamma),
		EarlyStoppingPatience: s.Training.Patience,
		ShowProgress:          true,
		Description:           "SignNet",
		OnImprovement: func(stats training.EpochStats) error {
			ckpt, err := models.NewCheckpoint(spec, model, checkpoints.TrainingState{
				Epoch:         stats.Epoch,
				LearningRate:  stats.LearningRate,
				TrainLoss:     stats.TrainLoss,
				TrainAccuracy: stats.TrainAccuracy,
				ValLoss:       stats.ValLoss,
				ValAccuracy:   stats.ValAccuracy,
			}, "traffic sign classifier")
			if err != nil {
				return err
			}
			return saver.SaveCheckpoint(ckpt, checkpointPath)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}

	history, err := trainer.Fit(trainLoader, valLoader)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	if skipped := trainLoader.Skipped(); skipped > 0 {
		p.log.Warn("unreadable training images skipped", "count", skipped)
	}
	p.log.Info("training finished",
		"epochs", history.Len(),
		"best_epoch", history.BestEpoch,
		"best_val_accuracy", history.BestValAccuracy)

	// The running weights belong to the final epoch; evaluate the best
	// validation snapshot instead.
	if _, err := os.Stat(checkpointPath); err == nil {
		best, err := saver.LoadCheckpoint(checkpointPath)
		if err != nil {
			return nil, fmt.Errorf("reload best checkpoint: %w", err)
		}
		if err := checkpoints.LoadWeights(best, model.Parameters(), model.Buffers()); err != nil {
			return nil, fmt.Errorf("restore best weights: %w", err)
		}
	}

	testLoader, err := p.evalLoader("test", evalPipe)
	if err != nil {
		return nil, err
	}
	result := &TrainResult{
		RunID:          runID,
		History:        history,
		ClassNames:     classNames,
		CheckpointPath: checkpointPath,
	}
	testAccuracy := history.BestValAccuracy
	if testLoader != nil {
		test, err := trainer.Evaluate(testLoader, numClasses)
		if err != nil {
			return nil, fmt.Errorf("evaluate test split: %w", err)
		}
		report, err := training.BuildClassificationReport(test.Confusion, classNames)
		if err != nil {
			return nil, fmt.Errorf("classification report: %w", err)
		}
		result.Test = test
		result.Report = report
		testAccuracy = test.Accuracy
	} else {
		p.log.Warn("test split is empty, skipping held-out evaluation")
	}

	charts, err := p.renderTrainCharts(runID, history, result.Test, classNames)
	if err != nil {
		return nil, err
	}
	result.ChartPaths = charts

	if p.store != nil {
		if err := p.store.Complete(ctx, runID, history.Len(), history.BestValAccuracy, testAccuracy, checkpointPath); err != nil {
			return nil, fmt.Errorf("complete run: %w", err)
		}
	}
	return result, nil
}

// evalLoader builds a cached deterministic loader over the named split, or
// returns nil when the split directory is missing or empty.
func (p *Pipeline) evalLoader(split string, pipe *preprocessing.Pipeline) (*dataloader.DataLoader, error) {
	ds, err := dataset.NewImageFolderDataset(p.splitDir(split), nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, dataset.ErrNoImages) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s split: %w", split, err)
	}
	loader, err := dataloader.New(ds, dataloader.Config{
		BatchSize: p.cfg.Signs.Training.BatchSize,
		Seed:      p.cfg.Signs.Seed,
		Workers:   p.cfg.Signs.Training.Workers,
		CacheSize: p.cfg.Signs.Training.CacheSize,
		Pipeline:  pipe,
	})
	if err != nil {
		return nil, fmt.Errorf("%s loader: %w", split, err)
	}
	return loader, nil
}

// buildModel either adapts a pretrained checkpoint to the configured class
// count or initializes the default architecture from scratch.
func (p *Pipeline) buildModel(numClasses, imageSize int) (*training.Sequential, *layers.ModelSpec, error) {
	s := p.cfg.Signs
	if s.Pretrained != "" {
		base, baseSpec, err := models.LoadPretrained(s.Pretrained)
		if err != nil {
			return nil, nil, fmt.Errorf("load pretrained model: %w", err)
		}
		model, spec, err := models.ReplaceClassifier(baseSpec, base, numClasses, s.Seed)
		if err != nil {
			return nil, nil, fmt.Errorf("replace classifier: %w", err)
		}
		if s.FreezeBackbone {
			if err := models.FreezeBackbone(model); err != nil {
				return nil, nil, fmt.Errorf("freeze backbone: %w", err)
			}
			p.log.Info("backbone frozen, training classifier only")
		}
		p.log.Info("pretrained model adapted", "checkpoint", s.Pretrained, "classes", numClasses)
		return model, spec, nil
	}

	spec, err := models.SignNet(numClasses, imageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("build model spec: %w", err)
	}
	model, err := models.Build(spec, s.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize model: %w", err)
	}
	p.log.Info("model initialized from scratch", "parameters", spec.TotalParameters)
	return model, spec, nil
}

func (p *Pipeline) checkpointPath(runID string) string {
	name := "signs.json"
	if runID != "" {
		name = fmt.Sprintf("signs-%s.json", runID[:8])
	}
	return filepath.Join(p.cfg.Paths.CheckpointDir, name)
}

func (p *Pipeline) chartPath(kind, runID string) string {
	name := fmt.Sprintf("signs-%s.png", kind)
	if runID != "" {
		name = fmt.Sprintf("signs-%s-%s.png", kind, runID[:8])
	}
	return filepath.Join(p.cfg.Paths.ChartDir, name)
}

// renderTrainCharts writes the loss/accuracy curves and, when a test
// evaluation ran, the confusion heatmap.
func (p *Pipeline) renderTrainCharts(runID string, history *training.History, test *training.EvaluationResult, classNames []string) ([]string, error) {
	lossPath := p.chartPath("loss", runID)
	if err := charts.SaveLossCurves(history, lossPath); err != nil {
		return nil, fmt.Errorf("loss chart: %w", err)
	}
	accPath := p.chartPath("accuracy", runID)
	if err := charts.SaveAccuracyCurves(history, accPath); err != nil {
		return nil, fmt.Errorf("accuracy chart: %w", err)
	}
	paths := []string{lossPath, accPath}

	if test != nil {
		confusionPath := p.chartPath("confusion", runID)
		if err := charts.SaveConfusionHeatmap(test.Confusion, classNames, confusionPath); err != nil {
			return nil, fmt.Errorf("confusion chart: %w", err)
		}
		paths = append(paths, confusionPath)
	}
	return paths, nil
}
