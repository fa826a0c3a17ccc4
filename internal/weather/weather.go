// Package weather drives the rain prediction walkthrough: tabular CSV
// loading, feature scaling, a small fully-connected network trained with
// binary cross entropy, and the shared evaluation/reporting flow.
package weather

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"trellis/charts"
	"trellis/checkpoints"
	"trellis/internal/config"
	"trellis/internal/runstore"
	"trellis/layers"
	"trellis/tabular"
	"trellis/training"
)

// ClassNames label the binary outcome in confusion matrices and reports.
var ClassNames = []string{"no_rain", "rain"}

// Pipeline wires the weather walkthrough to its configuration, logger,
// and run history store.
type Pipeline struct {
	cfg   *config.Config
	log   *slog.Logger
	store *runstore.Store
}

// New constructs a weather pipeline. The store may be nil when run
// history is not wanted.
func New(cfg *config.Config, logger *slog.Logger, store *runstore.Store) *Pipeline {
	return &Pipeline{cfg: cfg, log: logger, store: store}
}

// TrainResult collects everything a weather training run produced.
type TrainResult struct {
	RunID          string
	History        *training.History
	Test           *training.EvaluationResult
	Report         *training.ClassificationReport
	CheckpointPath string
	ChartPaths     []string
	DroppedRows    int
}

// Train runs the full weather pipeline: load and clean the CSV, split,
// scale features on the training statistics, fit the network, and
// evaluate the best snapshot on the test partition.
func (p *Pipeline) Train(ctx context.Context) (*TrainResult, error) {
	w := p.cfg.Weather
	if w.CSVPath == "" {
		return nil, fmt.Errorf("weather.csv_path is not configured")
	}

	table, err := tabular.LoadCSV(w.CSVPath, tabular.LoadOptions{
		Features: w.Features,
		Target:   w.Target,
	})
	if err != nil {
		return nil, fmt.Errorf("load csv: %w", err)
	}
	p.log.Info("csv loaded",
		"path", w.CSVPath,
		"rows", table.Len(),
		"dropped", table.DroppedRows,
		"features", len(table.FeatureNames))

	train, val, test, err := tabular.TrainValTestSplit(table, splitRatios(w.SplitRatios), w.Seed)
	if err != nil {
		return nil, fmt.Errorf("split table: %w", err)
	}

	// Scaling statistics come from the training partition only; the
	// held-out partitions reuse them.
	scaler := &tabular.StandardScaler{}
	if err := scaler.FitTransform(train.Features); err != nil {
		return nil, fmt.Errorf("scale train features: %w", err)
	}
	for _, split := range []*tabular.Split{val, test} {
		if split.Len() == 0 {
			continue
		}
		if err := scaler.Transform(split.Features); err != nil {
			return nil, fmt.Errorf("scale features: %w", err)
		}
	}

	trainLoader, err := loaderFor(train, w.Training.BatchSize, true, w.Seed)
	if err != nil {
		return nil, fmt.Errorf("train loader: %w", err)
	}
	valLoader, err := loaderFor(val, w.Training.BatchSize, false, w.Seed)
	if err != nil {
		return nil, fmt.Errorf("val loader: %w", err)
	}
	if valLoader == nil {
		p.log.Warn("val partition is empty, using training metrics for model selection")
	}

	spec, err := p.buildSpec(len(table.FeatureNames))
	if err != nil {
		return nil, err
	}
	training.SetRandomSeed(w.Seed)
	model, err := training.BuildFromSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	p.log.Info("model built", "parameters", spec.TotalParameters, "hidden", w.HiddenSizes)

	var runID string
	if p.store != nil {
		run, err := p.store.Create(ctx, "weather", configDigest(w))
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		runID = run.ID
	}
	checkpointPath := p.checkpointPath(runID)
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON)

	optimizer, err := training.NewAdam(model.Parameters(), w.Training.LearningRate, 0.9, 0.999, 1e-8, w.Training.WeightDecay)
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	trainer, err := training.NewTrainer(model, training.TrainerConfig{
		Epochs:                w.Training.Epochs,
		Optimizer:             optimizer,
		Loss:                  training.NewBCELoss(),
		EarlyStoppingPatience: w.Training.Patience,
		ShowProgress:          true,
		Description:           "RainNet",
		OnImprovement: func(stats training.EpochStats) error {
			ckpt, err := newCheckpoint(spec, model, stats)
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
	p.log.Info("training finished",
		"epochs", history.Len(),
		"best_epoch", history.BestEpoch,
		"best_val_accuracy", history.BestValAccuracy)

	best, err := saver.LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("reload best checkpoint: %w", err)
	}
	if err := checkpoints.LoadWeights(best, model.Parameters(), model.Buffers()); err != nil {
		return nil, fmt.Errorf("restore best weights: %w", err)
	}

	result := &TrainResult{
		RunID:          runID,
		History:        history,
		CheckpointPath: checkpointPath,
		DroppedRows:    table.DroppedRows,
	}
	testAccuracy := history.BestValAccuracy
	testLoader, err := loaderFor(test, w.Training.BatchSize, false, w.Seed)
	if err != nil {
		return nil, fmt.Errorf("test loader: %w", err)
	}
	if testLoader != nil {
		evaluation, err := trainer.Evaluate(testLoader, len(ClassNames))
		if err != nil {
			return nil, fmt.Errorf("evaluate test partition: %w", err)
		}
		report, err := training.BuildClassificationReport(evaluation.Confusion, ClassNames)
		if err != nil {
			return nil, fmt.Errorf("classification report: %w", err)
		}
		result.Test = evaluation
		result.Report = report
		testAccuracy = evaluation.Accuracy
	} else {
		p.log.Warn("test partition is empty, skipping held-out evaluation")
	}

	chartPaths, err := p.renderCharts(runID, history, result.Test)
	if err != nil {
		return nil, err
	}
	result.ChartPaths = chartPaths

	if p.store != nil {
		if err := p.store.Complete(ctx, runID, history.Len(), history.BestValAccuracy, testAccuracy, checkpointPath); err != nil {
			return nil, fmt.Errorf("complete run: %w", err)
		}
	}
	return result, nil
}

// Evaluate loads a checkpoint and measures it against a fresh split of the
// configured CSV, using the same seed and ratios as training.
func (p *Pipeline) Evaluate(checkpointPath string) (*training.EvaluationResult, *training.ClassificationReport, error) {
	w := p.cfg.Weather
	if w.CSVPath == "" {
		return nil, nil, fmt.Errorf("weather.csv_path is not configured")
	}

	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatForPath(checkpointPath))
	ckpt, err := saver.LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	model, err := training.BuildFromSpec(&ckpt.ModelSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild model: %w", err)
	}
	if err := checkpoints.LoadWeights(ckpt, model.Parameters(), model.Buffers()); err != nil {
		return nil, nil, fmt.Errorf("restore weights: %w", err)
	}

	table, err := tabular.LoadCSV(w.CSVPath, tabular.LoadOptions{Features: w.Features, Target: w.Target})
	if err != nil {
		return nil, nil, fmt.Errorf("load csv: %w", err)
	}
	train, _, test, err := tabular.TrainValTestSplit(table, splitRatios(w.SplitRatios), w.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("split table: %w", err)
	}
	scaler := &tabular.StandardScaler{}
	if err := scaler.Fit(train.Features); err != nil {
		return nil, nil, fmt.Errorf("fit scaler: %w", err)
	}
	if test.Len() == 0 {
		return nil, nil, fmt.Errorf("test partition is empty")
	}
	if err := scaler.Transform(test.Features); err != nil {
		return nil, nil, fmt.Errorf("scale features: %w", err)
	}

	loader, err := loaderFor(test, w.Training.BatchSize, false, w.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("test loader: %w", err)
	}
	optimizer, err := training.NewAdam(model.Parameters(), w.Training.LearningRate, 0.9, 0.999, 1e-8, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("optimizer: %w", err)
	}
	trainer, err := training.NewTrainer(model, training.TrainerConfig{
		Epochs:       1,
		Optimizer:    optimizer,
		Loss:         training.NewBCELoss(),
		ShowProgress: true,
		Description:  "RainNet",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("trainer: %w", err)
	}

	evaluation, err := trainer.Evaluate(loader, len(ClassNames))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate: %w", err)
	}
	report, err := training.BuildClassificationReport(evaluation.Confusion, ClassNames)
	if err != nil {
		return nil, nil, fmt.Errorf("classification report: %w", err)
	}

	p.log.Info("evaluation finished",
		"loss", evaluation.Loss,
		"accuracy", evaluation.Accuracy,
		"samples", evaluation.Confusion.Total())
	return evaluation, report, nil
}

// buildSpec compiles the fully-connected architecture: one dense + ReLU
// block per configured hidden size, then a sigmoid-activated single
// output.
func (p *Pipeline) buildSpec(numFeatures int) (*layers.ModelSpec, error) {
	builder := layers.NewModelBuilder([]int{1, numFeatures})
	for i, hidden := range p.cfg.Weather.HiddenSizes {
		builder.
			AddDense(int(hidden), true, fmt.Sprintf("hidden%d", i+1)).
			AddReLU(fmt.Sprintf("relu%d", i+1))
	}
	spec, err := builder.
		AddDense(1, true, "output").
		AddSigmoid("sigmoid").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("compile rain net: %w", err)
	}
	return spec, nil
}

// loaderFor collates a split into tensors and wraps them in a batch
// loader. Empty splits yield a nil loader.
func loaderFor(split *tabular.Split, batchSize int, shuffle bool, seed int64) (*training.DataLoader, error) {
	if split == nil || split.Len() == 0 {
		return nil, nil
	}
	x, y, err := split.Tensors()
	if err != nil {
		return nil, err
	}
	ds, err := training.NewTensorDataset(x, y)
	if err != nil {
		return nil, err
	}
	return training.NewDataLoader(ds, batchSize, shuffle, seed)
}

func newCheckpoint(spec *layers.ModelSpec, model *training.Sequential, stats training.EpochStats) (*checkpoints.Checkpoint, error) {
	weights, err := checkpoints.ExtractWeights(spec, model.Parameters(), model.Buffers())
	if err != nil {
		return nil, fmt.Errorf("extract weights: %w", err)
	}
	ckpt := &checkpoints.Checkpoint{
		ModelSpec: *spec,
		Weights:   weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:         stats.Epoch,
			LearningRate:  stats.LearningRate,
			TrainLoss:     stats.TrainLoss,
			TrainAccuracy: stats.TrainAccuracy,
			ValLoss:       stats.ValLoss,
			ValAccuracy:   stats.ValAccuracy,
		},
	}
	ckpt.Metadata = checkpoints.CheckpointMetadata{
		Version:     "1.0.0",
		Framework:   "trellis",
		CreatedAt:   time.Now().UTC(),
		Description: "rain predictor",
	}
	return ckpt, nil
}

func (p *Pipeline) renderCharts(runID string, history *training.History, test *training.EvaluationResult) ([]string, error) {
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
		if err := charts.SaveConfusionHeatmap(test.Confusion, ClassNames, confusionPath); err != nil {
			return nil, fmt.Errorf("confusion chart: %w", err)
		}
		paths = append(paths, confusionPath)
	}
	return paths, nil
}

func (p *Pipeline) checkpointPath(runID string) string {
	name := "weather.json"
	if runID != "" {
		name = fmt.Sprintf("weather-%s.json", runID[:8])
	}
	return filepath.Join(p.cfg.Paths.CheckpointDir, name)
}

func (p *Pipeline) chartPath(kind, runID string) string {
	name := fmt.Sprintf("weather-%s.png", kind)
	if runID != "" {
		name = fmt.Sprintf("weather-%s-%s.png", kind, runID[:8])
	}
	return filepath.Join(p.cfg.Paths.ChartDir, name)
}

func splitRatios(values []float64) [3]float64 {
	var out [3]float64
	for i := 0; i < len(values) && i < 3; i++ {
		out[i] = values[i]
	}
	return out
}

func configDigest(section any) string {
	encoded, err := toml.Marshal(section)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:12]
}
