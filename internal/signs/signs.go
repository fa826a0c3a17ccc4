// Package signs drives the traffic-sign classification walkthrough: dataset
// assembly, transfer-learning training, evaluation, single-image prediction,
// and checkpoint export.
package signs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"trellis/internal/config"
	"trellis/internal/runstore"
	"trellis/vision/dataset"
	"trellis/vision/preprocessing"
)

// Pipeline wires the signs walkthrough to its configuration, logger, and
// run history store.
type Pipeline struct {
	cfg   *config.Config
	log   *slog.Logger
	store *runstore.Store
}

// New constructs a signs pipeline. The store may be nil when run history
// is not wanted (tests, one-off predictions).
func New(cfg *config.Config, logger *slog.Logger, store *runstore.Store) *Pipeline {
	return &Pipeline{cfg: cfg, log: logger, store: store}
}

// Prepare copies the configured source tree into the assembled
// train/val/test layout.
func (p *Pipeline) Prepare(overwrite bool) (*dataset.AssembleSummary, error) {
	s := p.cfg.Signs
	if s.SourceDir == "" {
		return nil, fmt.Errorf("signs.source_dir is not configured")
	}
	if s.DatasetDir == "" {
		return nil, fmt.Errorf("signs.dataset_dir is not configured")
	}

	summary, err := dataset.Assemble(s.SourceDir, s.DatasetDir, dataset.AssembleOptions{
		Classes:   s.Classes,
		Ratios:    splitRatios(s.SplitRatios),
		Seed:      s.Seed,
		Overwrite: overwrite,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble dataset: %w", err)
	}

	p.log.Info("dataset assembled",
		"source", s.SourceDir,
		"destination", s.DatasetDir,
		"files", summary.Total,
		"train", summary.SplitTotal("train"),
		"val", summary.SplitTotal("val"),
		"test", summary.SplitTotal("test"))
	return summary, nil
}

func (p *Pipeline) splitDir(split string) string {
	return filepath.Join(p.cfg.Signs.DatasetDir, split)
}

func (p *Pipeline) transformConfig() preprocessing.Config {
	t := p.cfg.Signs.Transforms
	return preprocessing.Config{
		ResizeTo:    t.ResizeTo,
		CropTo:      t.CropTo,
		FlipProb:    t.FlipProb,
		MaxRotation: t.MaxRotation,
		Mean:        channelStats(t.Mean),
		Std:         channelStats(t.Std),
		Seed:        p.cfg.Signs.Seed,
	}
}

func channelStats(values []float64) [3]float32 {
	var out [3]float32
	for i := 0; i < len(values) && i < 3; i++ {
		out[i] = float32(values[i])
	}
	return out
}

func splitRatios(values []float64) [3]float64 {
	var out [3]float64
	for i := 0; i < len(values) && i < 3; i++ {
		out[i] = values[i]
	}
	return out
}

// configDigest fingerprints a config section so run records can be traced
// back to the settings that produced them.
func configDigest(section any) string {
	encoded, err := toml.Marshal(section)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:12]
}
