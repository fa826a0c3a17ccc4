package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSigns(); err != nil {
		return err
	}
	if err := c.normalizeWeather(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.CheckpointDir) == "" {
		c.Paths.CheckpointDir = defaultCheckpointDir
	}
	if c.Paths.CheckpointDir, err = expandPath(c.Paths.CheckpointDir); err != nil {
		return fmt.Errorf("paths.checkpoint_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ChartDir) == "" {
		c.Paths.ChartDir = defaultChartDir
	}
	if c.Paths.ChartDir, err = expandPath(c.Paths.ChartDir); err != nil {
		return fmt.Errorf("paths.chart_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RunDB) == "" {
		c.Paths.RunDB = defaultRunDB
	}
	if c.Paths.RunDB, err = expandPath(c.Paths.RunDB); err != nil {
		return fmt.Errorf("paths.run_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeSigns() error {
	var err error
	if strings.TrimSpace(c.Signs.SourceDir) != "" {
		if c.Signs.SourceDir, err = expandPath(c.Signs.SourceDir); err != nil {
			return fmt.Errorf("signs.source_dir: %w", err)
		}
	}
	if strings.TrimSpace(c.Signs.DatasetDir) != "" {
		if c.Signs.DatasetDir, err = expandPath(c.Signs.DatasetDir); err != nil {
			return fmt.Errorf("signs.dataset_dir: %w", err)
		}
	}
	if strings.TrimSpace(c.Signs.Pretrained) != "" {
		if c.Signs.Pretrained, err = expandPath(c.Signs.Pretrained); err != nil {
			return fmt.Errorf("signs.pretrained: %w", err)
		}
	}
	c.Signs.Classes = normalizeNames(c.Signs.Classes)
	if len(c.Signs.SplitRatios) == 0 {
		c.Signs.SplitRatios = []float64{0.8, 0.1, 0.1}
	}
	normalizeTraining(&c.Signs.Training, Default().Signs.Training)
	return nil
}

func (c *Config) normalizeWeather() error {
	var err error
	if strings.TrimSpace(c.Weather.CSVPath) != "" {
		if c.Weather.CSVPath, err = expandPath(c.Weather.CSVPath); err != nil {
			return fmt.Errorf("weather.csv_path: %w", err)
		}
	}
	c.Weather.Features = normalizeNames(c.Weather.Features)
	c.Weather.Target = strings.TrimSpace(c.Weather.Target)
	if len(c.Weather.SplitRatios) == 0 {
		c.Weather.SplitRatios = []float64{0.8, 0.1, 0.1}
	}
	normalizeTraining(&c.Weather.Training, Default().Weather.Training)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeTraining(t *Training, fallback Training) {
	if t.Epochs <= 0 {
		t.Epochs = fallback.Epochs
	}
	if t.BatchSize <= 0 {
		t.BatchSize = fallback.BatchSize
	}
	if t.LearningRate <= 0 {
		t.LearningRate = fallback.LearningRate
	}
	if t.Workers <= 0 {
		t.Workers = fallback.Workers
	}
	if t.CacheSize < 0 {
		t.CacheSize = 0
	}
	if t.Patience < 0 {
		t.Patience = 0
	}
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
