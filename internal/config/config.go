package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains output directory configuration shared by both pipelines.
type Paths struct {
	CheckpointDir string `toml:"checkpoint_dir"`
	ChartDir      string `toml:"chart_dir"`
	RunDB         string `toml:"run_db"`
}

// Transforms describes the image preprocessing geometry and augmentation.
type Transforms struct {
	ResizeTo    int       `toml:"resize_to"`
	CropTo      int       `toml:"crop_to"`
	FlipProb    float64   `toml:"flip_prob"`
	MaxRotation float64   `toml:"max_rotation"`
	Mean        []float64 `toml:"mean"`
	Std         []float64 `toml:"std"`
}

// Training holds the knobs of one training run. Momentum, weight decay,
// step_size and gamma only apply to the signs pipeline (SGD + step decay);
// the weather pipeline uses Adam and ignores them.
type Training struct {
	Epochs       int     `toml:"epochs"`
	BatchSize    int     `toml:"batch_size"`
	LearningRate float64 `toml:"learning_rate"`
	Momentum     float64 `toml:"momentum"`
	WeightDecay  float64 `toml:"weight_decay"`
	StepSize     int     `toml:"step_size"`
	Gamma        float64 `toml:"gamma"`
	Patience     int     `toml:"patience"`
	Workers      int     `toml:"workers"`
	CacheSize    int     `toml:"cache_size"`
}

// Signs contains configuration for the traffic-sign classifier pipeline.
type Signs struct {
	SourceDir      string     `toml:"source_dir"`
	DatasetDir     string     `toml:"dataset_dir"`
	Classes        []string   `toml:"classes"`
	SplitRatios    []float64  `toml:"split_ratios"`
	Seed           int64      `toml:"seed"`
	Pretrained     string     `toml:"pretrained"`
	FreezeBackbone bool       `toml:"freeze_backbone"`
	Transforms     Transforms `toml:"transforms"`
	Training       Training   `toml:"training"`
}

// Weather contains configuration for the rain prediction pipeline.
type Weather struct {
	CSVPath     string    `toml:"csv_path"`
	Features    []string  `toml:"features"`
	Target      string    `toml:"target"`
	HiddenSizes []int64   `toml:"hidden_sizes"`
	SplitRatios []float64 `toml:"split_ratios"`
	Seed        int64     `toml:"seed"`
	Training    Training  `toml:"training"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for trellis.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Signs   Signs   `toml:"signs"`
	Weather Weather `toml:"weather"`
	Logging Logging `toml:"logging"`
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file was actually found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("trellis.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return projectPath, false, nil
}

// EnsureDirectories creates the output directories training runs write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.CheckpointDir, c.Paths.ChartDir, filepath.Dir(c.Paths.RunDB)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
