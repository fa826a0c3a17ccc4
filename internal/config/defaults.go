package config

const (
	defaultCheckpointDir = "~/.local/share/trellis/checkpoints"
	defaultChartDir      = "~/.local/share/trellis/charts"
	defaultRunDB         = "~/.local/share/trellis/runs.db"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"

	defaultResizeTo    = 72
	defaultCropTo      = 64
	defaultFlipProb    = 0.5
	defaultMaxRotation = 10.0

	defaultSignsEpochs      = 25
	defaultSignsBatchSize   = 32
	defaultSignsLR          = 0.001
	defaultSignsMomentum    = 0.9
	defaultSignsStepSize    = 7
	defaultSignsGamma       = 0.1
	defaultSignsWorkers     = 4
	defaultSignsCacheSize   = 2048
	defaultWeatherEpochs    = 50
	defaultWeatherBatchSize = 32
	defaultWeatherLR        = 0.001

	defaultSeed = 42
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CheckpointDir: defaultCheckpointDir,
			ChartDir:      defaultChartDir,
			RunDB:         defaultRunDB,
		},
		Signs: Signs{
			Classes:     []string{"give_way", "no_entry", "priority_road", "stop"},
			SplitRatios: []float64{0.8, 0.1, 0.1},
			Seed:        defaultSeed,
			Transforms: Transforms{
				ResizeTo:    defaultResizeTo,
				CropTo:      defaultCropTo,
				FlipProb:    defaultFlipProb,
				MaxRotation: defaultMaxRotation,
				Mean:        []float64{0.485, 0.456, 0.406},
				Std:         []float64{0.229, 0.224, 0.225},
			},
			Training: Training{
				Epochs:       defaultSignsEpochs,
				BatchSize:    defaultSignsBatchSize,
				LearningRate: defaultSignsLR,
				Momentum:     defaultSignsMomentum,
				StepSize:     defaultSignsStepSize,
				Gamma:        defaultSignsGamma,
				Workers:      defaultSignsWorkers,
				CacheSize:    defaultSignsCacheSize,
			},
		},
		Weather: Weather{
			Features:    []string{"Rainfall", "Humidity3pm", "Pressure9am", "RainToday"},
			Target:      "RainTomorrow",
			HiddenSizes: []int64{5, 3},
			SplitRatios: []float64{0.8, 0.1, 0.1},
			Seed:        defaultSeed,
			Training: Training{
				Epochs:       defaultWeatherEpochs,
				BatchSize:    defaultWeatherBatchSize,
				LearningRate: defaultWeatherLR,
			},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
