package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSigns(); err != nil {
		return err
	}
	if err := c.validateWeather(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSigns() error {
	if len(c.Signs.Classes) < 2 {
		return errors.New("signs.classes must name at least 2 classes")
	}
	if err := validateRatios("signs.split_ratios", c.Signs.SplitRatios); err != nil {
		return err
	}
	t := c.Signs.Transforms
	if t.ResizeTo < 1 {
		return fmt.Errorf("signs.transforms.resize_to must be positive, got %d", t.ResizeTo)
	}
	if t.CropTo < 1 || t.CropTo > t.ResizeTo {
		return fmt.Errorf("signs.transforms.crop_to must be in [1, resize_to], got %d", t.CropTo)
	}
	if t.FlipProb < 0 || t.FlipProb > 1 {
		return fmt.Errorf("signs.transforms.flip_prob must be in [0, 1], got %v", t.FlipProb)
	}
	if t.MaxRotation < 0 {
		return fmt.Errorf("signs.transforms.max_rotation must be non-negative, got %v", t.MaxRotation)
	}
	if len(t.Mean) != 3 || len(t.Std) != 3 {
		return errors.New("signs.transforms.mean and std must each list 3 channel values")
	}
	for i, s := range t.Std {
		if s == 0 {
			return fmt.Errorf("signs.transforms.std[%d] must be non-zero", i)
		}
	}
	if err := validateTraining("signs", c.Signs.Training); err != nil {
		return err
	}
	if c.Signs.Training.StepSize < 0 {
		return errors.New("signs.training.step_size must be non-negative")
	}
	if c.Signs.Training.Gamma <= 0 || c.Signs.Training.Gamma > 1 {
		return fmt.Errorf("signs.training.gamma must be in (0, 1], got %v", c.Signs.Training.Gamma)
	}
	return nil
}

func (c *Config) validateWeather() error {
	if len(c.Weather.Features) == 0 {
		return errors.New("weather.features must name at least one column")
	}
	if c.Weather.Target == "" {
		return errors.New("weather.target must be set")
	}
	if len(c.Weather.HiddenSizes) == 0 {
		return errors.New("weather.hidden_sizes must list at least one layer width")
	}
	for i, h := range c.Weather.HiddenSizes {
		if h < 1 {
			return fmt.Errorf("weather.hidden_sizes[%d] must be positive, got %d", i, h)
		}
	}
	if err := validateRatios("weather.split_ratios", c.Weather.SplitRatios); err != nil {
		return err
	}
	return validateTraining("weather", c.Weather.Training)
}

func validateRatios(field string, ratios []float64) error {
	if len(ratios) != 3 {
		return fmt.Errorf("%s must list exactly 3 values (train, val, test)", field)
	}
	sum := 0.0
	for _, r := range ratios {
		if r < 0 {
			return fmt.Errorf("%s values must be non-negative", field)
		}
		sum += r
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%s must sum to 1, got %v", field, sum)
	}
	if ratios[0] <= 0 {
		return fmt.Errorf("%s train ratio must be positive", field)
	}
	return nil
}

func validateTraining(section string, t Training) error {
	if t.Epochs <= 0 {
		return fmt.Errorf("%s.training.epochs must be positive, got %d", section, t.Epochs)
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("%s.training.batch_size must be positive, got %d", section, t.BatchSize)
	}
	if t.LearningRate <= 0 {
		return fmt.Errorf("%s.training.learning_rate must be positive, got %v", section, t.LearningRate)
	}
	if t.Momentum < 0 || t.Momentum >= 1 {
		return fmt.Errorf("%s.training.momentum must be in [0, 1), got %v", section, t.Momentum)
	}
	if t.WeightDecay < 0 {
		return fmt.Errorf("%s.training.weight_decay must be non-negative, got %v", section, t.WeightDecay)
	}
	return nil
}
