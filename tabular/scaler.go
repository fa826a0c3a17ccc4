package tabular

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each feature column to zero mean and unit
// variance. Fit on the training split only, then apply to every split.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// Fit computes per-column mean and population standard deviation.
// Zero-variance columns get a standard deviation of 1 so constant
// features pass through centered instead of dividing by zero.
func (s *StandardScaler) Fit(rows [][]float32) error {
	if len(rows) == 0 {
		return fmt.Errorf("cannot fit scaler on empty data")
	}
	cols := len(rows[0])
	s.Mean = make([]float64, cols)
	s.Std = make([]float64, cols)

	column := make([]float64, len(rows))
	for c := 0; c < cols; c++ {
		for r, row := range rows {
			if len(row) != cols {
				return fmt.Errorf("row %d has %d columns, expected %d", r, len(row), cols)
			}
			column[r] = float64(row[c])
		}
		s.Mean[c] = stat.Mean(column, nil)
		s.Std[c] = stat.PopStdDev(column, nil)
		if s.Std[c] == 0 {
			s.Std[c] = 1
		}
	}
	return nil
}

// Transform standardizes rows in place using the fitted statistics.
func (s *StandardScaler) Transform(rows [][]float32) error {
	if len(s.Mean) == 0 {
		return fmt.Errorf("scaler is not fitted")
	}
	for r, row := range rows {
		if len(row) != len(s.Mean) {
			return fmt.Errorf("row %d has %d columns, scaler fitted on %d", r, len(row), len(s.Mean))
		}
		for c := range row {
			row[c] = float32((float64(row[c]) - s.Mean[c]) / s.Std[c])
		}
	}
	return nil
}

// FitTransform fits on rows and standardizes them in one step.
func (s *StandardScaler) FitTransform(rows [][]float32) error {
	if err := s.Fit(rows); err != nil {
		return err
	}
	return s.Transform(rows)
}
