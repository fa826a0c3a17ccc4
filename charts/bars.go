package charts

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveConfidenceBars renders per-class probabilities for a single
// prediction as a bar chart.
func SaveConfidenceBars(probabilities []float32, classNames []string, path string) error {
	if len(probabilities) == 0 {
		return fmt.Errorf("no probabilities to plot")
	}
	if classNames != nil && len(classNames) != len(probabilities) {
		return fmt.Errorf("have %d class names for %d probabilities", len(classNames), len(probabilities))
	}

	p := plot.New()
	p.Title.Text = "Class confidence"
	p.Y.Label.Text = "Probability"
	p.Y.Min = 0
	p.Y.Max = 1

	values := make(plotter.Values, len(probabilities))
	for i, v := range probabilities {
		values[i] = float64(v)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = trainColor
	bars.LineStyle.Width = 0
	p.Add(bars)

	names := classNames
	if names == nil {
		names = make([]string, len(probabilities))
		for i := range names {
			names[i] = fmt.Sprintf("%d", i)
		}
	}
	p.NominalX(names...)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
