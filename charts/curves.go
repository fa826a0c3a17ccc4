// Package charts renders training reports as PNG files with gonum/plot.
package charts

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"trellis/training"
)

var (
	trainColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	valColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// SaveLossCurves plots training and validation loss per epoch.
func SaveLossCurves(history *training.History, path string) error {
	return saveCurves(history.TrainLosses(), history.ValLosses(), "Loss", path)
}

// SaveAccuracyCurves plots training and validation accuracy per epoch.
func SaveAccuracyCurves(history *training.History, path string) error {
	return saveCurves(history.TrainAccuracies(), history.ValAccuracies(), "Accuracy", path)
}

func saveCurves(train, val []float64, metric, path string) error {
	if len(train) == 0 {
		return fmt.Errorf("no epochs recorded")
	}

	p := plot.New()
	p.Title.Text = metric + " per epoch"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = metric
	p.Legend.Top = true

	trainLine, err := plotter.NewLine(epochPoints(train))
	if err != nil {
		return fmt.Errorf("train line: %w", err)
	}
	trainLine.Color = trainColor
	p.Add(trainLine)
	p.Legend.Add("train", trainLine)

	if len(val) == len(train) {
		valLine, err := plotter.NewLine(epochPoints(val))
		if err != nil {
			return fmt.Errorf("validation line: %w", err)
		}
		valLine.Color = valColor
		valLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(valLine)
		p.Legend.Add("val", valLine)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func epochPoints(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}
