package charts

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"trellis/training"
)

// confusionGrid adapts a confusion matrix to plotter.GridXYZ. Rows are
// true classes, columns predicted classes; row 0 is drawn at the top by
// inverting the Y coordinate.
type confusionGrid struct {
	cm *training.ConfusionMatrix
}

func (g confusionGrid) Dims() (int, int) { return g.cm.NumClasses, g.cm.NumClasses }

func (g confusionGrid) Z(c, r int) float64 {
	trueClass := g.cm.NumClasses - 1 - r
	return float64(g.cm.Matrix[trueClass][c])
}

func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// SaveConfusionHeatmap renders a confusion matrix as an annotated
// heatmap with class names on both axes.
func SaveConfusionHeatmap(cm *training.ConfusionMatrix, classNames []string, path string) error {
	if cm == nil || cm.NumClasses == 0 {
		return fmt.Errorf("confusion matrix is empty")
	}
	if classNames != nil && len(classNames) != cm.NumClasses {
		return fmt.Errorf("have %d class names for %d classes", len(classNames), cm.NumClasses)
	}

	p := plot.New()
	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	heatmap := plotter.NewHeatMap(confusionGrid{cm: cm}, moreland.SmoothBlueRed().Palette(255))
	p.Add(heatmap)

	name := func(i int) string {
		if classNames != nil {
			return classNames[i]
		}
		return fmt.Sprintf("%d", i)
	}

	xTicks := make([]plot.Tick, cm.NumClasses)
	yTicks := make([]plot.Tick, cm.NumClasses)
	for i := 0; i < cm.NumClasses; i++ {
		xTicks[i] = plot.Tick{Value: float64(i), Label: name(i)}
		yTicks[i] = plot.Tick{Value: float64(cm.NumClasses - 1 - i), Label: name(i)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)

	// Annotate each cell with its count.
	labels := plotter.XYLabels{}
	for trueClass := 0; trueClass < cm.NumClasses; trueClass++ {
		for pred := 0; pred < cm.NumClasses; pred++ {
			labels.XYs = append(labels.XYs, plotter.XY{
				X: float64(pred),
				Y: float64(cm.NumClasses - 1 - trueClass),
			})
			labels.Labels = append(labels.Labels, fmt.Sprintf("%d", cm.Matrix[trueClass][pred]))
		}
	}
	cellLabels, err := plotter.NewLabels(labels)
	if err != nil {
		return fmt.Errorf("cell labels: %w", err)
	}
	for i := range cellLabels.TextStyle {
		cellLabels.TextStyle[i].Color = color.Gray{Y: 240}
	}
	p.Add(cellLabels)

	side := vg.Length(cm.NumClasses) * vg.Inch
	if side < 4*vg.Inch {
		side = 4 * vg.Inch
	}
	if err := p.Save(side, side, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
