package signs

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"trellis/charts"
	"trellis/tensor"
	"trellis/vision/models"
	"trellis/vision/preprocessing"
)

// Prediction is the model's verdict on a single image.
type Prediction struct {
	Class         string
	Confidence    float32
	Probabilities []float32
	ClassNames    []string
	ChartPath     string
}

// Predict classifies one image with a stored checkpoint and renders its
// per-class confidence chart.
func (p *Pipeline) Predict(checkpointPath, imagePath string) (*Prediction, error) {
	model, spec, err := models.LoadPretrained(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	numClasses := spec.OutputShape[len(spec.OutputShape)-1]

	// Class subdirectories are indexed in sorted order during training,
	// so label names follow the same order here.
	classNames := append([]string(nil), p.cfg.Signs.Classes...)
	sort.Strings(classNames)
	if len(classNames) != numClasses {
		return nil, fmt.Errorf("model predicts %d classes but signs.classes names %d", numClasses, len(classNames))
	}

	evalPipe, err := preprocessing.EvalPipeline(p.transformConfig())
	if err != nil {
		return nil, fmt.Errorf("build eval pipeline: %w", err)
	}
	sample, err := evalPipe.ProcessFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("preprocess %s: %w", imagePath, err)
	}
	batch, err := sample.Reshape(append([]int{1}, sample.Shape...))
	if err != nil {
		return nil, err
	}

	model.Eval()
	prev := tensor.GradEnabled()
	tensor.SetGradEnabled(false)
	logits, err := model.Forward(batch)
	tensor.SetGradEnabled(prev)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	probs, err := tensor.Softmax(logits)
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}
	probData, err := probs.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	best := 0
	for c := 1; c < len(probData); c++ {
		if probData[c] > probData[best] {
			best = c
		}
	}

	stem := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	chartPath := filepath.Join(p.cfg.Paths.ChartDir, fmt.Sprintf("confidence-%s.png", stem))
	if err := charts.SaveConfidenceBars(probData, classNames, chartPath); err != nil {
		return nil, fmt.Errorf("confidence chart: %w", err)
	}

	p.log.Info("image classified",
		"image", imagePath,
		"class", classNames[best],
		"confidence", probData[best])
	return &Prediction{
		Class:         classNames[best],
		Confidence:    probData[best],
		Probabilities: probData,
		ClassNames:    classNames,
		ChartPath:     chartPath,
	}, nil
}
