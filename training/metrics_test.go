package training

import (
	"math"
	"strings"
	"testing"
)

func filledMatrix(t *testing.T) *ConfusionMatrix {
	t.Helper()
	cm, err := NewConfusionMatrix(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updates := []struct {
		trueClass, predClass, count int
	}{
		{0, 0, 5}, {0, 1, 1},
		{1, 0, 2}, {1, 1, 3},
		{2, 0, 1}, {2, 1, 1}, {2, 2, 4},
	}
	for _, u := range updates {
		for i := 0; i < u.count; i++ {
			if err := cm.Update(u.trueClass, u.predClass); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}
	return cm
}

func TestConfusionMatrixMetrics(t *testing.T) {
	cm := filledMatrix(t)

	if cm.Total() != 17 {
		t.Fatalf("expected 17 samples, got %d", cm.Total())
	}
	if math.Abs(cm.Accuracy()-12.0/17.0) > 1e-9 {
		t.Errorf("expected accuracy %.5f, got %.5f", 12.0/17.0, cm.Accuracy())
	}

	tests := []struct {
		class     int
		precision float64
		recall    float64
		f1        float64
		support   int
	}{
		{0, 0.625, 5.0 / 6.0, 0.714286, 6},
		{1, 0.6, 0.6, 0.6, 5},
		{2, 1.0, 4.0 / 6.0, 0.8, 6},
	}
	for _, tt := range tests {
		if got := cm.Precision(tt.class); math.Abs(got-tt.precision) > 1e-5 {
			t.Errorf("class %d: expected precision %.5f, got %.5f", tt.class, tt.precision, got)
		}
		if got := cm.Recall(tt.class); math.Abs(got-tt.recall) > 1e-5 {
			t.Errorf("class %d: expected recall %.5f, got %.5f", tt.class, tt.recall, got)
		}
		if got := cm.F1(tt.class); math.Abs(got-tt.f1) > 1e-5 {
			t.Errorf("class %d: expected F1 %.5f, got %.5f", tt.class, tt.f1, got)
		}
		if got := cm.Support(tt.class); got != tt.support {
			t.Errorf("class %d: expected support %d, got %d", tt.class, tt.support, got)
		}
	}

	if got := cm.MacroF1(); math.Abs(got-0.704762) > 1e-5 {
		t.Errorf("expected macro F1 0.70476, got %.5f", got)
	}
	if got := cm.WeightedF1(); math.Abs(got-0.710924) > 1e-5 {
		t.Errorf("expected weighted F1 0.71092, got %.5f", got)
	}
}

func TestConfusionMatrixValidation(t *testing.T) {
	if _, err := NewConfusionMatrix(1); err == nil {
		t.Errorf("expected error for single class, got nil")
	}

	cm, err := NewConfusionMatrix(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cm.Update(2, 0); err == nil {
		t.Errorf("expected error for out-of-range true class, got nil")
	}
	if err := cm.Update(0, -1); err == nil {
		t.Errorf("expected error for out-of-range predicted class, got nil")
	}
	if cm.Accuracy() != 0 {
		t.Errorf("empty matrix accuracy should be 0, got %v", cm.Accuracy())
	}
}

func TestUpdateFromPredictionsArgmax(t *testing.T) {
	cm, err := NewConfusionMatrix(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	predictions := []float32{
		0.8, 0.1, 0.1,
		0.2, 0.7, 0.1,
		0.3, 0.3, 0.4,
		0.6, 0.3, 0.1,
	}
	labels := []int32{0, 1, 2, 1}
	if err := cm.UpdateFromPredictions(predictions, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cm.Total() != 4 {
		t.Errorf("expected 4 samples, got %d", cm.Total())
	}
	if math.Abs(cm.Accuracy()-0.75) > 1e-9 {
		t.Errorf("expected accuracy 0.75, got %v", cm.Accuracy())
	}
	if cm.Matrix[1][0] != 1 {
		t.Errorf("expected one class-1 sample predicted as 0, got %d", cm.Matrix[1][0])
	}
}

func TestUpdateFromPredictionsBinary(t *testing.T) {
	cm, err := NewConfusionMatrix(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	predictions := []float32{0.9, 0.2, 0.6}
	labels := []int32{1, 0, 0}
	if err := cm.UpdateFromPredictions(predictions, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cm.Matrix[1][1] != 1 || cm.Matrix[0][0] != 1 || cm.Matrix[0][1] != 1 {
		t.Errorf("unexpected matrix contents: %v", cm.Matrix)
	}

	three, err := NewConfusionMatrix(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := three.UpdateFromPredictions(predictions, labels); err == nil {
		t.Errorf("expected error for single probabilities with 3 classes, got nil")
	}

	if err := cm.UpdateFromPredictions([]float32{0.5}, []int32{0, 1}); err == nil {
		t.Errorf("expected error for mismatched prediction length, got nil")
	}
}

func TestClassificationReport(t *testing.T) {
	cm := filledMatrix(t)
	report, err := BuildClassificationReport(cm, []string{"stop", "yield", "no_entry"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Total != 17 {
		t.Errorf("expected total 17, got %d", report.Total)
	}
	if math.Abs(report.Accuracy-12.0/17.0) > 1e-9 {
		t.Errorf("expected accuracy %.5f, got %.5f", 12.0/17.0, report.Accuracy)
	}
	if math.Abs(report.Macro.Precision-0.741667) > 1e-5 {
		t.Errorf("expected macro precision 0.74167, got %.5f", report.Macro.Precision)
	}
	if math.Abs(report.Weighted.Precision-0.75) > 1e-5 {
		t.Errorf("expected weighted precision 0.75, got %.5f", report.Weighted.Precision)
	}
	if report.Classes[2].Name != "no_entry" {
		t.Errorf("expected class name no_entry, got %s", report.Classes[2].Name)
	}

	rendered := report.Render()
	for _, want := range []string{"Class", "stop", "yield", "no_entry", "macro avg", "weighted avg", "accuracy"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}

func TestClassificationReportValidation(t *testing.T) {
	cm, err := NewConfusionMatrix(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := BuildClassificationReport(cm, nil); err == nil {
		t.Errorf("expected error for empty matrix, got nil")
	}

	if err := cm.Update(0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := BuildClassificationReport(cm, []string{"only_one"}); err == nil {
		t.Errorf("expected error for wrong class name count, got nil")
	}
}

func TestBinaryScoresAUC(t *testing.T) {
	scores := NewBinaryScores()
	scores.Add(0.1, false)
	scores.Add(0.4, false)
	scores.Add(0.35, true)
	scores.Add(0.8, true)

	auc, err := scores.AUC()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(auc-0.75) > 1e-9 {
		t.Errorf("expected AUC 0.75, got %v", auc)
	}
}

func TestBinaryScoresAUCWithTies(t *testing.T) {
	scores := NewBinaryScores()
	scores.Add(0.5, true)
	scores.Add(0.5, false)

	auc, err := scores.AUC()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(auc-0.5) > 1e-9 {
		t.Errorf("tied scores should give AUC 0.5, got %v", auc)
	}
}

func TestBinaryScoresAUCValidation(t *testing.T) {
	scores := NewBinaryScores()
	scores.Add(0.9, true)
	scores.Add(0.8, true)
	if _, err := scores.AUC(); err == nil {
		t.Errorf("expected error without negative samples, got nil")
	}
	if scores.Len() != 2 {
		t.Errorf("expected 2 recorded scores, got %d", scores.Len())
	}
}
