package training

import (
	"fmt"
	"sort"
)

// ConfusionMatrix accumulates classification outcomes as counts indexed by
// [trueClass][predictedClass].
type ConfusionMatrix struct {
	NumClasses int
	Matrix     [][]int
	total      int
}

func NewConfusionMatrix(numClasses int) (*ConfusionMatrix, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("confusion matrix needs at least 2 classes, got %d", numClasses)
	}
	m := make([][]int, numClasses)
	for i := range m {
		m[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: m}, nil
}

// Update records one outcome.
func (cm *ConfusionMatrix) Update(trueClass, predictedClass int) error {
	if trueClass < 0 || trueClass >= cm.NumClasses {
		return fmt.Errorf("true class %d out of range [0, %d)", trueClass, cm.NumClasses)
	}
	if predictedClass < 0 || predictedClass >= cm.NumClasses {
		return fmt.Errorf("predicted class %d out of range [0, %d)", predictedClass, cm.NumClasses)
	}
	cm.Matrix[trueClass][predictedClass]++
	cm.total++
	return nil
}

// UpdateFromPredictions records a batch of model outputs. Two layouts are
// accepted: per-class scores (len = len(labels) * NumClasses, argmax wins)
// and single binary probabilities (len = len(labels), threshold 0.5, only
// for 2-class matrices).
func (cm *ConfusionMatrix) UpdateFromPredictions(predictions []float32, trueLabels []int32) error {
	n := len(trueLabels)
	if n == 0 {
		return fmt.Errorf("no labels provided")
	}
	switch len(predictions) {
	case n * cm.NumClasses:
		for i := 0; i < n; i++ {
			row := predictions[i*cm.NumClasses : (i+1)*cm.NumClasses]
			best := 0
			for c := 1; c < cm.NumClasses; c++ {
				if row[c] > row[best] {
					best = c
				}
			}
			if err := cm.Update(int(trueLabels[i]), best); err != nil {
				return err
			}
		}
	case n:
		if cm.NumClasses != 2 {
			return fmt.Errorf("single-probability predictions require a 2-class matrix, have %d classes", cm.NumClasses)
		}
		for i := 0; i < n; i++ {
			pred := 0
			if predictions[i] > 0.5 {
				pred = 1
			}
			if err := cm.Update(int(trueLabels[i]), pred); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("prediction length %d does not match %d labels with %d classes",
			len(predictions), n, cm.NumClasses)
	}
	return nil
}

// Total returns the number of recorded outcomes.
func (cm *ConfusionMatrix) Total() int { return cm.total }

// Accuracy is the fraction of outcomes on the diagonal.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.total == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.total)
}

// Support returns the number of true samples of a class.
func (cm *ConfusionMatrix) Support(class int) int {
	if class < 0 || class >= cm.NumClasses {
		return 0
	}
	sum := 0
	for _, v := range cm.Matrix[class] {
		sum += v
	}
	return sum
}

// Precision is TP / (TP + FP) for one class; 0 when the class was never
// predicted.
func (cm *ConfusionMatrix) Precision(class int) float64 {
	if class < 0 || class >= cm.NumClasses {
		return 0
	}
	predicted := 0
	for t := 0; t < cm.NumClasses; t++ {
		predicted += cm.Matrix[t][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(predicted)
}

// Recall is TP / (TP + FN) for one class; 0 when the class has no samples.
func (cm *ConfusionMatrix) Recall(class int) float64 {
	support := cm.Support(class)
	if support == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(support)
}

// F1 is the harmonic mean of precision and recall for one class.
func (cm *ConfusionMatrix) F1(class int) float64 {
	p, r := cm.Precision(class), cm.Recall(class)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// MacroF1 averages per-class F1 scores with equal class weight.
func (cm *ConfusionMatrix) MacroF1() float64 {
	sum := 0.0
	for c := 0; c < cm.NumClasses; c++ {
		sum += cm.F1(c)
	}
	return sum / float64(cm.NumClasses)
}

// WeightedF1 averages per-class F1 scores weighted by support.
func (cm *ConfusionMatrix) WeightedF1() float64 {
	if cm.total == 0 {
		return 0
	}
	sum := 0.0
	for c := 0; c < cm.NumClasses; c++ {
		sum += cm.F1(c) * float64(cm.Support(c))
	}
	return sum / float64(cm.total)
}

// BinaryScores accumulates scored binary outcomes for ROC analysis.
type BinaryScores struct {
	scores    []float64
	positives []bool
}

func NewBinaryScores() *BinaryScores { return &BinaryScores{} }

// Add records one scored outcome.
func (b *BinaryScores) Add(score float64, positive bool) {
	b.scores = append(b.scores, score)
	b.positives = append(b.positives, positive)
}

// Len returns the number of recorded outcomes.
func (b *BinaryScores) Len() int { return len(b.scores) }

// AUC computes the area under the ROC curve using the rank-sum formulation,
// with average ranks for tied scores.
func (b *BinaryScores) AUC() (float64, error) {
	nPos, nNeg := 0, 0
	for _, p := range b.positives {
		if p {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0, fmt.Errorf("auc requires both positive and negative samples (have %d and %d)", nPos, nNeg)
	}

	type scored struct {
		score    float64
		positive bool
	}
	items := make([]scored, len(b.scores))
	for i := range b.scores {
		items[i] = scored{b.scores[i], b.positives[i]}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score < items[j].score })

	rankSum := 0.0
	i := 0
	for i < len(items) {
		j := i
		for j < len(items) && items[j].score == items[i].score {
			j++
		}
		// Average rank over the tie group (1-based ranks).
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if items[k].positive {
				rankSum += avgRank
			}
		}
		i = j
	}
	return (rankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg)), nil
}
