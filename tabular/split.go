package tabular

import (
	"fmt"
	"math"
	"math/rand"

	"trellis/tensor"
)

// Split is one partition of a table.
type Split struct {
	Features [][]float32
	Labels   []float32
}

func (s *Split) Len() int { return len(s.Features) }

// Tensors collates the split into a [N, F] Float32 feature tensor and a
// [N] Float32 label vector.
func (s *Split) Tensors() (*tensor.Tensor, *tensor.Tensor, error) {
	if s.Len() == 0 {
		return nil, nil, fmt.Errorf("split is empty")
	}
	cols := len(s.Features[0])
	x, err := tensor.NewTensor([]int{s.Len(), cols}, tensor.Float32, nil)
	if err != nil {
		return nil, nil, err
	}
	xData := x.Data.([]float32)
	for r, row := range s.Features {
		if len(row) != cols {
			return nil, nil, fmt.Errorf("row %d has %d columns, expected %d", r, len(row), cols)
		}
		copy(xData[r*cols:(r+1)*cols], row)
	}

	y, err := tensor.NewTensor([]int{s.Len()}, tensor.Float32, nil)
	if err != nil {
		return nil, nil, err
	}
	copy(y.Data.([]float32), s.Labels)
	return x, y, nil
}

// TrainValTestSplit shuffles the table with the seed and partitions it by
// the given ratios, which must be non-negative and sum to 1. The train
// partition always receives at least one row.
func TrainValTestSplit(t *Table, ratios [3]float64, seed int64) (train, val, test *Split, err error) {
	if t == nil || t.Len() == 0 {
		return nil, nil, nil, fmt.Errorf("table is empty")
	}
	sum := 0.0
	for i, r := range ratios {
		if r < 0 {
			return nil, nil, nil, fmt.Errorf("split ratio %d is negative: %g", i, r)
		}
		sum += r
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, nil, nil, fmt.Errorf("split ratios must sum to 1, got %g", sum)
	}

	n := t.Len()
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	nVal := int(float64(n) * ratios[1])
	nTest := int(float64(n) * ratios[2])
	nTrain := n - nVal - nTest
	if nTrain < 1 {
		return nil, nil, nil, fmt.Errorf("train split is empty with %d rows and ratios %v", n, ratios)
	}

	take := func(indices []int) *Split {
		s := &Split{
			Features: make([][]float32, len(indices)),
			Labels:   make([]float32, len(indices)),
		}
		for i, idx := range indices {
			s.Features[i] = t.Features[idx]
			s.Labels[i] = t.Labels[idx]
		}
		return s
	}

	train = take(perm[:nTrain])
	val = take(perm[nTrain : nTrain+nVal])
	test = take(perm[nTrain+nVal:])
	return train, val, test, nil
}
