package training

import (
	"testing"

	"trellis/tensor"
)

func TestTensorDatasetGet(t *testing.T) {
	x := mustFloats(t, []int{4, 2}, []float32{0, 1, 2, 3, 4, 5, 6, 7})
	y := mustInts(t, []int{4}, []int32{0, 1, 0, 1})

	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Len() != 4 {
		t.Errorf("expected length 4, got %d", ds.Len())
	}

	data, label, err := ds.Get(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := data.GetFloat32Data()
	assertFloats(t, "sample 2", got, []float32{4, 5}, 0)
	labels, _ := label.GetInt32Data()
	if len(labels) != 1 || labels[0] != 0 {
		t.Errorf("expected label [0], got %v", labels)
	}

	if _, _, err := ds.Get(10); err == nil {
		t.Errorf("expected error for out-of-range index, got nil")
	}
}

func TestTensorDatasetValidation(t *testing.T) {
	x := mustFloats(t, []int{4, 2}, make([]float32, 8))
	y := mustInts(t, []int{3}, []int32{0, 1, 0})
	if _, err := NewTensorDataset(x, y); err == nil {
		t.Errorf("expected error for mismatched sample counts, got nil")
	}
}

func TestDataLoaderBatches(t *testing.T) {
	x := mustFloats(t, []int{4, 2}, []float32{0, 1, 2, 3, 4, 5, 6, 7})
	y := mustInts(t, []int{4}, []int32{0, 1, 0, 1})
	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loader, err := NewDataLoader(ds, 2, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loader.Len() != 2 {
		t.Errorf("expected 2 batches, got %d", loader.Len())
	}

	batch, err := loader.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Size != 2 {
		t.Errorf("expected batch size 2, got %d", batch.Size)
	}
	if batch.Data.Shape[0] != 2 || batch.Data.Shape[1] != 2 {
		t.Errorf("expected data shape [2 2], got %v", batch.Data.Shape)
	}
	if len(batch.Labels.Shape) != 1 || batch.Labels.Shape[0] != 2 {
		t.Errorf("expected labels shape [2], got %v", batch.Labels.Shape)
	}
	got, _ := batch.Data.GetFloat32Data()
	assertFloats(t, "first batch", got, []float32{0, 1, 2, 3}, 0)
	labels, _ := batch.Labels.GetInt32Data()
	if labels[0] != 0 || labels[1] != 1 {
		t.Errorf("expected labels [0 1], got %v", labels)
	}

	if !loader.HasNext() {
		t.Fatalf("expected a second batch")
	}
	if _, err := loader.Next(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loader.HasNext() {
		t.Errorf("expected epoch to be exhausted")
	}
	if _, err := loader.Next(); err == nil {
		t.Errorf("expected error after exhaustion, got nil")
	}
}

func TestDataLoaderPartialFinalBatch(t *testing.T) {
	x := mustFloats(t, []int{5, 1}, []float32{0, 1, 2, 3, 4})
	y := mustInts(t, []int{5}, []int32{0, 0, 0, 0, 0})
	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loader, err := NewDataLoader(ds, 3, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loader.Len() != 2 {
		t.Errorf("expected 2 batches, got %d", loader.Len())
	}

	sizes := []int{}
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sizes = append(sizes, batch.Size)
	}
	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 2 {
		t.Errorf("expected batch sizes [3 2], got %v", sizes)
	}
}

func TestDataLoaderShuffleDeterminism(t *testing.T) {
	n := 20
	xData := make([]float32, n)
	yData := make([]int32, n)
	for i := 0; i < n; i++ {
		xData[i] = float32(i)
		yData[i] = int32(i)
	}

	collect := func(seed int64) []int32 {
		x := mustFloats(t, []int{n, 1}, append([]float32(nil), xData...))
		y := mustInts(t, []int{n}, append([]int32(nil), yData...))
		ds, err := NewTensorDataset(x, y)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		loader, err := NewDataLoader(ds, 4, true, seed)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var order []int32
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			labels, _ := batch.Labels.GetInt32Data()
			order = append(order, labels...)
		}
		return order
	}

	first := collect(42)
	second := collect(42)
	if len(first) != n || len(second) != n {
		t.Fatalf("expected %d samples per epoch, got %d and %d", n, len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed should give the same order: index %d differs (%d vs %d)", i, first[i], second[i])
		}
	}

	// Every sample appears exactly once per epoch.
	seen := make(map[int32]bool, n)
	for _, v := range first {
		if seen[v] {
			t.Fatalf("sample %d appeared twice in one epoch", v)
		}
		seen[v] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct samples, got %d", n, len(seen))
	}
}

func TestDataLoaderResetReshuffles(t *testing.T) {
	x := mustFloats(t, []int{6, 1}, []float32{0, 1, 2, 3, 4, 5})
	y := mustInts(t, []int{6}, []int32{0, 1, 2, 3, 4, 5})
	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loader, err := NewDataLoader(ds, 2, true, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for epoch := 0; epoch < 3; epoch++ {
		seen := make(map[int32]bool)
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			labels, _ := batch.Labels.GetInt32Data()
			for _, v := range labels {
				seen[v] = true
			}
		}
		if len(seen) != 6 {
			t.Errorf("epoch %d: expected all 6 samples, got %d", epoch, len(seen))
		}
		loader.Reset()
	}
}

func TestDataLoaderValidation(t *testing.T) {
	x := mustFloats(t, []int{2, 1}, []float32{0, 1})
	y := mustInts(t, []int{2}, []int32{0, 1})
	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewDataLoader(ds, 0, false, 0); err == nil {
		t.Errorf("expected error for zero batch size, got nil")
	}
	if _, err := NewDataLoader(nil, 2, false, 0); err == nil {
		t.Errorf("expected error for nil dataset, got nil")
	}
}

func TestIteratorStreamsOneEpoch(t *testing.T) {
	x := mustFloats(t, []int{5, 2}, make([]float32, 10))
	y := mustInts(t, []int{5}, []int32{0, 1, 0, 1, 0})
	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loader, err := NewDataLoader(ds, 2, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches, samples := 0, 0
	for batch := range loader.Iterator() {
		batches++
		samples += batch.Size
	}
	if batches != 3 {
		t.Errorf("expected 3 batches, got %d", batches)
	}
	if samples != 5 {
		t.Errorf("expected 5 samples, got %d", samples)
	}

	// A second iteration resets and replays the epoch.
	samples = 0
	for batch := range loader.Iterator() {
		samples += batch.Size
	}
	if samples != 5 {
		t.Errorf("expected 5 samples on second pass, got %d", samples)
	}
}

func TestBatchSourceInterface(t *testing.T) {
	x := mustFloats(t, []int{2, 1}, []float32{0, 1})
	y := mustInts(t, []int{2}, []int32{0, 1})
	ds, err := NewTensorDataset(x, y)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loader, err := NewDataLoader(ds, 1, false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var _ BatchSource = loader

	var src BatchSource = loader
	total := 0
	for src.HasNext() {
		batch, err := src.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.Data.DType != tensor.Float32 {
			t.Errorf("expected float32 batch data, got %s", batch.Data.DType)
		}
		total += batch.Size
	}
	if total != 2 {
		t.Errorf("expected 2 samples total, got %d", total)
	}
}
