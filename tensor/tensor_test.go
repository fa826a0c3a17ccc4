package tensor

import (
	"testing"
)

func TestNewTensor(t *testing.T) {
	tests := []struct {
		name      string
		shape     []int
		dtype     DType
		data      interface{}
		expectErr bool
	}{
		{"zero-filled float32", []int{2, 3}, Float32, nil, false},
		{"zero-filled int32", []int{4}, Int32, nil, false},
		{"with matching data", []int{2, 2}, Float32, []float32{1, 2, 3, 4}, false},
		{"empty shape", []int{}, Float32, nil, true},
		{"negative dimension", []int{2, -1}, Float32, nil, true},
		{"zero dimension", []int{2, 0}, Float32, nil, true},
		{"data length mismatch", []int{2, 2}, Float32, []float32{1, 2}, true},
		{"data type mismatch", []int{2}, Float32, []int32{1, 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := NewTensor(tt.shape, tt.dtype, tt.data)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tensor.NumElems != calculateNumElements(tt.shape) {
				t.Errorf("expected %d elements, got %d", calculateNumElements(tt.shape), tensor.NumElems)
			}
		})
	}
}

func TestStrides(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3, 4}, Float32, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []int{12, 4, 1}
	for i, s := range expected {
		if tensor.Strides[i] != s {
			t.Errorf("stride %d: expected %d, got %d", i, s, tensor.Strides[i])
		}
	}
}

func TestReshape(t *testing.T) {
	base, err := NewTensor([]int{2, 6}, Float32, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name      string
		shape     []int
		expected  []int
		expectErr bool
	}{
		{"explicit", []int{3, 4}, []int{3, 4}, false},
		{"infer last", []int{4, -1}, []int{4, 3}, false},
		{"infer first", []int{-1, 2}, []int{6, 2}, false},
		{"size mismatch", []int{5, 2}, nil, true},
		{"two inferred", []int{-1, -1}, nil, true},
		{"not divisible", []int{-1, 5}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := base.Reshape(tt.shape)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !shapesEqual(r.Shape, tt.expected) {
				t.Errorf("expected shape %v, got %v", tt.expected, r.Shape)
			}
			if r.NumElems != base.NumElems {
				t.Errorf("expected %d elements, got %d", base.NumElems, r.NumElems)
			}
		})
	}

	// Reshape shares data.
	view, err := base.Reshape([]int{12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view.Data.([]float32)[0] = 42
	if base.Data.([]float32)[0] != 42 {
		t.Errorf("expected reshape to share data with the original tensor")
	}
}

func TestClone(t *testing.T) {
	orig, err := NewTensor([]int{3}, Float32, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone, err := orig.Clone()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone.Data.([]float32)[0] = 99
	if orig.Data.([]float32)[0] != 1 {
		t.Errorf("expected clone to copy data, original was modified")
	}
}

func TestItem(t *testing.T) {
	scalar, err := NewTensor([]int{1}, Float32, []float32{3.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := scalar.Item()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 3.5 {
		t.Errorf("expected 3.5, got %v", v)
	}

	multi, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	if _, err := multi.Item(); err == nil {
		t.Errorf("expected error for multi-element tensor, got nil")
	}
}

func TestAt(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		coords    []int
		expected  float32
		expectErr bool
	}{
		{[]int{0, 0}, 1, false},
		{[]int{1, 2}, 6, false},
		{[]int{0, 2}, 3, false},
		{[]int{2, 0}, 0, true},
		{[]int{0}, 0, true},
	}

	for _, tt := range tests {
		v, err := tensor.At(tt.coords...)
		if tt.expectErr {
			if err == nil {
				t.Errorf("At(%v): expected error, got nil", tt.coords)
			}
			continue
		}
		if err != nil {
			t.Errorf("At(%v): unexpected error: %v", tt.coords, err)
			continue
		}
		if v != tt.expected {
			t.Errorf("At(%v): expected %v, got %v", tt.coords, tt.expected, v)
		}
	}
}

func TestRandomSeedReproducibility(t *testing.T) {
	SetRandomSeed(42)
	a, err := Random([]int{8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	SetRandomSeed(42)
	b, err := Random([]int{8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	for i := range aData {
		if aData[i] != bData[i] {
			t.Errorf("element %d: expected identical values after reseeding, got %v and %v", i, aData[i], bData[i])
		}
	}
}

func TestFull(t *testing.T) {
	tensor, err := Full([]int{2, 2}, Float32, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range tensor.Data.([]float32) {
		if v != 7 {
			t.Errorf("element %d: expected 7, got %v", i, v)
		}
	}

	ints, err := Full([]int{3}, Int32, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range ints.Data.([]int32) {
		if v != 5 {
			t.Errorf("element %d: expected 5, got %v", i, v)
		}
	}
}
