package tensor

import "fmt"

// Reshape returns a view with a new shape sharing the same data. One
// dimension may be -1 and is inferred from the element count.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	newShape := append([]int(nil), shape...)
	inferIdx := -1
	known := 1
	for i, s := range newShape {
		switch {
		case s == -1:
			if inferIdx != -1 {
				return nil, fmt.Errorf("only one dimension can be -1 in reshape")
			}
			inferIdx = i
		case s <= 0:
			return nil, fmt.Errorf("invalid dimension %d in reshape", s)
		default:
			known *= s
		}
	}
	if inferIdx != -1 {
		if known == 0 || t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension: %d elements not divisible by %d", t.NumElems, known)
		}
		newShape[inferIdx] = t.NumElems / known
		known *= newShape[inferIdx]
	}
	if known != t.NumElems {
		return nil, fmt.Errorf("reshape size mismatch: %v has %d elements, %d requested", t.Shape, t.NumElems, known)
	}

	return &Tensor{
		Shape:        newShape,
		Strides:      calculateStrides(newShape),
		DType:        t.DType,
		Data:         t.Data,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}, nil
}

// Clone returns a deep copy. Gradient and graph linkage are not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	out, err := NewTensor(t.Shape, t.DType, nil)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case Float32:
		copy(out.Data.([]float32), t.Data.([]float32))
	case Int32:
		copy(out.Data.([]int32), t.Data.([]int32))
	}
	out.requiresGrad = t.requiresGrad
	return out, nil
}

// GetFloat32Data returns the backing slice of a Float32 tensor.
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not float32", t.DType)
	}
	return t.Data.([]float32), nil
}

// GetInt32Data returns the backing slice of an Int32 tensor.
func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element Float32 tensor.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	}
	return 0, fmt.Errorf("unsupported dtype: %s", t.DType)
}

// At returns the Float32 element at the given coordinates.
func (t *Tensor) At(coords ...int) (float32, error) {
	if len(coords) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d coordinates, got %d", len(t.Shape), len(coords))
	}
	idx := 0
	for i, c := range coords {
		if c < 0 || c >= t.Shape[i] {
			return 0, fmt.Errorf("coordinate %d out of range for dimension %d (size %d)", c, i, t.Shape[i])
		}
		idx += c * t.Strides[i]
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("at requires a float32 tensor, got %s", t.DType)
	}
	return t.Data.([]float32)[idx], nil
}

// SetAt writes the Float32 element at the given coordinates.
func (t *Tensor) SetAt(value float32, coords ...int) error {
	if len(coords) != len(t.Shape) {
		return fmt.Errorf("expected %d coordinates, got %d", len(t.Shape), len(coords))
	}
	if t.DType != Float32 {
		return fmt.Errorf("set requires a float32 tensor, got %s", t.DType)
	}
	idx := 0
	for i, c := range coords {
		if c < 0 || c >= t.Shape[i] {
			return fmt.Errorf("coordinate %d out of range for dimension %d (size %d)", c, i, t.Shape[i])
		}
		idx += c * t.Strides[i]
	}
	t.Data.([]float32)[idx] = value
	return nil
}
