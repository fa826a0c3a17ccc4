package tensor

import (
	"fmt"
	"math"
)

// NewTensor creates a tensor with the given shape and dtype. When data is
// nil the tensor is zero-initialized; otherwise data must be a []float32 or
// []int32 matching the dtype and element count. The slice is used directly,
// not copied.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}

	t := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		NumElems: calculateNumElements(shape),
	}

	if data == nil {
		switch dtype {
		case Float32:
			t.Data = make([]float32, t.NumElems)
		case Int32:
			t.Data = make([]int32, t.NumElems)
		default:
			return nil, fmt.Errorf("unsupported dtype: %v", dtype)
		}
		return t, nil
	}

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("data type mismatch: expected []float32 for dtype %s", dtype)
		}
		if len(d) != t.NumElems {
			return nil, fmt.Errorf("data length %d does not match shape (expected %d elements)", len(d), t.NumElems)
		}
		t.Data = d
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("data type mismatch: expected []int32 for dtype %s", dtype)
		}
		if len(d) != t.NumElems {
			return nil, fmt.Errorf("data length %d does not match shape (expected %d elements)", len(d), t.NumElems)
		}
		t.Data = d
	default:
		return nil, fmt.Errorf("unsupported dtype: %v", dtype)
	}

	return t, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, nil)
}

// Ones creates a tensor filled with ones.
func Ones(shape []int, dtype DType) (*Tensor, error) {
	return Full(shape, dtype, 1)
}

// Full creates a tensor filled with the given value.
func Full(shape []int, dtype DType, value float64) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, nil)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Float32:
		data := t.Data.([]float32)
		v := float32(value)
		for i := range data {
			data[i] = v
		}
	case Int32:
		data := t.Data.([]int32)
		v := int32(value)
		for i := range data {
			data[i] = v
		}
	}
	return t, nil
}

// Random creates a Float32 tensor with uniform values in [0, 1).
func Random(shape []int) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = randFloat32()
	}
	return t, nil
}

// RandomNormal creates a Float32 tensor with normally distributed values.
func RandomNormal(shape []int, mean, std float64) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = float32(randNormFloat64()*std + mean)
	}
	return t, nil
}

// RandomUniform creates a Float32 tensor with uniform values in [low, high).
func RandomUniform(shape []int, low, high float64) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	span := high - low
	for i := range data {
		data[i] = float32(float64(randFloat32())*span + low)
	}
	return t, nil
}

// KaimingNormal creates a Float32 tensor initialized for layers followed by
// ReLU: normal with std = sqrt(2 / fanIn).
func KaimingNormal(shape []int, fanIn int) (*Tensor, error) {
	if fanIn <= 0 {
		return nil, fmt.Errorf("invalid fan-in %d", fanIn)
	}
	return RandomNormal(shape, 0, math.Sqrt(2.0/float64(fanIn)))
}

// XavierUniform creates a Float32 tensor initialized uniformly in
// [-limit, limit] with limit = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(shape []int, fanIn, fanOut int) (*Tensor, error) {
	if fanIn <= 0 || fanOut <= 0 {
		return nil, fmt.Errorf("invalid fan-in %d / fan-out %d", fanIn, fanOut)
	}
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return RandomUniform(shape, -limit, limit)
}
