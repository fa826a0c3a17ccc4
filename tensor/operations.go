package tensor

import (
	"fmt"
	"math"
)

// binaryOp applies fn element-wise with broadcasting. Both inputs must be
// Float32. These raw kernels do not join the autograd graph; use the
// *Autograd wrappers for differentiable ops.
func binaryOp(a, b *Tensor, fn func(x, y float32) float32, name string) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("%s requires float32 tensors, got %s and %s", name, a.DType, b.DType)
	}
	outShape, err := BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out, err := NewTensor(outShape, Float32, nil)
	if err != nil {
		return nil, err
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	outData := out.Data.([]float32)

	// Fast path: identical shapes need no index translation.
	if shapesEqual(a.Shape, b.Shape) {
		for i := range outData {
			outData[i] = fn(aData[i], bData[i])
		}
		return out, nil
	}

	aStrides := broadcastStrides(a.Shape, outShape)
	bStrides := broadcastStrides(b.Shape, outShape)
	coords := make([]int, len(outShape))
	for i := 0; i < out.NumElems; i++ {
		ai := coordsToIndex(coords, aStrides)
		bi := coordsToIndex(coords, bStrides)
		outData[i] = fn(aData[ai], bData[bi])

		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < outShape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return out, nil
}

func unaryOp(t *Tensor, fn func(x float32) float32, name string) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s requires a float32 tensor, got %s", name, t.DType)
	}
	out, err := NewTensor(t.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]float32)
	for i := range src {
		dst[i] = fn(src[i])
	}
	return out, nil
}

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x + y }, "add")
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x - y }, "sub")
}

// Mul returns the element-wise product with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x * y }, "mul")
}

// Div returns a / b with broadcasting.
func Div(a, b *Tensor) (*Tensor, error) {
	return binaryOp(a, b, func(x, y float32) float32 { return x / y }, "div")
}

// ReLU returns max(x, 0) element-wise.
func ReLU(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	}, "relu")
}

// Sigmoid returns 1 / (1 + exp(-x)) element-wise.
func Sigmoid(t *Tensor) (*Tensor, error) {
	return unaryOp(t, sigmoid32, "sigmoid")
}

func sigmoid32(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// Tanh returns tanh(x) element-wise.
func Tanh(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	}, "tanh")
}

// Exp returns e^x element-wise.
func Exp(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		return float32(math.Exp(float64(x)))
	}, "exp")
}

// Log returns the natural logarithm element-wise.
func Log(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		return float32(math.Log(float64(x)))
	}, "log")
}

// Sqrt returns the square root element-wise.
func Sqrt(t *Tensor) (*Tensor, error) {
	return unaryOp(t, func(x float32) float32 {
		return float32(math.Sqrt(float64(x)))
	}, "sqrt")
}

// Clamp limits values to [min, max].
func Clamp(t *Tensor, min, max float64) (*Tensor, error) {
	lo, hi := float32(min), float32(max)
	return unaryOp(t, func(x float32) float32 {
		if x < lo {
			return lo
		}
		if x > hi {
			return hi
		}
		return x
	}, "clamp")
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	f := float32(s)
	return unaryOp(t, func(x float32) float32 { return x * f }, "scale")
}

// AddScalar adds s to every element.
func AddScalar(t *Tensor, s float64) (*Tensor, error) {
	f := float32(s)
	return unaryOp(t, func(x float32) float32 { return x + f }, "add_scalar")
}

// Softmax computes row-wise softmax over the last dimension of a 2D tensor,
// using the max-subtraction trick for numerical stability.
func Softmax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("softmax requires a float32 tensor, got %s", t.DType)
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("softmax requires a 2D tensor, got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out, err := NewTensor(t.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]float32)

	for r := 0; r < rows; r++ {
		row := src[r*cols : (r+1)*cols]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for c, v := range row {
			e := math.Exp(float64(v - maxVal))
			dst[r*cols+c] = float32(e)
			sum += e
		}
		inv := float32(1.0 / sum)
		for c := 0; c < cols; c++ {
			dst[r*cols+c] *= inv
		}
	}
	return out, nil
}
