package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MatMul computes the matrix product of two 2D tensors. Float32 inputs go
// through the gonum BLAS sgemm kernel; Int32 falls back to a plain loop.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("matmul shape mismatch: %v x %v", a.Shape, b.Shape)
	}
	if a.DType != b.DType {
		return nil, fmt.Errorf("matmul dtype mismatch: %s vs %s", a.DType, b.DType)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	out, err := NewTensor([]int{m, n}, a.DType, nil)
	if err != nil {
		return nil, err
	}

	switch a.DType {
	case Float32:
		am := blas32.General{Rows: m, Cols: k, Stride: k, Data: a.Data.([]float32)}
		bm := blas32.General{Rows: k, Cols: n, Stride: n, Data: b.Data.([]float32)}
		cm := blas32.General{Rows: m, Cols: n, Stride: n, Data: out.Data.([]float32)}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, am, bm, 0, cm)
	case Int32:
		aData := a.Data.([]int32)
		bData := b.Data.([]int32)
		outData := out.Data.([]int32)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum int32
				for p := 0; p < k; p++ {
					sum += aData[i*k+p] * bData[p*n+j]
				}
				outData[i*n+j] = sum
			}
		}
	default:
		return nil, fmt.Errorf("matmul unsupported dtype: %s", a.DType)
	}
	return out, nil
}

// Transpose2D returns the transpose of a 2D tensor as a new tensor.
func Transpose2D(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out, err := NewTensor([]int{cols, rows}, t.DType, nil)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := out.Data.([]float32)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				dst[c*rows+r] = src[r*cols+c]
			}
		}
	case Int32:
		src := t.Data.([]int32)
		dst := out.Data.([]int32)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				dst[c*rows+r] = src[r*cols+c]
			}
		}
	}
	return out, nil
}

// ArgMax returns row-wise argmax indices of a 2D Float32 tensor as an Int32
// tensor of shape [rows].
func ArgMax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("argmax requires a float32 tensor, got %s", t.DType)
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2D tensor, got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out, err := NewTensor([]int{rows}, Int32, nil)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]int32)
	for r := 0; r < rows; r++ {
		best := 0
		bestVal := src[r*cols]
		for c := 1; c < cols; c++ {
			if src[r*cols+c] > bestVal {
				bestVal = src[r*cols+c]
				best = c
			}
		}
		dst[r] = int32(best)
	}
	return out, nil
}

// Sum reduces along a dimension. With keepDim the reduced dimension stays as
// size 1.
func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	return sumOverDimension(t, dim, keepDim)
}

// SumAll returns the sum of all elements.
func SumAll(t *Tensor) (float64, error) {
	return sumAllElements(t)
}

// MeanAll returns the mean of all elements.
func MeanAll(t *Tensor) (float64, error) {
	total, err := sumAllElements(t)
	if err != nil {
		return 0, err
	}
	return total / float64(t.NumElems), nil
}
