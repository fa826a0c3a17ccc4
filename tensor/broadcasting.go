package tensor

import "fmt"

// BroadcastShapes computes the broadcast result shape of two shapes using
// numpy-style rules: shapes are right-aligned and each dimension pair must be
// equal or contain a 1.
func BroadcastShapes(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i >= n-len(a) {
			da = a[i-(n-len(a))]
		}
		if i >= n-len(b) {
			db = b[i-(n-len(b))]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}
	return out, nil
}

// broadcastStrides maps a source shape onto an output shape, returning per
// output-dimension strides into the source data. Broadcast dimensions get
// stride 0.
func broadcastStrides(srcShape []int, outShape []int) []int {
	strides := make([]int, len(outShape))
	srcStrides := calculateStrides(srcShape)
	offset := len(outShape) - len(srcShape)
	for i := range outShape {
		if i < offset {
			strides[i] = 0
			continue
		}
		if srcShape[i-offset] == 1 && outShape[i] != 1 {
			strides[i] = 0
		} else {
			strides[i] = srcStrides[i-offset]
		}
	}
	return strides
}

func indexToCoords(index int, shape []int) []int {
	coords := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		coords[i] = index % shape[i]
		index /= shape[i]
	}
	return coords
}

func coordsToIndex(coords, strides []int) int {
	idx := 0
	for i, c := range coords {
		idx += c * strides[i]
	}
	return idx
}

// reduceGradientToShape sums a gradient down to a target shape, undoing
// broadcasting: leading extra dimensions are summed away, then size-1 target
// dimensions are summed over.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}
	if grad.DType != Float32 {
		return nil, fmt.Errorf("gradient reduction requires float32, got %s", grad.DType)
	}

	current := grad
	for len(current.Shape) > len(targetShape) {
		reduced, err := sumOverDimension(current, 0, false)
		if err != nil {
			return nil, err
		}
		current = reduced
	}

	for i := range targetShape {
		if targetShape[i] == 1 && current.Shape[i] != 1 {
			reduced, err := sumOverDimension(current, i, true)
			if err != nil {
				return nil, err
			}
			current = reduced
		}
	}

	if !shapesEqual(current.Shape, targetShape) {
		return nil, fmt.Errorf("cannot reduce gradient from %v to %v", grad.Shape, targetShape)
	}
	return current, nil
}

// sumOverDimension sums along one dimension, optionally keeping it as size 1.
func sumOverDimension(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of range for %d-d tensor", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("sum requires float32, got %s", t.DType)
	}

	var outShape []int
	if keepDim {
		outShape = append([]int(nil), t.Shape...)
		outShape[dim] = 1
	} else {
		for i, s := range t.Shape {
			if i != dim {
				outShape = append(outShape, s)
			}
		}
		if len(outShape) == 0 {
			outShape = []int{1}
		}
	}

	out, err := Zeros(outShape, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	dst := out.Data.([]float32)

	outer := 1
	for i := 0; i < dim; i++ {
		outer *= t.Shape[i]
	}
	size := t.Shape[dim]
	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}

	for o := 0; o < outer; o++ {
		for k := 0; k < size; k++ {
			base := (o*size + k) * inner
			dstBase := o * inner
			for in := 0; in < inner; in++ {
				dst[dstBase+in] += src[base+in]
			}
		}
	}
	return out, nil
}

func sumAllElements(t *Tensor) (float64, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("sum requires float32, got %s", t.DType)
	}
	data := t.Data.([]float32)
	total := 0.0
	for _, v := range data {
		total += float64(v)
	}
	return total, nil
}
