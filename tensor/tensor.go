package tensor

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// DType represents the data type of tensor elements
type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// Tensor is a dense n-dimensional array with optional gradient tracking.
// Data holds a []float32 or []int32 depending on DType.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(1))
)

// SetRandomSeed reseeds the package random source used by Random and
// RandomNormal. Call before building models for reproducible runs.
func SetRandomSeed(seed int64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	rng = rand.New(rand.NewSource(seed))
}

func randFloat32() float32 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float32()
}

func randNormFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.NormFloat64()
}

// RequiresGrad reports whether gradients are tracked for this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad enables or disables gradient tracking.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Creator returns the operation that produced this tensor, or nil for leaves.
func (t *Tensor) Creator() Operation {
	return t.creator
}

// SetCreator records the producing operation. Custom operations (losses,
// fused kernels) use this to join the autograd graph.
func (t *Tensor) SetCreator(op Operation) {
	t.creator = op
	if op != nil {
		t.requiresGrad = true
	}
}

// Dims returns the number of dimensions.
func (t *Tensor) Dims() int {
	return len(t.Shape)
}

// Size returns the length of the given dimension.
func (t *Tensor) Size(dim int) (int, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return 0, fmt.Errorf("dimension %d out of range for %d-d tensor", dim, len(t.Shape))
	}
	return t.Shape[dim], nil
}

func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor(shape=[")
	for i, s := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", s))
	}
	sb.WriteString(fmt.Sprintf("], dtype=%s", t.DType))
	if t.requiresGrad {
		sb.WriteString(", requires_grad=true")
	}
	sb.WriteString(")")
	return sb.String()
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape cannot be empty")
	}
	for i, s := range shape {
		if s <= 0 {
			return fmt.Errorf("invalid dimension %d at index %d: must be positive", s, i)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
