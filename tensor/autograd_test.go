package tensor

import (
	"math"
	"testing"
)

func gradTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	tensor := mustTensor(t, shape, data)
	tensor.SetRequiresGrad(true)
	return tensor
}

func onesLike(t *testing.T, ref *Tensor) *Tensor {
	t.Helper()
	seed, err := Ones(ref.Shape, Float32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return seed
}

func TestAddBackward(t *testing.T) {
	a := gradTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := gradTensor(t, []int{2, 2}, []float32{5, 6, 7, 8})

	out, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Creator() == nil {
		t.Fatalf("expected output to have a creator")
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, in := range map[string]*Tensor{"a": a, "b": b} {
		if in.Grad() == nil {
			t.Fatalf("%s: expected gradient, got nil", name)
		}
		assertFloats(t, in.Grad().Data.([]float32), []float32{1, 1, 1, 1}, 0)
	}
}

func TestAddBackwardBroadcastReducesBias(t *testing.T) {
	x := mustTensor(t, []int{3, 2}, []float32{1, 2, 3, 4, 5, 6})
	bias := gradTensor(t, []int{2}, []float32{10, 20})

	out, err := AddAutograd(x, bias)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if x.Grad() != nil {
		t.Errorf("expected no gradient for input without requires_grad")
	}
	if bias.Grad() == nil {
		t.Fatalf("expected bias gradient, got nil")
	}
	// Each bias element is used by all 3 rows.
	assertFloats(t, bias.Grad().Data.([]float32), []float32{3, 3}, 0)
}

func TestMulBackward(t *testing.T) {
	a := gradTensor(t, []int{3}, []float32{2, 3, 4})
	b := gradTensor(t, []int{3}, []float32{5, 6, 7})

	out, err := MulAutograd(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertFloats(t, a.Grad().Data.([]float32), []float32{5, 6, 7}, 0)
	assertFloats(t, b.Grad().Data.([]float32), []float32{2, 3, 4}, 0)
}

func TestMatMulBackward(t *testing.T) {
	a := gradTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := gradTensor(t, []int{2, 2}, []float32{5, 6, 7, 8})

	out, err := MatMulAutograd(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// dL/dA = ones @ B^T, dL/dB = A^T @ ones
	assertFloats(t, a.Grad().Data.([]float32), []float32{11, 15, 11, 15}, 1e-4)
	assertFloats(t, b.Grad().Data.([]float32), []float32{4, 4, 6, 6}, 1e-4)
}

func TestReLUBackward(t *testing.T) {
	x := gradTensor(t, []int{4}, []float32{-1, 2, -3, 4})

	out, err := ReLUAutograd(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertFloats(t, x.Grad().Data.([]float32), []float32{0, 1, 0, 1}, 0)
}

func TestSigmoidBackward(t *testing.T) {
	x := gradTensor(t, []int{1}, []float32{0})

	out, err := SigmoidAutograd(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Backward(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// sigmoid(0) = 0.5, derivative = 0.5 * 0.5 = 0.25
	grad := x.Grad().Data.([]float32)[0]
	if math.Abs(float64(grad)-0.25) > 1e-6 {
		t.Errorf("expected gradient 0.25, got %v", grad)
	}
}

func TestChainedBackward(t *testing.T) {
	// y = relu(x @ w + b), all positive pre-activations on row 0,
	// one negative on row 1.
	x := mustTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
	w := gradTensor(t, []int{2, 2}, []float32{1, -2, 3, 4})
	b := gradTensor(t, []int{2}, []float32{0, 0})

	xw, err := MatMulAutograd(x, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pre, err := AddAutograd(xw, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := ReLUAutograd(pre)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pre = [[1, -2], [3, 4]], relu masks the -2.
	assertFloats(t, out.Data.([]float32), []float32{1, 0, 3, 4}, 0)

	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Masked position (0,1) contributes nothing: x^T @ mask.
	assertFloats(t, w.Grad().Data.([]float32), []float32{1, 0, 1, 1}, 1e-4)
	assertFloats(t, b.Grad().Data.([]float32), []float32{2, 1}, 1e-4)
}

func TestBackwardRequiresScalar(t *testing.T) {
	a := gradTensor(t, []int{2}, []float32{1, 2})
	out, err := AddAutograd(a, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Backward(); err == nil {
		t.Errorf("expected error for non-scalar backward, got nil")
	}
}

func TestBackwardWithoutGraph(t *testing.T) {
	a := mustTensor(t, []int{1}, []float32{1})
	if err := a.Backward(); err == nil {
		t.Errorf("expected error for tensor without creator, got nil")
	}
}

func TestGradAccumulationOnReuse(t *testing.T) {
	// x used twice: y = x*x. dy/dx = 2x via two accumulated paths.
	x := gradTensor(t, []int{3}, []float32{2, 3, 4})
	out, err := MulAutograd(x, x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFloats(t, x.Grad().Data.([]float32), []float32{4, 6, 8}, 0)
}

func TestZeroGrad(t *testing.T) {
	x := gradTensor(t, []int{2}, []float32{1, 2})
	out, err := AddAutograd(x, x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x.Grad() == nil {
		t.Fatalf("expected gradient before ZeroGrad")
	}
	x.ZeroGrad()
	if x.Grad() != nil {
		t.Errorf("expected nil gradient after ZeroGrad")
	}
}

func TestGradModeDisablesGraph(t *testing.T) {
	SetGradEnabled(false)
	defer SetGradEnabled(true)

	a := gradTensor(t, []int{2}, []float32{1, 2})
	out, err := AddAutograd(a, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Creator() != nil {
		t.Errorf("expected no creator while grad mode is disabled")
	}
	if out.RequiresGrad() {
		t.Errorf("expected requires_grad false while grad mode is disabled")
	}
}

func TestFlattenBackward(t *testing.T) {
	x := gradTensor(t, []int{2, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	flat, err := FlattenAutograd(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shapesEqual(flat.Shape, []int{2, 4}) {
		t.Fatalf("expected shape [2 4], got %v", flat.Shape)
	}
	if err := flat.BackwardWithGradient(onesLike(t, flat)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shapesEqual(x.Grad().Shape, []int{2, 2, 2}) {
		t.Errorf("expected gradient shape [2 2 2], got %v", x.Grad().Shape)
	}
}
