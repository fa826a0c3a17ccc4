package tensor

import (
	"math"
	"testing"
)

func TestConv2DForward(t *testing.T) {
	// 3x3 input, 2x2 kernel selecting opposite corners.
	input := mustTensor(t, []int{1, 1, 3, 3}, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	weight := mustTensor(t, []int{1, 1, 2, 2}, []float32{
		1, 0,
		0, 1,
	})

	out, err := Conv2DAutograd(input, weight, nil, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shapesEqual(out.Shape, []int{1, 1, 2, 2}) {
		t.Fatalf("expected shape [1 1 2 2], got %v", out.Shape)
	}
	assertFloats(t, out.Data.([]float32), []float32{6, 8, 12, 14}, 0)
}

func TestConv2DForwardWithBias(t *testing.T) {
	input := mustTensor(t, []int{1, 1, 3, 3}, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	weight := mustTensor(t, []int{1, 1, 2, 2}, []float32{
		1, 0,
		0, 1,
	})
	bias := mustTensor(t, []int{1}, []float32{10})

	out, err := Conv2DAutograd(input, weight, bias, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFloats(t, out.Data.([]float32), []float32{16, 18, 22, 24}, 0)
}

func TestConv2DOutputSizes(t *testing.T) {
	tests := []struct {
		name    string
		inSize  int
		kernel  int
		stride  int
		padding int
		outSize int
	}{
		{"same padding", 8, 3, 1, 1, 8},
		{"stride two", 8, 3, 2, 1, 4},
		{"no padding", 8, 3, 1, 0, 6},
		{"kernel equals input", 4, 4, 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := Random([]int{1, 1, tt.inSize, tt.inSize})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			weight, err := Random([]int{2, 1, tt.kernel, tt.kernel})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out, err := Conv2DAutograd(input, weight, nil, tt.stride, tt.padding)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			expected := []int{1, 2, tt.outSize, tt.outSize}
			if !shapesEqual(out.Shape, expected) {
				t.Errorf("expected shape %v, got %v", expected, out.Shape)
			}
		})
	}
}

func TestConv2DBackward(t *testing.T) {
	input := gradTensor(t, []int{1, 1, 3, 3}, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	weight := gradTensor(t, []int{1, 1, 2, 2}, []float32{
		1, 0,
		0, 1,
	})
	bias := gradTensor(t, []int{1}, []float32{0})

	out, err := Conv2DAutograd(input, weight, bias, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// dL/dw[ki,kj] = sum over output positions of input[oh+ki, ow+kj].
	wGrad := weight.Grad().Data.([]float32)
	expectedW := []float32{
		1 + 2 + 4 + 5, // (0,0)
		2 + 3 + 5 + 6, // (0,1)
		4 + 5 + 7 + 8, // (1,0)
		5 + 6 + 8 + 9, // (1,1)
	}
	assertFloats(t, wGrad, expectedW, 0)

	// Bias gradient is the number of output positions.
	assertFloats(t, bias.Grad().Data.([]float32), []float32{4}, 0)

	// Input gradient scatters the kernel over each output position.
	xGrad := input.Grad().Data.([]float32)
	expectedX := []float32{
		1, 1, 0,
		1, 2, 1,
		0, 1, 1,
	}
	assertFloats(t, xGrad, expectedX, 0)
}

func TestMaxPool2DForward(t *testing.T) {
	input := mustTensor(t, []int{1, 1, 4, 4}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})

	out, err := MaxPool2DAutograd(input, 2, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shapesEqual(out.Shape, []int{1, 1, 2, 2}) {
		t.Fatalf("expected shape [1 1 2 2], got %v", out.Shape)
	}
	assertFloats(t, out.Data.([]float32), []float32{6, 8, 14, 16}, 0)
}

func TestMaxPool2DBackward(t *testing.T) {
	input := gradTensor(t, []int{1, 1, 4, 4}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})

	out, err := MaxPool2DAutograd(input, 2, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []float32{
		0, 0, 0, 0,
		0, 1, 0, 1,
		0, 0, 0, 0,
		0, 1, 0, 1,
	}
	assertFloats(t, input.Grad().Data.([]float32), expected, 0)
}

func TestBatchNormTraining(t *testing.T) {
	input := gradTensor(t, []int{4, 1}, []float32{1, 2, 3, 4})
	gamma := gradTensor(t, []int{1}, []float32{1})
	beta := gradTensor(t, []int{1}, []float32{0})
	runningMean := mustTensor(t, []int{1}, []float32{0})
	runningVar := mustTensor(t, []int{1}, []float32{1})

	out, err := BatchNormAutograd(input, gamma, beta, runningMean, runningVar, true, 0.1, 1e-5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Normalized output has mean ~0 and unit variance.
	got := out.Data.([]float32)
	var mean float64
	for _, v := range got {
		mean += float64(v)
	}
	mean /= float64(len(got))
	if math.Abs(mean) > 1e-5 {
		t.Errorf("expected normalized mean ~0, got %v", mean)
	}
	// Batch mean 2.5, population variance 1.25.
	assertFloats(t, got, []float32{-1.34164, -0.44721, 0.44721, 1.34164}, 1e-3)

	// Running statistics updated with momentum 0.1. The running variance
	// accumulates the unbiased estimate: 1.25 * 4/3 = 1.6667, so
	// 0.9*1 + 0.1*1.6667 = 1.0667.
	rm := runningMean.Data.([]float32)[0]
	rv := runningVar.Data.([]float32)[0]
	if math.Abs(float64(rm)-0.25) > 1e-5 {
		t.Errorf("expected running mean 0.25, got %v", rm)
	}
	if math.Abs(float64(rv)-1.0666667) > 1e-5 {
		t.Errorf("expected running var 1.0667, got %v", rv)
	}

	if err := out.BackwardWithGradient(onesLike(t, out)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shapesEqual(input.Grad().Shape, input.Shape) {
		t.Errorf("expected input gradient shape %v, got %v", input.Shape, input.Grad().Shape)
	}
	// dL/dbeta = sum of output gradient.
	assertFloats(t, beta.Grad().Data.([]float32), []float32{4}, 1e-5)
	// dL/dgamma = sum(dy * xhat) = 0 for a constant gradient.
	assertFloats(t, gamma.Grad().Data.([]float32), []float32{0}, 1e-3)
}

func TestBatchNormEval(t *testing.T) {
	input := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
	gamma := mustTensor(t, []int{2}, []float32{1, 1})
	beta := mustTensor(t, []int{2}, []float32{0, 0})
	runningMean := mustTensor(t, []int{2}, []float32{0, 0})
	runningVar := mustTensor(t, []int{2}, []float32{1, 1})

	out, err := BatchNormAutograd(input, gamma, beta, runningMean, runningVar, false, 0.1, 1e-5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// With zero mean and unit variance the transform is near-identity.
	assertFloats(t, out.Data.([]float32), []float32{1, 2, 3, 4}, 1e-3)

	// Eval mode must not touch running statistics.
	assertFloats(t, runningMean.Data.([]float32), []float32{0, 0}, 0)
	assertFloats(t, runningVar.Data.([]float32), []float32{1, 1}, 0)
}

func TestBatchNorm4D(t *testing.T) {
	input := gradTensor(t, []int{1, 2, 2, 2}, []float32{
		1, 2, 3, 4, // channel 0
		10, 20, 30, 40, // channel 1
	})
	gamma := gradTensor(t, []int{2}, []float32{1, 1})
	beta := gradTensor(t, []int{2}, []float32{0, 0})
	runningMean := mustTensor(t, []int{2}, []float32{0, 0})
	runningVar := mustTensor(t, []int{2}, []float32{1, 1})

	out, err := BatchNormAutograd(input, gamma, beta, runningMean, runningVar, true, 0.1, 1e-5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Per-channel means are removed independently.
	got := out.Data.([]float32)
	for c := 0; c < 2; c++ {
		var mean float64
		for i := 0; i < 4; i++ {
			mean += float64(got[c*4+i])
		}
		mean /= 4
		if math.Abs(mean) > 1e-5 {
			t.Errorf("channel %d: expected normalized mean ~0, got %v", c, mean)
		}
	}

	// Running means reflect per-channel batch means (2.5 and 25).
	rm := runningMean.Data.([]float32)
	if math.Abs(float64(rm[0])-0.25) > 1e-5 {
		t.Errorf("channel 0: expected running mean 0.25, got %v", rm[0])
	}
	if math.Abs(float64(rm[1])-2.5) > 1e-5 {
		t.Errorf("channel 1: expected running mean 2.5, got %v", rm[1])
	}
}

func TestConv2DRejectsBadShapes(t *testing.T) {
	input := mustTensor(t, []int{2, 2}, make([]float32, 4))
	weight := mustTensor(t, []int{1, 1, 2, 2}, make([]float32, 4))
	if _, err := Conv2DAutograd(input, weight, nil, 1, 0); err == nil {
		t.Errorf("expected error for 2D input, got nil")
	}

	input4, _ := Random([]int{1, 3, 8, 8})
	weightMismatch, _ := Random([]int{4, 2, 3, 3})
	if _, err := Conv2DAutograd(input4, weightMismatch, nil, 1, 1); err == nil {
		t.Errorf("expected error for channel mismatch, got nil")
	}
}
