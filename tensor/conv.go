package tensor

import (
	"fmt"
	"math"
)

// conv2DOp implements the autograd node for 2D convolution.
// Inputs: x [N,C,H,W], weight [outC,inC,kH,kW], optional bias [outC].
type conv2DOp struct {
	baseOp
	stride  int
	padding int
	hasBias bool
}

// Conv2DAutograd computes a 2D convolution with the given stride and
// symmetric zero padding. bias may be nil.
func Conv2DAutograd(input, weight, bias *Tensor, stride, padding int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("conv2d input must be 4D [N,C,H,W], got shape %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("conv2d weight must be 4D [outC,inC,kH,kW], got shape %v", weight.Shape)
	}
	if input.DType != Float32 || weight.DType != Float32 {
		return nil, fmt.Errorf("conv2d requires float32 tensors")
	}
	if stride < 1 {
		return nil, fmt.Errorf("conv2d stride must be positive, got %d", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("conv2d padding must be non-negative, got %d", padding)
	}

	n, inC, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outC, wInC, kh, kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if inC != wInC {
		return nil, fmt.Errorf("conv2d channel mismatch: input has %d, weight expects %d", inC, wInC)
	}
	if bias != nil {
		if len(bias.Shape) != 1 || bias.Shape[0] != outC {
			return nil, fmt.Errorf("conv2d bias must have shape [%d], got %v", outC, bias.Shape)
		}
	}

	outH := (h+2*padding-kh)/stride + 1
	outW := (w+2*padding-kw)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("conv2d output size would be %dx%d for input %dx%d kernel %dx%d", outH, outW, h, w, kh, kw)
	}

	out, err := NewTensor([]int{n, outC, outH, outW}, Float32, nil)
	if err != nil {
		return nil, err
	}

	x := input.Data.([]float32)
	wt := weight.Data.([]float32)
	dst := out.Data.([]float32)
	var bs []float32
	if bias != nil {
		bs = bias.Data.([]float32)
	}

	for ni := 0; ni < n; ni++ {
		for oc := 0; oc < outC; oc++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					var sum float32
					if bs != nil {
						sum = bs[oc]
					}
					for ic := 0; ic < inC; ic++ {
						for ki := 0; ki < kh; ki++ {
							ih := oh*stride + ki - padding
							if ih < 0 || ih >= h {
								continue
							}
							for kj := 0; kj < kw; kj++ {
								iw := ow*stride + kj - padding
								if iw < 0 || iw >= w {
									continue
								}
								sum += x[((ni*inC+ic)*h+ih)*w+iw] * wt[((oc*inC+ic)*kh+ki)*kw+kj]
							}
						}
					}
					dst[((ni*outC+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}

	inputs := []*Tensor{input, weight}
	if bias != nil {
		inputs = append(inputs, bias)
	}
	attachOp(out, &conv2DOp{
		baseOp:  baseOp{inputs: inputs, name: "Conv2D"},
		stride:  stride,
		padding: padding,
		hasBias: bias != nil,
	}, inputs...)
	return out, nil
}

func (o *conv2DOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	input, weight := o.inputs[0], o.inputs[1]
	n, inC, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outC, kh, kw := weight.Shape[0], weight.Shape[2], weight.Shape[3]
	outH, outW := gradOutput.Shape[2], gradOutput.Shape[3]

	gradInput, err := Zeros(input.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gradWeight, err := Zeros(weight.Shape, Float32)
	if err != nil {
		return nil, err
	}

	x := input.Data.([]float32)
	wt := weight.Data.([]float32)
	g := gradOutput.Data.([]float32)
	gx := gradInput.Data.([]float32)
	gw := gradWeight.Data.([]float32)

	var gb []float32
	var gradBias *Tensor
	if o.hasBias {
		gradBias, err = Zeros([]int{outC}, Float32)
		if err != nil {
			return nil, err
		}
		gb = gradBias.Data.([]float32)
	}

	for ni := 0; ni < n; ni++ {
		for oc := 0; oc < outC; oc++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					gv := g[((ni*outC+oc)*outH+oh)*outW+ow]
					if gb != nil {
						gb[oc] += gv
					}
					for ic := 0; ic < inC; ic++ {
						for ki := 0; ki < kh; ki++ {
							ih := oh*o.stride + ki - o.padding
							if ih < 0 || ih >= h {
								continue
							}
							for kj := 0; kj < kw; kj++ {
								iw := ow*o.stride + kj - o.padding
								if iw < 0 || iw >= w {
									continue
								}
								xIdx := ((ni*inC+ic)*h+ih)*w + iw
								wIdx := ((oc*inC+ic)*kh+ki)*kw + kj
								gx[xIdx] += wt[wIdx] * gv
								gw[wIdx] += x[xIdx] * gv
							}
						}
					}
				}
			}
		}
	}

	grads := []*Tensor{gradInput, gradWeight}
	if o.hasBias {
		grads = append(grads, gradBias)
	}
	return grads, nil
}

// maxPool2DOp records the winning input index for each output element so the
// backward pass can scatter gradients.
type maxPool2DOp struct {
	baseOp
	inputShape []int
	argmax     []int32
}

// MaxPool2DAutograd computes 2D max pooling. Padded positions never win.
func MaxPool2DAutograd(input *Tensor, kernelSize, stride, padding int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("maxpool2d input must be 4D [N,C,H,W], got shape %v", input.Shape)
	}
	if input.DType != Float32 {
		return nil, fmt.Errorf("maxpool2d requires a float32 tensor")
	}
	if kernelSize < 1 {
		return nil, fmt.Errorf("maxpool2d kernel size must be positive, got %d", kernelSize)
	}
	if stride < 1 {
		stride = kernelSize
	}

	n, c, h, w := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	outH := (h+2*padding-kernelSize)/stride + 1
	outW := (w+2*padding-kernelSize)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("maxpool2d output size would be %dx%d", outH, outW)
	}

	out, err := NewTensor([]int{n, c, outH, outW}, Float32, nil)
	if err != nil {
		return nil, err
	}
	x := input.Data.([]float32)
	dst := out.Data.([]float32)
	argmax := make([]int32, out.NumElems)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := float32(math.Inf(-1))
					bestIdx := int32(-1)
					for ki := 0; ki < kernelSize; ki++ {
						ih := oh*stride + ki - padding
						if ih < 0 || ih >= h {
							continue
						}
						for kj := 0; kj < kernelSize; kj++ {
							iw := ow*stride + kj - padding
							if iw < 0 || iw >= w {
								continue
							}
							idx := ((ni*c+ci)*h+ih)*w + iw
							if x[idx] > best {
								best = x[idx]
								bestIdx = int32(idx)
							}
						}
					}
					oIdx := ((ni*c+ci)*outH+oh)*outW + ow
					dst[oIdx] = best
					argmax[oIdx] = bestIdx
				}
			}
		}
	}

	attachOp(out, &maxPool2DOp{
		baseOp:     baseOp{inputs: []*Tensor{input}, name: "MaxPool2D"},
		inputShape: append([]int(nil), input.Shape...),
		argmax:     argmax,
	}, input)
	return out, nil
}

func (o *maxPool2DOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	gradInput, err := Zeros(o.inputShape, Float32)
	if err != nil {
		return nil, err
	}
	g := gradOutput.Data.([]float32)
	gx := gradInput.Data.([]float32)
	for i, idx := range o.argmax {
		if idx >= 0 {
			gx[idx] += g[i]
		}
	}
	return []*Tensor{gradInput}, nil
}

// batchNormOp normalizes per feature (2D input) or per channel (4D input).
type batchNormOp struct {
	baseOp
	xhat     []float32
	invStd   []float32
	channels int
	perChan  int
	training bool
}

// BatchNormAutograd applies batch normalization. In training mode batch
// statistics are used and running estimates are updated in place with
// running = (1-momentum)*running + momentum*batch, the variance buffer
// receiving the unbiased batch estimate. In eval mode the running
// estimates normalize the input.
func BatchNormAutograd(input, gamma, beta, runningMean, runningVar *Tensor, training bool, momentum, eps float64) (*Tensor, error) {
	dims := len(input.Shape)
	if dims != 2 && dims != 4 {
		return nil, fmt.Errorf("batchnorm input must be 2D or 4D, got shape %v", input.Shape)
	}
	channels := input.Shape[1]
	for _, p := range []*Tensor{gamma, beta, runningMean, runningVar} {
		if p == nil || len(p.Shape) != 1 || p.Shape[0] != channels {
			return nil, fmt.Errorf("batchnorm parameters must have shape [%d]", channels)
		}
	}

	perChan := input.NumElems / channels
	x := input.Data.([]float32)
	ga := gamma.Data.([]float32)
	be := beta.Data.([]float32)
	rm := runningMean.Data.([]float32)
	rv := runningVar.Data.([]float32)

	// channelOf maps a flat index to its channel for both layouts.
	var channelOf func(i int) int
	if dims == 2 {
		f := input.Shape[1]
		channelOf = func(i int) int { return i % f }
	} else {
		hw := input.Shape[2] * input.Shape[3]
		c := input.Shape[1]
		channelOf = func(i int) int { return (i / hw) % c }
	}

	mean := make([]float64, channels)
	variance := make([]float64, channels)
	if training {
		for i, v := range x {
			mean[channelOf(i)] += float64(v)
		}
		for c := range mean {
			mean[c] /= float64(perChan)
		}
		for i, v := range x {
			c := channelOf(i)
			d := float64(v) - mean[c]
			variance[c] += d * d
		}
		for c := range variance {
			variance[c] /= float64(perChan)
		}
		// Normalization uses the biased batch variance; the running
		// buffer accumulates the unbiased estimate.
		unbiased := 1.0
		if perChan > 1 {
			unbiased = float64(perChan) / float64(perChan-1)
		}
		for c := 0; c < channels; c++ {
			rm[c] = float32((1-momentum)*float64(rm[c]) + momentum*mean[c])
			rv[c] = float32((1-momentum)*float64(rv[c]) + momentum*variance[c]*unbiased)
		}
	} else {
		for c := 0; c < channels; c++ {
			mean[c] = float64(rm[c])
			variance[c] = float64(rv[c])
		}
	}

	invStd := make([]float32, channels)
	for c := 0; c < channels; c++ {
		invStd[c] = float32(1.0 / math.Sqrt(variance[c]+eps))
	}

	out, err := NewTensor(input.Shape, Float32, nil)
	if err != nil {
		return nil, err
	}
	dst := out.Data.([]float32)
	xhat := make([]float32, len(x))
	for i, v := range x {
		c := channelOf(i)
		xhat[i] = (v - float32(mean[c])) * invStd[c]
		dst[i] = ga[c]*xhat[i] + be[c]
	}

	attachOp(out, &batchNormOp{
		baseOp:   baseOp{inputs: []*Tensor{input, gamma, beta}, name: "BatchNorm"},
		xhat:     xhat,
		invStd:   invStd,
		channels: channels,
		perChan:  perChan,
		training: training,
	}, input, gamma, beta)
	return out, nil
}

func (o *batchNormOp) Backward(gradOutput *Tensor) ([]*Tensor, error) {
	input, gamma := o.inputs[0], o.inputs[1]

	gradInput, err := Zeros(input.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gradGamma, err := Zeros([]int{o.channels}, Float32)
	if err != nil {
		return nil, err
	}
	gradBeta, err := Zeros([]int{o.channels}, Float32)
	if err != nil {
		return nil, err
	}

	dims := len(input.Shape)
	var channelOf func(i int) int
	if dims == 2 {
		f := input.Shape[1]
		channelOf = func(i int) int { return i % f }
	} else {
		hw := input.Shape[2] * input.Shape[3]
		c := input.Shape[1]
		channelOf = func(i int) int { return (i / hw) % c }
	}

	g := gradOutput.Data.([]float32)
	ga := gamma.Data.([]float32)
	gx := gradInput.Data.([]float32)
	gGamma := gradGamma.Data.([]float32)
	gBeta := gradBeta.Data.([]float32)

	for i, gv := range g {
		c := channelOf(i)
		gGamma[c] += gv * o.xhat[i]
		gBeta[c] += gv
	}

	if !o.training {
		// Running statistics are constants; the transform is affine.
		for i, gv := range g {
			c := channelOf(i)
			gx[i] = gv * ga[c] * o.invStd[c]
		}
		return []*Tensor{gradInput, gradGamma, gradBeta}, nil
	}

	// dx = (gamma * invStd / m) * (m*dy - sum(dy) - xhat * sum(dy*xhat))
	m := float32(o.perChan)
	sumDy := make([]float32, o.channels)
	sumDyXhat := make([]float32, o.channels)
	for i, gv := range g {
		c := channelOf(i)
		sumDy[c] += gv
		sumDyXhat[c] += gv * o.xhat[i]
	}
	for i, gv := range g {
		c := channelOf(i)
		gx[i] = (ga[c] * o.invStd[c] / m) * (m*gv - sumDy[c] - o.xhat[i]*sumDyXhat[c])
	}
	return []*Tensor{gradInput, gradGamma, gradBeta}, nil
}
