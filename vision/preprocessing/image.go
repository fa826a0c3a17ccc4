package preprocessing

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"

	"trellis/tensor"
)

// Decode reads and decodes an image file. JPEG, PNG, BMP, and PPM are
// supported through their registered decoders.
func Decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}

// ToTensor converts an image to a [3, H, W] Float32 tensor with values in
// [0, 1], channel-major. Out-of-range and NaN values are clamped to zero.
func ToTensor(img image.Image) (*tensor.Tensor, error) {
	src := toNRGBA(img)
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("cannot convert empty %dx%d image", w, h)
	}

	out, err := tensor.NewTensor([]int{3, h, w}, tensor.Float32, nil)
	if err != nil {
		return nil, err
	}
	data := out.Data.([]float32)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := src.NRGBAAt(x, y)
			idx := y*w + x
			data[idx] = clamp01(float32(px.R) / 255)
			data[plane+idx] = clamp01(float32(px.G) / 255)
			data[2*plane+idx] = clamp01(float32(px.B) / 255)
		}
	}
	return out, nil
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize standardizes a [3, H, W] tensor in place with per-channel mean
// and standard deviation.
func Normalize(t *tensor.Tensor, mean, std [3]float32) error {
	if len(t.Shape) != 3 || t.Shape[0] != 3 {
		return fmt.Errorf("expected [3, H, W] tensor, got shape %v", t.Shape)
	}
	if t.DType != tensor.Float32 {
		return fmt.Errorf("expected float32 tensor, got %s", t.DType)
	}
	for c := 0; c < 3; c++ {
		if std[c] == 0 {
			return fmt.Errorf("channel %d standard deviation is zero", c)
		}
	}

	data := t.Data.([]float32)
	plane := t.Shape[1] * t.Shape[2]
	for c := 0; c < 3; c++ {
		m, s := mean[c], std[c]
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i] - m) / s
		}
	}
	return nil
}

// Pipeline turns an image file into a normalized [3, S, S] model input:
// a transform chain followed by tensor conversion and normalization.
type Pipeline struct {
	transforms *Compose
	mean       [3]float32
	std        [3]float32
	outputSize int
}

// Config describes the geometry and augmentation of a pipeline.
type Config struct {
	// ResizeTo is the shorter-side target before cropping.
	ResizeTo int
	// CropTo is the final square output size.
	CropTo int
	// FlipProb is the horizontal flip probability (training only).
	FlipProb float64
	// MaxRotation is the rotation augmentation bound in degrees
	// (training only).
	MaxRotation float64
	Mean        [3]float32
	Std         [3]float32
	Seed        int64
}

func (c Config) validate() error {
	if c.ResizeTo < 1 {
		return fmt.Errorf("resize target must be positive, got %d", c.ResizeTo)
	}
	if c.CropTo < 1 || c.CropTo > c.ResizeTo {
		return fmt.Errorf("crop size %d must be in [1, %d]", c.CropTo, c.ResizeTo)
	}
	return nil
}

// TrainPipeline builds the augmenting pipeline: resize, random crop,
// random horizontal flip, random rotation, tensor conversion, normalize.
func TrainPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	resize, err := NewResize(cfg.ResizeTo)
	if err != nil {
		return nil, err
	}
	crop, err := NewRandomCrop(cfg.CropTo, cfg.Seed)
	if err != nil {
		return nil, err
	}
	flip, err := NewRandomHorizontalFlip(cfg.FlipProb, cfg.Seed+1)
	if err != nil {
		return nil, err
	}
	rotation, err := NewRandomRotation(cfg.MaxRotation, cfg.Seed+2)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		transforms: NewCompose(resize, crop, flip, rotation),
		mean:       cfg.Mean,
		std:        cfg.Std,
		outputSize: cfg.CropTo,
	}, nil
}

// EvalPipeline builds the deterministic pipeline: resize, center crop,
// tensor conversion, normalize.
func EvalPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	resize, err := NewResize(cfg.ResizeTo)
	if err != nil {
		return nil, err
	}
	crop, err := NewCenterCrop(cfg.CropTo)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		transforms: NewCompose(resize, crop),
		mean:       cfg.Mean,
		std:        cfg.Std,
		outputSize: cfg.CropTo,
	}, nil
}

// OutputSize returns the square side length of produced tensors.
func (p *Pipeline) OutputSize() int { return p.outputSize }

// Deterministic reports whether outputs are cache-safe.
func (p *Pipeline) Deterministic() bool { return p.transforms.Deterministic() }

// Process applies the pipeline to a decoded image.
func (p *Pipeline) Process(img image.Image) (*tensor.Tensor, error) {
	transformed, err := p.transforms.Apply(img)
	if err != nil {
		return nil, err
	}
	t, err := ToTensor(transformed)
	if err != nil {
		return nil, err
	}
	if err := Normalize(t, p.mean, p.std); err != nil {
		return nil, err
	}
	return t, nil
}

// ProcessFile decodes and processes an image file.
func (p *Pipeline) ProcessFile(path string) (*tensor.Tensor, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return p.Process(img)
}
