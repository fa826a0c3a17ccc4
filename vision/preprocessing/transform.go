package preprocessing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Transform maps one image to another. Implementations used by training
// pipelines may be stochastic; Deterministic reports whether repeated
// applications to the same image yield the same result, which decides
// whether a loader may cache the output.
type Transform interface {
	Apply(img image.Image) (image.Image, error)
	Deterministic() bool
}

// Resize scales the image so its shorter side equals Size, preserving
// aspect ratio, using bilinear interpolation.
type Resize struct {
	Size int
}

func NewResize(size int) (*Resize, error) {
	if size < 1 {
		return nil, fmt.Errorf("resize target must be positive, got %d", size)
	}
	return &Resize{Size: size}, nil
}

func (r *Resize) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("cannot resize empty %dx%d image", w, h)
	}

	var newW, newH int
	if w < h {
		newW = r.Size
		newH = int(math.Round(float64(h) * float64(r.Size) / float64(w)))
	} else {
		newH = r.Size
		newW = int(math.Round(float64(w) * float64(r.Size) / float64(h)))
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst, nil
}

func (r *Resize) Deterministic() bool { return true }

// CenterCrop extracts a Size x Size region from the middle of the image.
type CenterCrop struct {
	Size int
}

func NewCenterCrop(size int) (*CenterCrop, error) {
	if size < 1 {
		return nil, fmt.Errorf("crop size must be positive, got %d", size)
	}
	return &CenterCrop{Size: size}, nil
}

func (c *CenterCrop) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < c.Size || h < c.Size {
		return nil, fmt.Errorf("image %dx%d smaller than crop size %d", w, h, c.Size)
	}
	x0 := bounds.Min.X + (w-c.Size)/2
	y0 := bounds.Min.Y + (h-c.Size)/2
	return cropRegion(img, x0, y0, c.Size), nil
}

func (c *CenterCrop) Deterministic() bool { return true }

// RandomCrop extracts a Size x Size region at a uniformly random offset.
type RandomCrop struct {
	Size int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomCrop(size int, seed int64) (*RandomCrop, error) {
	if size < 1 {
		return nil, fmt.Errorf("crop size must be positive, got %d", size)
	}
	return &RandomCrop{Size: size, rng: rand.New(rand.NewSource(seed))}, nil
}

func (c *RandomCrop) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < c.Size || h < c.Size {
		return nil, fmt.Errorf("image %dx%d smaller than crop size %d", w, h, c.Size)
	}
	c.mu.Lock()
	dx := c.rng.Intn(w - c.Size + 1)
	dy := c.rng.Intn(h - c.Size + 1)
	c.mu.Unlock()
	return cropRegion(img, bounds.Min.X+dx, bounds.Min.Y+dy, c.Size), nil
}

func (c *RandomCrop) Deterministic() bool { return false }

// RandomHorizontalFlip mirrors the image left-right with probability P.
type RandomHorizontalFlip struct {
	P float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomHorizontalFlip(p float64, seed int64) (*RandomHorizontalFlip, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("flip probability must be in [0, 1], got %g", p)
	}
	return &RandomHorizontalFlip{P: p, rng: rand.New(rand.NewSource(seed))}, nil
}

func (f *RandomHorizontalFlip) Apply(img image.Image) (image.Image, error) {
	f.mu.Lock()
	flip := f.rng.Float64() < f.P
	f.mu.Unlock()
	if !flip {
		return img, nil
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return dst, nil
}

func (f *RandomHorizontalFlip) Deterministic() bool { return f.P == 0 }

// RandomRotation rotates the image about its center by a uniformly random
// angle in [-MaxDegrees, MaxDegrees], sampling via inverse mapping with
// bilinear interpolation. Pixels mapped from outside the source are clamped
// to the nearest edge.
type RandomRotation struct {
	MaxDegrees float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomRotation(maxDegrees float64, seed int64) (*RandomRotation, error) {
	if maxDegrees < 0 {
		return nil, fmt.Errorf("max rotation must be non-negative, got %g", maxDegrees)
	}
	return &RandomRotation{MaxDegrees: maxDegrees, rng: rand.New(rand.NewSource(seed))}, nil
}

func (r *RandomRotation) Apply(img image.Image) (image.Image, error) {
	r.mu.Lock()
	degrees := (r.rng.Float64()*2 - 1) * r.MaxDegrees
	r.mu.Unlock()
	if degrees == 0 {
		return img, nil
	}
	return rotate(img, degrees), nil
}

func (r *RandomRotation) Deterministic() bool { return r.MaxDegrees == 0 }

// rotate produces a same-sized image rotated by the given angle. Each
// destination pixel is pulled from the inverse-rotated source coordinate.
func rotate(img image.Image, degrees float64) image.Image {
	src := toNRGBA(img)
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	cx := float64(w-1) / 2
	cy := float64(h-1) / 2

	theta := degrees * math.Pi / 180
	sin, cos := math.Sincos(theta)

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Inverse rotation of the destination coordinate.
			fx := float64(x) - cx
			fy := float64(y) - cy
			srcX := cos*fx + sin*fy + cx
			srcY := -sin*fx + cos*fy + cy
			dst.SetNRGBA(x, y, bilinearSample(src, srcX, srcY))
		}
	}
	return dst
}

// bilinearSample interpolates the four pixels surrounding (x, y),
// clamping coordinates to the image edge.
func bilinearSample(src *image.NRGBA, x, y float64) color.NRGBA {
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()

	x0 := clampInt(int(math.Floor(x)), 0, w-1)
	y0 := clampInt(int(math.Floor(y)), 0, h-1)
	x1 := clampInt(x0+1, 0, w-1)
	y1 := clampInt(y0+1, 0, h-1)

	fx := x - math.Floor(x)
	fy := y - math.Floor(y)
	if x < 0 {
		fx = 0
	}
	if y < 0 {
		fy = 0
	}

	p00 := src.NRGBAAt(x0, y0)
	p10 := src.NRGBAAt(x1, y0)
	p01 := src.NRGBAAt(x0, y1)
	p11 := src.NRGBAAt(x1, y1)

	lerp := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bot := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bot*fy))
	}

	return color.NRGBA{
		R: lerp(p00.R, p10.R, p01.R, p11.R),
		G: lerp(p00.G, p10.G, p01.G, p11.G),
		B: lerp(p00.B, p10.B, p01.B, p11.B),
		A: lerp(p00.A, p10.A, p01.A, p11.A),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func cropRegion(img image.Image, x0, y0, size int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dst.Set(x, y, img.At(x0+x, y0+y))
		}
	}
	return dst
}

// Compose applies a fixed sequence of transforms in order.
type Compose struct {
	Transforms []Transform
}

func NewCompose(transforms ...Transform) *Compose {
	return &Compose{Transforms: transforms}
}

func (c *Compose) Apply(img image.Image) (image.Image, error) {
	out := img
	var err error
	for i, t := range c.Transforms {
		out, err = t.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return out, nil
}

func (c *Compose) Deterministic() bool {
	for _, t := range c.Transforms {
		if !t.Deterministic() {
			return false
		}
	}
	return true
}
