package preprocessing

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
)

// Netpbm PPM decoder for the P3 (ASCII) and P6 (binary) variants, wired
// into image.Decode so PPM files flow through the same path as JPEG, PNG,
// and BMP. Encoding is out of scope; datasets only read these files.

func init() {
	image.RegisterFormat("ppm", "P3", decodePPM, decodePPMConfig)
	image.RegisterFormat("ppm", "P6", decodePPM, decodePPMConfig)
}

type ppmHeader struct {
	binary bool
	width  int
	height int
	maxVal int
}

func decodePPMHeader(r *bufio.Reader) (ppmHeader, error) {
	var h ppmHeader
	magic := make([]byte, 2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return h, fmt.Errorf("read ppm magic: %w", err)
	}
	switch string(magic) {
	case "P3":
	case "P6":
		h.binary = true
	default:
		return h, fmt.Errorf("unsupported ppm magic %q", magic)
	}

	for _, field := range []*int{&h.width, &h.height, &h.maxVal} {
		v, err := readPPMInt(r)
		if err != nil {
			return h, err
		}
		*field = v
	}
	if h.width <= 0 || h.height <= 0 {
		return h, fmt.Errorf("invalid ppm dimensions %dx%d", h.width, h.height)
	}
	if h.maxVal <= 0 || h.maxVal >= 65536 {
		return h, fmt.Errorf("invalid ppm max value %d", h.maxVal)
	}
	return h, nil
}

// readPPMInt skips whitespace and # comments, then reads one decimal
// value. The single whitespace byte after the header's max value is
// consumed by the final call, as the format requires.
func readPPMInt(r *bufio.Reader) (int, error) {
	inComment := false
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read ppm header: %w", err)
		}
		if inComment {
			if b == '\n' {
				inComment = false
			}
			continue
		}
		switch {
		case b == '#':
			inComment = true
		case isPPMSpace(b):
		case b >= '0' && b <= '9':
			value := int(b - '0')
			for {
				b, err := r.ReadByte()
				if err == io.EOF {
					return value, nil
				}
				if err != nil {
					return 0, fmt.Errorf("read ppm value: %w", err)
				}
				if b < '0' || b > '9' {
					if !isPPMSpace(b) {
						return 0, fmt.Errorf("unexpected byte %q in ppm value", b)
					}
					return value, nil
				}
				value = value*10 + int(b-'0')
				if value >= 1<<30 {
					return 0, fmt.Errorf("ppm value out of range")
				}
			}
		default:
			return 0, fmt.Errorf("unexpected byte %q in ppm header", b)
		}
	}
}

func isPPMSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func decodePPM(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := decodePPMHeader(br)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, h.width, h.height))
	samples := h.width * h.height * 3

	read := func() (int, error) { return readPPMInt(br) }
	if h.binary {
		bytesPerSample := 1
		if h.maxVal > 255 {
			bytesPerSample = 2
		}
		raw := make([]byte, samples*bytesPerSample)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("read ppm pixels: %w", err)
		}
		i := 0
		read = func() (int, error) {
			var v int
			if bytesPerSample == 2 {
				v = int(raw[i])<<8 | int(raw[i+1])
			} else {
				v = int(raw[i])
			}
			i += bytesPerSample
			return v, nil
		}
	}

	scale := 255.0 / float64(h.maxVal)
	pixel := 0
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			var rgb [3]uint8
			for c := 0; c < 3; c++ {
				v, err := read()
				if err != nil {
					return nil, fmt.Errorf("read ppm pixel %d: %w", pixel, err)
				}
				if v > h.maxVal {
					return nil, fmt.Errorf("ppm sample %d exceeds max value %d", v, h.maxVal)
				}
				rgb[c] = uint8(float64(v)*scale + 0.5)
			}
			img.SetNRGBA(x, y, color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
			pixel++
		}
	}
	return img, nil
}

func decodePPMConfig(r io.Reader) (image.Config, error) {
	h, err := decodePPMHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      h.width,
		Height:     h.height,
	}, nil
}
