package pixel

import (
	"errors"
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

var (
	ErrInvalidSize   = errors.New("target size must be positive")
	ErrInvalidLevels = errors.New("quantization levels must be between 2 and 256")
	ErrInvalidFactor = errors.New("contrast factor must be positive")
)

// Resample selects the interpolation used when resizing.
type Resample string

const (
	// Smooth averages neighbouring pixels. Used before quantization.
	Smooth Resample = "smooth"
	// Nearest keeps hard pixel edges.
	Nearest Resample = "nearest"
)

func (r Resample) interpolator() xdraw.Interpolator {
	if r == Nearest {
		return xdraw.NearestNeighbor
	}
	return xdraw.BiLinear
}

// ParseResample maps a user-facing name onto a Resample. Unknown names yield
// Smooth.
func ParseResample(name string) Resample {
	if Resample(name) == Nearest {
		return Nearest
	}
	return Smooth
}

// ResizeToSquare center-crops buf to a square on its shorter side and
// resamples the crop to size×size.
func ResizeToSquare(buf Buffer, size int, mode Resample) (Buffer, error) {
	if size < 1 {
		return Buffer{}, ErrInvalidSize
	}
	if buf.Empty() {
		return Buffer{}, ErrEmptyBuffer
	}

	side := min(buf.Width, buf.Height)
	ox := (buf.Width - side) / 2
	oy := (buf.Height - side) / 2

	return scale(buf, image.Rect(ox, oy, ox+side, oy+side), size, size, mode), nil
}

// Resize scales the whole buffer to width×height without cropping.
func Resize(buf Buffer, width, height int, mode Resample) (Buffer, error) {
	if width < 1 || height < 1 {
		return Buffer{}, ErrInvalidSize
	}
	if buf.Empty() {
		return Buffer{}, ErrEmptyBuffer
	}
	return scale(buf, image.Rect(0, 0, buf.Width, buf.Height), width, height, mode), nil
}

// Upscale enlarges buf by an integer factor with nearest sampling, for
// crisp previews of small pixel art.
func Upscale(buf Buffer, factor int) (Buffer, error) {
	if factor < 1 {
		return Buffer{}, ErrInvalidSize
	}
	if factor == 1 {
		return buf.Clone(), nil
	}
	return Resize(buf, buf.Width*factor, buf.Height*factor, Nearest)
}

func scale(buf Buffer, src image.Rectangle, width, height int, mode Resample) Buffer {
	source := buf.NRGBA()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	mode.interpolator().Scale(dst, dst.Bounds(), source, src, xdraw.Src, nil)

	// Kernel rounding can leave alpha one step short of opaque.
	if source.SubImage(src).(*image.NRGBA).Opaque() {
		for i := 3; i < len(dst.Pix); i += 4 {
			dst.Pix[i] = 255
		}
	}
	return Buffer{Width: width, Height: height, Pix: dst.Pix}
}

// QuantizeColors snaps R, G and B to multiples of floor(256/levels). A value
// that would round past 255 takes the largest multiple that fits. Alpha is
// left untouched.
func QuantizeColors(buf Buffer, levels int) (Buffer, error) {
	if levels < 2 || levels > 256 {
		return Buffer{}, fmt.Errorf("%w: %d", ErrInvalidLevels, levels)
	}

	step := 256 / levels
	ceiling := (255 / step) * step

	var table [256]uint8
	for v := range table {
		q := int(math.Round(float64(v)/float64(step))) * step
		if q > 255 {
			q = ceiling
		}
		table[v] = uint8(q)
	}

	out := buf.Clone()
	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i] = table[out.Pix[i]]
		out.Pix[i+1] = table[out.Pix[i+1]]
		out.Pix[i+2] = table[out.Pix[i+2]]
	}
	return out, nil
}

// BoostContrast applies v' = clamp((v-128)*factor+128) to R, G and B.
func BoostContrast(buf Buffer, factor float64) (Buffer, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return Buffer{}, fmt.Errorf("%w: %v", ErrInvalidFactor, factor)
	}

	out := buf.Clone()
	if factor == 1 {
		return out, nil
	}

	var table [256]uint8
	for v := range table {
		table[v] = clamp8(math.Round((float64(v)-128)*factor + 128))
	}
	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i] = table[out.Pix[i]]
		out.Pix[i+1] = table[out.Pix[i+1]]
		out.Pix[i+2] = table[out.Pix[i+2]]
	}
	return out, nil
}

// ExtractOutlines blackens interior pixels whose red-channel gradient
// |right-left| + |bottom-top| exceeds threshold. It is a single row-major
// pass over the copy it returns: a pixel blackened earlier in the scan is the
// left or top neighbour of later ones, so outlines spread along a hard edge.
// Border pixels are never changed and buf is left as is.
func ExtractOutlines(buf Buffer, threshold int) Buffer {
	out := buf.Clone()
	if out.Width < 3 || out.Height < 3 {
		return out
	}

	red := func(x, y int) int { return int(out.Pix[out.offset(x, y)]) }
	for y := 1; y < out.Height-1; y++ {
		for x := 1; x < out.Width-1; x++ {
			gx := abs(red(x+1, y) - red(x-1, y))
			gy := abs(red(x, y+1) - red(x, y-1))
			if gx+gy > threshold {
				i := out.offset(x, y)
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = 0, 0, 0
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
