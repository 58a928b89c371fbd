// Package pixel holds the pure raster operations behind the pixel-art look:
// square resampling, palette quantization, contrast and outline extraction.
//
// Every operation takes a Buffer by value and returns a new Buffer. Nothing in
// this package reads configuration or touches I/O, so a given input and
// option set always produce the same output.
package pixel

import (
	"errors"
	"image"
	"image/draw"
)

var ErrEmptyBuffer = errors.New("pixel buffer is empty")

// Buffer is a non-premultiplied RGBA raster, four bytes per pixel, row-major.
type Buffer struct {
	Width  int
	Height int
	Pix    []uint8
}

func New(width, height int) Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Buffer{Width: width, Height: height, Pix: make([]uint8, 4*width*height)}
}

// FromImage copies any image into a Buffer anchored at the origin.
func FromImage(img image.Image) Buffer {
	bounds := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && bounds.Min == (image.Point{}) && nrgba.Stride == 4*bounds.Dx() {
		pix := make([]uint8, len(nrgba.Pix))
		copy(pix, nrgba.Pix)
		return Buffer{Width: bounds.Dx(), Height: bounds.Dy(), Pix: pix}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return Buffer{Width: bounds.Dx(), Height: bounds.Dy(), Pix: dst.Pix}
}

// NRGBA wraps the buffer without copying. Writes through the image are
// visible in the buffer.
func (b Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: 4 * b.Width,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

func (b Buffer) Clone() Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return Buffer{Width: b.Width, Height: b.Height, Pix: pix}
}

func (b Buffer) Empty() bool {
	return b.Width <= 0 || b.Height <= 0 || len(b.Pix) < 4*b.Width*b.Height
}

func (b Buffer) offset(x, y int) int {
	return 4 * (y*b.Width + x)
}

// RGBA returns the channels of the pixel at (x, y).
func (b Buffer) RGBA(x, y int) (r, g, bl, a uint8) {
	i := b.offset(x, y)
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

func (b Buffer) Set(x, y int, r, g, bl, a uint8) {
	i := b.offset(x, y)
	b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3] = r, g, bl, a
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
