package pixel

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
)

func noiseBuffer(w, h int, seed uint64) Buffer {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buf := New(w, h)
	for i := range buf.Pix {
		buf.Pix[i] = uint8(rng.IntN(256))
	}
	return buf
}

func solidBuffer(w, h int, r, g, b, a uint8) Buffer {
	buf := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.Set(x, y, r, g, b, a)
		}
	}
	return buf
}

func TestQuantizeColorsProducesStepMultiples(t *testing.T) {
	src := noiseBuffer(32, 32, 7)

	for _, levels := range []int{2, 3, 4, 8, 16, 32, 256} {
		out, err := QuantizeColors(src, levels)
		if err != nil {
			t.Fatalf("levels=%d: %v", levels, err)
		}
		step := 256 / levels
		for i := 0; i < len(out.Pix); i += 4 {
			for c := 0; c < 3; c++ {
				v := int(out.Pix[i+c])
				if v%step != 0 {
					t.Fatalf("levels=%d: channel value %d is not a multiple of %d", levels, v, step)
				}
			}
			if out.Pix[i+3] != src.Pix[i+3] {
				t.Fatalf("levels=%d: alpha changed at %d", levels, i)
			}
		}
	}
}

func TestQuantizeColorsClampsHighValues(t *testing.T) {
	src := solidBuffer(1, 1, 255, 250, 8, 200)

	out, err := QuantizeColors(src, 16)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	r, g, b, a := out.RGBA(0, 0)
	if r != 240 || g != 240 || b != 16 || a != 200 {
		t.Fatalf("unexpected quantized pixel (%d,%d,%d,%d)", r, g, b, a)
	}
}

func TestQuantizeColorsRejectsInvalidLevels(t *testing.T) {
	for _, levels := range []int{-1, 0, 1, 257} {
		if _, err := QuantizeColors(New(2, 2), levels); !errors.Is(err, ErrInvalidLevels) {
			t.Fatalf("levels=%d: expected ErrInvalidLevels, got %v", levels, err)
		}
	}
}

func TestBoostContrastIdentity(t *testing.T) {
	src := noiseBuffer(16, 16, 3)

	out, err := BoostContrast(src, 1)
	if err != nil {
		t.Fatalf("contrast: %v", err)
	}
	if !bytes.Equal(out.Pix, src.Pix) {
		t.Fatal("factor 1 must leave the buffer unchanged")
	}
	out.Pix[0]++
	if out.Pix[0] == src.Pix[0] {
		t.Fatal("contrast output must not alias its input")
	}
}

func TestBoostContrastSeparatesAndClamps(t *testing.T) {
	src := New(4, 1)
	src.Set(0, 0, 100, 100, 100, 255)
	src.Set(1, 0, 150, 150, 150, 255)
	src.Set(2, 0, 250, 250, 250, 255)
	src.Set(3, 0, 5, 5, 5, 255)

	out, err := BoostContrast(src, 1.5)
	if err != nil {
		t.Fatalf("contrast: %v", err)
	}

	lo, _, _, _ := out.RGBA(0, 0)
	hi, _, _, _ := out.RGBA(1, 0)
	if lo != 86 || hi != 161 {
		t.Fatalf("expected 86 and 161, got %d and %d", lo, hi)
	}
	if int(hi)-int(lo) < 50 {
		t.Fatalf("expected separation to grow beyond 50, got %d", int(hi)-int(lo))
	}
	if top, _, _, _ := out.RGBA(2, 0); top != 255 {
		t.Fatalf("expected clamp to 255, got %d", top)
	}
	if bottom, _, _, _ := out.RGBA(3, 0); bottom != 0 {
		t.Fatalf("expected clamp to 0, got %d", bottom)
	}
}

func TestBoostContrastRejectsNonPositiveFactor(t *testing.T) {
	if _, err := BoostContrast(New(1, 1), 0); !errors.Is(err, ErrInvalidFactor) {
		t.Fatalf("expected ErrInvalidFactor, got %v", err)
	}
}

func TestExtractOutlinesLeavesBorderUntouched(t *testing.T) {
	src := noiseBuffer(12, 9, 11)
	out := ExtractOutlines(src, 0)

	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			if x != 0 && y != 0 && x != src.Width-1 && y != src.Height-1 {
				continue
			}
			i := src.offset(x, y)
			if !bytes.Equal(out.Pix[i:i+4], src.Pix[i:i+4]) {
				t.Fatalf("border pixel (%d,%d) changed", x, y)
			}
		}
	}
}

func TestExtractOutlinesMarksVerticalEdge(t *testing.T) {
	src := New(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			red := uint8(0)
			if x >= 3 {
				red = 200
			}
			src.Set(x, y, red, 100, 100, 255)
		}
	}

	out := ExtractOutlines(src, 50)

	for y := 1; y < 4; y++ {
		for x := 1; x < 4; x++ {
			r, g, b, a := out.RGBA(x, y)
			edge := x == 2 || x == 3
			if edge && (r != 0 || g != 0 || b != 0) {
				t.Fatalf("expected (%d,%d) to be outlined, got (%d,%d,%d)", x, y, r, g, b)
			}
			if !edge && g != 100 {
				t.Fatalf("expected (%d,%d) to keep its colour, got g=%d", x, y, g)
			}
			if a != 255 {
				t.Fatalf("outline must not touch alpha at (%d,%d)", x, y)
			}
		}
	}
}

func TestExtractOutlinesSpreadsAlongScan(t *testing.T) {
	src := New(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			v := uint8(200)
			if x == 0 {
				v = 100
			}
			src.Set(x, y, v, v, v, 255)
		}
	}
	orig := src.Clone()

	out := ExtractOutlines(src, 50)

	// Only (1,y) sees the step in the input. The rest of each row goes
	// black because its left neighbour was blackened first.
	for y := 1; y < 4; y++ {
		for x := 1; x < 4; x++ {
			if r, g, b, a := out.RGBA(x, y); r != 0 || g != 0 || b != 0 || a != 255 {
				t.Fatalf("expected (%d,%d) outlined, got (%d,%d,%d,%d)", x, y, r, g, b, a)
			}
		}
	}
	for y := 0; y < 5; y++ {
		if r, _, _, _ := out.RGBA(0, y); r != 100 {
			t.Fatalf("border pixel (0,%d) changed to %d", y, r)
		}
		if r, _, _, _ := out.RGBA(4, y); r != 200 {
			t.Fatalf("border pixel (4,%d) changed to %d", y, r)
		}
	}
	if !bytes.Equal(src.Pix, orig.Pix) {
		t.Fatal("input buffer was modified")
	}
}

func TestResizeToSquareCropsCenter(t *testing.T) {
	src := New(300, 100)
	for y := 0; y < 100; y++ {
		for x := 0; x < 300; x++ {
			switch {
			case x < 100:
				src.Set(x, y, 255, 0, 0, 255)
			case x < 200:
				src.Set(x, y, 0, 255, 0, 255)
			default:
				src.Set(x, y, 0, 0, 255, 255)
			}
		}
	}

	out, err := ResizeToSquare(src, 10, Nearest)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if out.Width != 10 || out.Height != 10 {
		t.Fatalf("expected 10x10, got %dx%d", out.Width, out.Height)
	}
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			r, g, b, _ := out.RGBA(x, y)
			if r != 0 || g != 255 || b != 0 {
				t.Fatalf("expected only the green center, got (%d,%d,%d) at (%d,%d)", r, g, b, x, y)
			}
		}
	}

	smooth, err := ResizeToSquare(noiseBuffer(200, 100, 5), 64, Smooth)
	if err != nil {
		t.Fatalf("smooth resize: %v", err)
	}
	if smooth.Width != 64 || smooth.Height != 64 || len(smooth.Pix) != 64*64*4 {
		t.Fatalf("unexpected smooth output %dx%d", smooth.Width, smooth.Height)
	}
}

func TestResizeToSquareRejectsBadInput(t *testing.T) {
	if _, err := ResizeToSquare(New(4, 4), 0, Smooth); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	if _, err := ResizeToSquare(Buffer{}, 8, Smooth); !errors.Is(err, ErrEmptyBuffer) {
		t.Fatalf("expected ErrEmptyBuffer, got %v", err)
	}
}

func TestPixelateIsDeterministic(t *testing.T) {
	src := noiseBuffer(120, 90, 21)
	opts := HybridOptions()

	first, err := Pixelate(src, opts)
	if err != nil {
		t.Fatalf("pixelate: %v", err)
	}
	second, err := Pixelate(src, opts)
	if err != nil {
		t.Fatalf("pixelate: %v", err)
	}
	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatal("pixelate must be deterministic")
	}
	if first.Width != 24 || first.Height != 24 {
		t.Fatalf("expected 24x24, got %dx%d", first.Width, first.Height)
	}
}

func TestPixelateFilterKeepsPalette(t *testing.T) {
	out, err := Pixelate(noiseBuffer(90, 60, 2), FilterOptions())
	if err != nil {
		t.Fatalf("pixelate: %v", err)
	}
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			if out.Pix[i+c]%16 != 0 {
				t.Fatalf("channel value %d is off the 16-step palette", out.Pix[i+c])
			}
		}
	}
}

func TestPixelateRejectsInvalidOptions(t *testing.T) {
	opts := FilterOptions()
	opts.Levels = 1
	if _, err := Pixelate(New(8, 8), opts); !errors.Is(err, ErrInvalidLevels) {
		t.Fatalf("expected ErrInvalidLevels, got %v", err)
	}
}

func TestRemoveBackgroundKeepsSubject(t *testing.T) {
	src := solidBuffer(10, 10, 250, 250, 250, 255)
	for y := 3; y < 7; y++ {
		for x := 3; x < 7; x++ {
			src.Set(x, y, 20, 20, 20, 255)
		}
	}

	out := RemoveBackground(src, DefaultBackgroundTolerance)

	if _, _, _, a := out.RGBA(0, 0); a != 0 {
		t.Fatal("expected corner to become transparent")
	}
	if _, _, _, a := out.RGBA(9, 5); a != 0 {
		t.Fatal("expected edge background to become transparent")
	}
	if r, _, _, a := out.RGBA(5, 5); a != 255 || r != 20 {
		t.Fatalf("expected subject to stay opaque, got r=%d a=%d", r, a)
	}
}

func TestUpscaleNearest(t *testing.T) {
	src := New(2, 2)
	src.Set(0, 0, 10, 20, 30, 255)
	src.Set(1, 1, 200, 210, 220, 255)

	out, err := Upscale(src, 8)
	if err != nil {
		t.Fatalf("upscale: %v", err)
	}
	if out.Width != 16 || out.Height != 16 {
		t.Fatalf("expected 16x16, got %dx%d", out.Width, out.Height)
	}
	if r, g, b, _ := out.RGBA(7, 7); r != 10 || g != 20 || b != 30 {
		t.Fatalf("unexpected pixel (%d,%d,%d)", r, g, b)
	}
	if r, _, _, _ := out.RGBA(15, 15); r != 200 {
		t.Fatalf("unexpected pixel r=%d", r)
	}
}
