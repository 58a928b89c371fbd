package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/pixel"
)

func TestRunWritesArtAndPreview(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "photo.png")
	out := filepath.Join(dir, "out", "art.png")

	src := image.NewNRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			src.Set(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 3), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode input: %v", err)
	}
	if err := os.WriteFile(in, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	opts := pixel.FilterOptions()
	opts.TargetSize = 16
	if err := run(context.Background(), zerolog.Nop(), in, out, opts, 4); err != nil {
		t.Fatalf("run: %v", err)
	}

	assertPNGSize(t, out, 16)
	assertPNGSize(t, filepath.Join(dir, "out", "art.preview.png"), 64)
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	opts := pixel.FilterOptions()
	opts.Levels = 1
	if err := run(context.Background(), zerolog.Nop(), "in.png", "out.png", opts, 0); err == nil {
		t.Fatal("expected invalid levels to fail")
	}
}

func TestPaths(t *testing.T) {
	if got := previewPath("art/cat.jpg"); got != "art/cat.preview.jpg" {
		t.Fatalf("unexpected preview path %q", got)
	}
	if formatForPath("x.JPEG") != "jpeg" || formatForPath("x.png") != "png" || formatForPath("x") != "png" {
		t.Fatal("unexpected format mapping")
	}
}

func assertPNGSize(t *testing.T, path string, side int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	if cfg.Width != side || cfg.Height != side {
		t.Fatalf("expected %dx%d, got %dx%d", side, side, cfg.Width, cfg.Height)
	}
}
