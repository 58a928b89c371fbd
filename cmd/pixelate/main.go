// Command pixelate runs the local pixel-art filter on one photo.
//
//	pixelate -in photo.jpg -out art.png [-size 64 -levels 16 -contrast 1.0 -outline 50 -resample smooth -scale 8]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/pixel"
	"github.com/dunamismax/bitwear/internal/telemetry"
)

func main() {
	defaults := pixel.FilterOptions()

	in := flag.String("in", "", "input photo (jpeg, png or webp)")
	out := flag.String("out", "", "output pixel art path; the extension picks the format")
	size := flag.Int("size", defaults.TargetSize, "output side length in pixels")
	levels := flag.Int("levels", defaults.Levels, "colour levels per channel")
	contrast := flag.Float64("contrast", defaults.Contrast, "contrast factor")
	outline := flag.Int("outline", defaults.OutlineThreshold, "outline gradient threshold")
	resample := flag.String("resample", string(defaults.Resample), "resize interpolation: smooth or nearest")
	scale := flag.Int("scale", 0, "also write a nearest-upscaled preview at this factor")
	flag.Parse()

	logger := telemetry.NewLogger(os.Getenv("BITWEAR_ENV"), "bitwear-pixelate")
	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := pixel.Options{
		TargetSize:       *size,
		Levels:           *levels,
		Contrast:         *contrast,
		OutlineThreshold: *outline,
		Resample:         pixel.ParseResample(*resample),
	}
	err := run(ctx, logger, *in, *out, opts, *scale)
	pipeline.Shutdown()
	if err != nil {
		logger.Error().Err(err).Msg("pixelate failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger zerolog.Logger, in, out string, opts pixel.Options, scale int) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	emitter := pathEmitter{paths: map[string]string{
		"pixel-art": out,
		"preview":   previewPath(out),
	}}
	processor, err := pipeline.NewProcessor(pipeline.LocalFileFetcher{}, emitter)
	if err != nil {
		return err
	}

	result, err := processor.Process(ctx, pipeline.Request{
		Key:          strings.TrimSuffix(filepath.Base(in), filepath.Ext(in)),
		SourceType:   pipeline.SourceTypeLocalFile,
		ObjectKey:    in,
		Options:      opts,
		Format:       formatForPath(out),
		PreviewScale: scale,
	})
	if err != nil {
		return err
	}

	for _, o := range result.Outputs {
		logger.Info().
			Str("output", o.Name).
			Str("path", o.Path).
			Int("width", o.Width).
			Int("height", o.Height).
			Int("bytes", o.Bytes).
			Msg("written")
	}
	return nil
}

// pathEmitter writes each named output to a fixed path.
type pathEmitter struct {
	paths map[string]string
}

func (e pathEmitter) Emit(_ context.Context, _ pipeline.Request, name string, data []byte, format string, width, height int) (pipeline.Output, error) {
	path, ok := e.paths[name]
	if !ok {
		return pipeline.Output{}, fmt.Errorf("no path for output %q", name)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return pipeline.Output{}, fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pipeline.Output{}, fmt.Errorf("write %s: %w", path, err)
	}
	return pipeline.Output{Name: name, Format: format, Path: path, Bytes: len(data), Width: width, Height: height}, nil
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	default:
		return "png"
	}
}

// previewPath turns art.png into art.preview.png.
func previewPath(out string) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + ".preview" + ext
}
