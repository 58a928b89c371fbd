package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/bitwear/internal/pixel"
)

const (
	SourceTypeLocalFile = "local_file"
	SourceTypeObject    = "object"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request describes one fetch -> pixelate -> emit run.
type Request struct {
	Key          string
	SourceType   string
	ObjectKey    string
	Options      pixel.Options
	Format       string
	Quality      int
	PreviewScale int
}

type Output struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"-"`
}

type Result struct {
	Outputs     []Output
	SourceBytes int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Emitter persists one named output and reports where it went.
type Emitter interface {
	Emit(ctx context.Context, req Request, name string, data []byte, format string, width, height int) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
}

// NewProcessor wires a processor. Fetcher and emitter may be nil when only
// Pixelate and Encode are used.
func NewProcessor(fetcher Fetcher, emitter Emitter) (*Processor, error) {
	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}
	return &Processor{fetcher: fetcher, transformer: transformer, emitter: emitter}, nil
}

func NewLocalProcessor(outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Transformer() Transformer {
	return p.transformer
}

// Process fetches the source, pixelates it and emits the pixel art plus an
// optional nearest-upscaled preview.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Key) == "" {
		return Result{}, errors.New("key is required")
	}
	if p.fetcher == nil || p.emitter == nil {
		return Result{}, errors.New("processor has no fetcher or emitter")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	art, err := p.PixelateBuffer(ctx, sourceBytes, req.Options)
	if err != nil {
		return Result{}, fmt.Errorf("pixelate stage: %w", err)
	}

	out := Result{SourceBytes: len(sourceBytes)}
	written, err := p.emit(ctx, req, "pixel-art", art)
	if err != nil {
		return Result{}, err
	}
	out.Outputs = append(out.Outputs, written)

	if req.PreviewScale > 1 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		preview, err := pixel.Upscale(art, req.PreviewScale)
		if err != nil {
			return Result{}, fmt.Errorf("preview stage: %w", err)
		}
		written, err := p.emit(ctx, req, "preview", preview)
		if err != nil {
			return Result{}, err
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

func (p *Processor) emit(ctx context.Context, req Request, name string, buf pixel.Buffer) (Output, error) {
	format := normalizeOutputFormat(req.Format)
	data, err := p.transformer.Encode(ctx, buf, format, req.Quality)
	if err != nil {
		return Output{}, fmt.Errorf("encode stage output=%s: %w", name, err)
	}
	written, err := p.emitter.Emit(ctx, req, name, data, format, buf.Width, buf.Height)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage output=%s: %w", name, err)
	}
	return written, nil
}

// PixelateBuffer decodes input and runs the pixel pipeline on it.
func (p *Processor) PixelateBuffer(ctx context.Context, input []byte, opts pixel.Options) (pixel.Buffer, error) {
	buf, _, err := p.transformer.Decode(ctx, input)
	if err != nil {
		return pixel.Buffer{}, err
	}

	select {
	case <-ctx.Done():
		return pixel.Buffer{}, ctx.Err()
	default:
	}

	return pixel.Pixelate(buf, opts)
}

// Pixelate decodes, pixelates and re-encodes in one call.
func (p *Processor) Pixelate(ctx context.Context, input []byte, opts pixel.Options, format string) ([]byte, pixel.Buffer, error) {
	art, err := p.PixelateBuffer(ctx, input, opts)
	if err != nil {
		return nil, pixel.Buffer{}, err
	}
	data, err := p.transformer.Encode(ctx, art, format, 0)
	if err != nil {
		return nil, pixel.Buffer{}, err
	}
	return data, art, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, name string, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(name) == "" {
		return Output{}, errors.New("output name is required")
	}

	dir := filepath.Join(e.OutputDir, sanitizePathToken(req.Key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	format = normalizeOutputFormat(format)
	fullPath := filepath.Join(dir, fmt.Sprintf("%s.%s", sanitizePathToken(name), format))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Name:   name,
		Format: format,
		Path:   fullPath,
		Bytes:  len(data),
		Width:  width,
		Height: height,
		Data:   data,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
