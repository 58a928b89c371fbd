package provider

import (
	"context"
	"errors"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/pixel"
)

const demoSize = 64

// Filter runs the local pixelation pipeline. It never touches the network.
type Filter struct {
	synchronous
	processor *pipeline.Processor
	options   pixel.Options
}

func NewFilter(processor *pipeline.Processor, opts pixel.Options) (*Filter, error) {
	if processor == nil {
		return nil, errors.New("filter provider requires a processor")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Filter{synchronous: synchronous{id: IDFilter}, processor: processor, options: opts}, nil
}

func (*Filter) ID() string { return IDFilter }

func (f *Filter) Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	opts := f.options
	if req.TargetSize > 0 {
		opts.TargetSize = req.TargetSize
	}
	data, art, err := f.processor.Pixelate(ctx, req.Source.Data, opts, "png")
	if err != nil {
		return Handle{}, localError("filter.submit", err)
	}
	return Handle{Artifact: &domain.EncodedImage{Data: data, MimeType: domain.MimePNG, Width: art.Width, Height: art.Height}}, nil
}

// Demo is a nearest-neighbour downscale with no quantization. It lets the
// whole flow run without provider credentials.
type Demo struct {
	synchronous
	transformer pipeline.Transformer
}

func NewDemo(t pipeline.Transformer) (*Demo, error) {
	if t == nil {
		return nil, errors.New("demo provider requires a transformer")
	}
	return &Demo{synchronous: synchronous{id: IDDemo}, transformer: t}, nil
}

func (*Demo) ID() string { return IDDemo }

func (d *Demo) Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	size := req.TargetSize
	if size <= 0 {
		size = demoSize
	}
	buf, _, err := d.transformer.Decode(ctx, req.Source.Data)
	if err != nil {
		return Handle{}, localError("demo.submit", err)
	}
	small, err := pixel.Resize(buf, size, size, pixel.Nearest)
	if err != nil {
		return Handle{}, domain.NewError(domain.KindDecode, "demo.submit", "resize", err)
	}
	data, err := d.transformer.Encode(ctx, small, "png", 0)
	if err != nil {
		return Handle{}, localError("demo.submit", err)
	}
	return Handle{Artifact: &domain.EncodedImage{Data: data, MimeType: domain.MimePNG, Width: size, Height: size}}, nil
}

// localError classifies a failure of the in-process pipeline. Anything that
// is not a context error or an already classified error means the source
// could not be processed.
func localError(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Classify(op, err)
	}
	return domain.NewError(domain.KindDecode, op, "", err)
}
