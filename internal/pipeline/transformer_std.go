package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/bitwear/internal/pixel"
	_ "golang.org/x/image/webp"
)

type stdlibTransformer struct{}

func (stdlibTransformer) Decode(ctx context.Context, input []byte) (pixel.Buffer, string, error) {
	select {
	case <-ctx.Done():
		return pixel.Buffer{}, "", ctx.Err()
	default:
	}

	src, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return pixel.Buffer{}, "", decodeError(err)
	}
	buf := pixel.FromImage(src)
	if buf.Empty() {
		return pixel.Buffer{}, "", decodeError(errors.New("image has no pixels"))
	}
	return buf, normalizeOutputFormat(format), nil
}

func (stdlibTransformer) Encode(ctx context.Context, buf pixel.Buffer, format string, quality int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if buf.Empty() {
		return nil, pixel.ErrEmptyBuffer
	}
	return encodeImage(buf.NRGBA(), normalizeOutputFormat(format), quality)
}

func encodeImage(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "webp":
		return nil, errors.New("webp export requires govips build tag")
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}
