//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/bitwear/internal/pixel"
)

type govipsTransformer struct{}

func (govipsTransformer) Decode(ctx context.Context, input []byte) (pixel.Buffer, string, error) {
	select {
	case <-ctx.Done():
		return pixel.Buffer{}, "", ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return pixel.Buffer{}, "", decodeError(err)
	}
	defer img.Close()

	format := formatFromVips(vips.DetermineImageType(input))
	decoded, err := img.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return pixel.Buffer{}, "", decodeError(err)
	}
	return pixel.FromImage(decoded), format, nil
}

// Encode goes through a lossless PNG intermediate so libvips can export
// formats the standard library lacks.
func (govipsTransformer) Encode(ctx context.Context, buf pixel.Buffer, format string, quality int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if buf.Empty() {
		return nil, pixel.ErrEmptyBuffer
	}

	format = normalizeOutputFormat(format)
	intermediate, err := encodeImage(buf.NRGBA(), "png", 0)
	if err != nil {
		return nil, err
	}
	if format == "png" {
		return intermediate, nil
	}

	img, err := vips.NewImageFromBuffer(intermediate)
	if err != nil {
		return nil, fmt.Errorf("load intermediate png: %w", err)
	}
	defer img.Close()

	return exportGovipsImage(img, format, quality)
}

func formatFromVips(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypeWEBP:
		return "webp"
	default:
		return "png"
	}
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
