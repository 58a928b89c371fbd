package pipeline

import (
	"context"
	"strings"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pixel"
)

// Transformer is the raster codec. The default build uses the standard
// library plus x/image; the govips build tag swaps in libvips.
type Transformer interface {
	Decode(ctx context.Context, input []byte) (buf pixel.Buffer, format string, err error)
	Encode(ctx context.Context, buf pixel.Buffer, format string, quality int) ([]byte, error)
}

// NewTransformer returns the codec selected at build time.
func NewTransformer() (Transformer, error) {
	return newTransformer()
}

func normalizeOutputFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return "jpeg"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}

// MimeForFormat maps a codec format name to its MIME type.
func MimeForFormat(format string) string {
	switch normalizeOutputFormat(format) {
	case "jpeg":
		return domain.MimeJPEG
	case "webp":
		return domain.MimeWebP
	default:
		return domain.MimePNG
	}
}

// FormatForMime is the inverse of MimeForFormat.
func FormatForMime(mime string) string {
	switch normalizeMime(mime) {
	case domain.MimeJPEG:
		return "jpeg"
	case domain.MimeWebP:
		return "webp"
	default:
		return "png"
	}
}

func normalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "image/jpg" || mime == "image/pjpeg" {
		return domain.MimeJPEG
	}
	return mime
}

func decodeError(err error) error {
	return domain.NewError(domain.KindDecode, "decode", "unreadable image", err)
}
