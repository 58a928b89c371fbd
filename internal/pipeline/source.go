package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pixel"
)

const (
	MaxSourceBytes     = 10 << 20
	MaxSourceDimension = 1024
	sourceJPEGQuality  = 90
)

var acceptedSourceMimes = map[string]bool{
	domain.MimeJPEG: true,
	domain.MimePNG:  true,
	domain.MimeWebP: true,
}

// PrepareSource validates an upload and downscales it so the longer side is
// at most MaxSourceDimension. Oversized images are re-encoded as JPEG; others
// keep their original bytes.
func PrepareSource(ctx context.Context, t Transformer, data []byte, declaredMime string, maxBytes int64) (domain.SourceImage, error) {
	if len(data) == 0 {
		return domain.SourceImage{}, domain.NewError(domain.KindDecode, "source", "empty upload", nil)
	}
	if maxBytes <= 0 {
		maxBytes = MaxSourceBytes
	}
	if int64(len(data)) > maxBytes {
		return domain.SourceImage{}, domain.NewError(domain.KindDecode, "source", fmt.Sprintf("image exceeds %d bytes", maxBytes), nil)
	}

	mime := normalizeMime(declaredMime)
	if mime == "" || mime == "application/octet-stream" {
		mime = normalizeMime(http.DetectContentType(data))
	}
	if !acceptedSourceMimes[mime] {
		return domain.SourceImage{}, domain.NewError(domain.KindDecode, "source", "unsupported image type "+mime, nil)
	}

	buf, _, err := t.Decode(ctx, data)
	if err != nil {
		return domain.SourceImage{}, err
	}

	src := domain.SourceImage{
		EncodedImage: domain.EncodedImage{Data: data, MimeType: mime, Width: buf.Width, Height: buf.Height},
		UploadedAt:   time.Now().UTC(),
	}
	if buf.Width <= MaxSourceDimension && buf.Height <= MaxSourceDimension {
		return src, nil
	}

	w, h := fitWithin(buf.Width, buf.Height, MaxSourceDimension)
	scaled, err := pixel.Resize(buf, w, h, pixel.Smooth)
	if err != nil {
		return domain.SourceImage{}, fmt.Errorf("downscale source: %w", err)
	}
	encoded, err := t.Encode(ctx, scaled, "jpeg", sourceJPEGQuality)
	if err != nil {
		return domain.SourceImage{}, fmt.Errorf("re-encode source: %w", err)
	}

	src.Data = encoded
	src.MimeType = domain.MimeJPEG
	src.Width = w
	src.Height = h
	return src, nil
}

func fitWithin(w, h, limit int) (int, int) {
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}
