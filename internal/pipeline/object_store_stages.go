package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

type ObjectReader interface {
	ReadObjectLimited(ctx context.Context, objectKey string, limit int64) ([]byte, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStoreFetcher reads sources from the bucket. MaxBytes bounds the read;
// zero means unbounded.
type ObjectStoreFetcher struct {
	Storage  ObjectReader
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObjectLimited(ctx, req.ObjectKey, f.MaxBytes)
}

// ObjectStoreEmitter writes outputs under <prefix>/<key>/<name>.<format>.
type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, name string, data []byte, format string, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(name) == "" {
		return Output{}, errors.New("output name is required")
	}

	format = normalizeOutputFormat(format)
	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.Key),
		fmt.Sprintf("%s.%s", sanitizePathToken(name), format),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, data, MimeForFormat(format)); err != nil {
		return Output{}, err
	}

	return Output{
		Name:   name,
		Format: format,
		Path:   objectKey,
		Bytes:  len(data),
		Width:  width,
		Height: height,
		Data:   data,
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "artifacts"
	}
	return prefix
}
