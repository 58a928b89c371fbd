package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/bitwear/internal/domain"
)

const (
	maxResponseBytes = 32 << 20
	maxErrorBody     = 2 << 10
)

// doJSON sends req and decodes a 2xx JSON body into out. Transport failures
// are NetworkError (Timeout once the context deadline passed) and non-2xx
// responses are ProviderRejected with the body attached.
func doJSON(client *http.Client, op string, req *http.Request, out any) error {
	body, _, err := doRaw(client, op, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.Error{Kind: domain.KindProviderRejected, Op: op, Message: "malformed response", Body: truncate(body), Err: err}
	}
	return nil
}

func doRaw(client *http.Client, op string, req *http.Request) ([]byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, transportError(req.Context(), op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, transportError(req.Context(), op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &domain.Error{
			Kind:       domain.KindProviderRejected,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(body),
		}
	}
	return body, resp.Header, nil
}

func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewError(domain.KindTimeout, op, "deadline exceeded", err)
	}
	return domain.NewError(domain.KindNetwork, op, "", err)
}

func newJSONRequest(ctx context.Context, method, target string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// fetchNoCache downloads an artifact, bypassing intermediary caches with a
// t=<unix-nanos> parameter and no-cache headers. data: URLs never touch the
// network.
func fetchNoCache(ctx context.Context, client *http.Client, now func() time.Time, op, location string) (domain.EncodedImage, error) {
	location = strings.TrimSpace(location)
	if strings.HasPrefix(location, "data:") {
		return DecodeDataURL(location)
	}

	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.EncodedImage{}, domain.NewError(domain.KindProviderRejected, op, "invalid artifact location "+strconv.Quote(location), err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.EncodedImage{}, domain.NewError(domain.KindNetwork, op, "", err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")

	body, header, err := doRaw(client, op, req)
	if err != nil {
		return domain.EncodedImage{}, err
	}
	if len(body) == 0 {
		return domain.EncodedImage{}, domain.NewError(domain.KindProviderRejected, op, "empty artifact body", nil)
	}

	return domain.EncodedImage{Data: body, MimeType: sniffMime(header.Get("Content-Type"), body)}, nil
}

func sniffMime(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(data)
}

// DataURL renders img as a base64 data URL.
func DataURL(img domain.EncodedImage) string {
	mime := img.MimeType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// DecodeDataURL parses a base64 data URL.
func DecodeDataURL(value string) (domain.EncodedImage, error) {
	const op = "data_url"

	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "data:")
	if !ok {
		return domain.EncodedImage{}, domain.NewError(domain.KindDecode, op, "not a data URL", nil)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return domain.EncodedImage{}, domain.NewError(domain.KindDecode, op, "data URL is not base64", nil)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.EncodedImage{}, domain.NewError(domain.KindDecode, op, "invalid base64 payload", err)
	}
	return domain.EncodedImage{Data: data, MimeType: sniffMime(strings.TrimSuffix(meta, ";base64"), data)}, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
