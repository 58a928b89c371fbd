package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/orchestrator"
	"github.com/dunamismax/bitwear/internal/order"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/provider"
	"github.com/dunamismax/bitwear/internal/ratelimit"
	"github.com/dunamismax/bitwear/internal/session"
	"github.com/dunamismax/bitwear/internal/storage"
	"github.com/dunamismax/bitwear/internal/store"
)

// blockingProvider holds every submission until release is closed.
type blockingProvider struct {
	release chan struct{}
}

func (*blockingProvider) ID() string { return provider.IDOpenAI }

func (b *blockingProvider) Submit(ctx context.Context, _ domain.GenerationRequest) (provider.Handle, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return provider.Handle{}, ctx.Err()
	}
	img := domain.EncodedImage{Data: []byte("late"), MimeType: domain.MimePNG, Width: 64, Height: 64}
	return provider.Handle{Artifact: &img}, nil
}

func (*blockingProvider) Poll(context.Context, provider.Handle) (provider.PollStatus, error) {
	return provider.PollStatus{State: provider.PollFailed}, nil
}

func (*blockingProvider) Fetch(context.Context, string) (domain.EncodedImage, error) {
	return domain.EncodedImage{}, errors.New("not used")
}

type submitted struct {
	art      domain.Artifact
	ref      string
	customer order.Customer
	sel      mockup.Selection
}

type fakeOrders struct {
	mu   sync.Mutex
	got  []submitted
	err  error
	next int
}

func (f *fakeOrders) Submit(_ context.Context, art domain.Artifact, ref string, customer order.Customer, sel mockup.Selection) (order.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return order.Result{}, f.err
	}
	if err := customer.Validate(); err != nil {
		return order.Result{}, err
	}
	f.got = append(f.got, submitted{art: art, ref: ref, customer: customer, sel: sel})
	f.next++
	return order.Result{
		Order:      order.Order{ID: fmt.Sprintf("ORD-1-%09d", f.next), Customer: customer, Selection: sel},
		ProductID:  int64(100 + f.next),
		ProductURL: "https://shop.example.com/products/custom",
		Tracking:   order.TrackingQueued,
	}, nil
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	orders   *fakeOrders
	attempts *store.MemoryAttemptStore
	blocking *blockingProvider
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()

	transformer, err := pipeline.NewTransformer()
	if err != nil {
		t.Fatalf("new transformer: %v", err)
	}
	demo, err := provider.NewDemo(transformer)
	if err != nil {
		t.Fatalf("new demo provider: %v", err)
	}
	blocking := &blockingProvider{release: make(chan struct{})}
	t.Cleanup(func() { close(blocking.release) })

	catalog, err := mockup.DefaultCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	compositor, err := mockup.NewCompositor(catalog, transformer, zerolog.Nop())
	if err != nil {
		t.Fatalf("compositor: %v", err)
	}

	metrics := NewMetrics()
	attempts := store.NewMemoryAttemptStore()
	recorder := store.NewRecorder(attempts, zerolog.Nop())
	registry := provider.NewRegistry(demo, blocking)

	sessions, err := session.NewStore(session.Options{
		NewOrchestrator: func(sessionID string) (*orchestrator.Orchestrator, error) {
			return orchestrator.New(orchestrator.Options{
				Providers:   registry,
				DefaultMode: orchestrator.ModeDemo,
				Logger:      zerolog.Nop(),
				Observers:   []orchestrator.Observer{metrics.ObserveAttempt, recorder.Observer(sessionID)},
			})
		},
		DefaultSelection: catalog.DefaultSelection(),
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	orders := &fakeOrders{}
	srv, err := NewServer(Options{
		Logger:                zerolog.Nop(),
		Sessions:              sessions,
		Compositor:            compositor,
		Transformer:           transformer,
		Emitter:               pipeline.LocalFileEmitter{OutputDir: t.TempDir()},
		Orders:                orders,
		Attempts:              attempts,
		RateLimiter:           limiter,
		RateLimitUserIDHeader: "X-Session-ID",
		Metrics:               metrics,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{server: srv, handler: srv.Handler(), orders: orders, attempts: attempts, blocking: blocking}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return e.do(t, method, path, r, "application/json")
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.doJSON(t, http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	return decodeSnapshot(t, rec).ID
}

func (e *testEnv) upload(t *testing.T, path string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="photo.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return e.do(t, http.MethodPut, path, &body, mw.FormDataContentType())
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, rec.Body.String())
	}
	return snap
}

func photoPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestHealthzAndCatalog(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.doJSON(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}

	rec := env.doJSON(t, http.MethodGet, "/v1/catalog", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog: status %d", rec.Code)
	}
	var body struct {
		Products []catalogProduct `json:"products"`
		Sizes    []string         `json:"sizes"`
		Modes    []string         `json:"modes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(body.Products) != 3 || body.Products[0].ID != "tshirt" || body.Products[0].PriceText != domain.FormatPrice(1500) {
		t.Fatalf("unexpected products %+v", body.Products)
	}
	if len(body.Products[0].Positions) != 4 || len(body.Sizes) != 5 || len(body.Modes) != 7 {
		t.Fatalf("unexpected catalog body %s", rec.Body.String())
	}
}

func TestWizardFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	rec := env.upload(t, base+"/source", photoPNG(t, 200, 100))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}
	if snap := decodeSnapshot(t, rec); snap.Step != session.StepConvert || snap.Source == nil || snap.Source.Width != 200 {
		t.Fatalf("unexpected snapshot after upload %+v", snap)
	}

	rec = env.doJSON(t, http.MethodPost, base+"/convert?wait=1", `{"mode":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("convert: status %d body %s", rec.Code, rec.Body.String())
	}
	if snap := decodeSnapshot(t, rec); !snap.Conversion.HasCandidate || snap.Conversion.State != orchestrator.StateSucceeded {
		t.Fatalf("expected a candidate, got %+v", snap.Conversion)
	}

	rec = env.doJSON(t, http.MethodGet, base+"/candidate", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != domain.MimePNG {
		t.Fatalf("candidate: status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = env.doJSON(t, http.MethodPost, base+"/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if snap.Step != session.StepCustomize || snap.ArtifactRef == "" || snap.Artifact == nil {
		t.Fatalf("unexpected snapshot after approve %+v", snap)
	}

	if rec := env.doJSON(t, http.MethodGet, base+"/artifact", ""); rec.Code != http.StatusOK {
		t.Fatalf("artifact: status %d", rec.Code)
	}

	rec = env.doJSON(t, http.MethodGet, base+"/placement", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("placement: status %d", rec.Code)
	}
	var placement struct {
		Label     string           `json:"label"`
		Placement mockup.Placement `json:"placement"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &placement); err != nil {
		t.Fatalf("decode placement: %v", err)
	}
	if !placement.Placement.Visible || placement.Placement.CSS.Top == "" || placement.Label == "" {
		t.Fatalf("unexpected placement %s", rec.Body.String())
	}

	rec = env.doJSON(t, http.MethodPut, base+"/selection", `{"product":"hat","color":"red"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("selection: status %d body %s", rec.Code, rec.Body.String())
	}
	if sel := decodeSnapshot(t, rec).Selection; sel.Product != "hat" || sel.Position != "front" || sel.Color != "red" {
		t.Fatalf("unexpected selection %+v", sel)
	}

	rec = env.doJSON(t, http.MethodGet, base+"/preview?format=jpeg", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != domain.MimeJPEG {
		t.Fatalf("preview: status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	preview, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if b := preview.Bounds(); b.Dx() != 800 || b.Dy() != 1000 {
		t.Fatalf("unexpected preview size %v", b)
	}

	rec = env.doJSON(t, http.MethodPost, base+"/order",
		`{"name":"Ayşe","email":"ayse@example.com","phone":"+90 555","address":"İstanbul","selection":{"size":"M"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("order: status %d body %s", rec.Code, rec.Body.String())
	}
	if len(env.orders.got) != 1 {
		t.Fatalf("expected one submitted order, got %d", len(env.orders.got))
	}
	got := env.orders.got[0]
	if got.ref != snap.ArtifactRef || got.sel.Size != "M" || got.sel.Product != "hat" || got.art.Empty() {
		t.Fatalf("unexpected submission %+v", got)
	}

	rec = env.doJSON(t, http.MethodGet, base, "")
	final := decodeSnapshot(t, rec)
	if final.Step != session.StepOrdered || final.Order == nil || final.Order.ProductID != 101 {
		t.Fatalf("unexpected final snapshot %+v", final)
	}

	rec = env.doJSON(t, http.MethodGet, base+"/attempts", "")
	var list struct {
		Attempts []store.AttemptRecord `json:"attempts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode attempts: %v", err)
	}
	if len(list.Attempts) != 1 || list.Attempts[0].Outcome != string(domain.OutcomeSuccess) {
		t.Fatalf("unexpected attempts %s", rec.Body.String())
	}
}

func TestConvertErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	if rec := env.doJSON(t, http.MethodGet, "/v1/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodPost, base+"/convert", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a source, got %d", rec.Code)
	}

	if rec := env.upload(t, base+"/source", []byte("not an image at all")); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a bad upload, got %d body %s", rec.Code, rec.Body.String())
	}
	if rec := env.upload(t, base+"/source", photoPNG(t, 40, 40)); rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d", rec.Code)
	}

	rec := env.doJSON(t, http.MethodPost, base+"/convert", `{"mode":"sketch"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Kind != domain.KindConfiguration || body.Recovery != domain.RecoverySupplyOwn || body.Retryable {
		t.Fatalf("unexpected error body %+v", body)
	}

	if rec := env.doJSON(t, http.MethodPost, base+"/approve", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 approving without a candidate, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodGet, base+"/preview", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 previewing without art, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodPost, base+"/order", `{"name":"a","email":"a@b.co","phone":"1","address":"x"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 ordering without art, got %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodPost, base+"/source/presign", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without storage, got %d", rec.Code)
	}
}

func TestConvertWhileBusy(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	if rec := env.upload(t, base+"/source", photoPNG(t, 40, 40)); rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d", rec.Code)
	}

	rec := env.doJSON(t, http.MethodPost, base+"/convert", `{"mode":"openai"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("convert: status %d body %s", rec.Code, rec.Body.String())
	}
	if snap := decodeSnapshot(t, rec); !snap.Conversion.Processing {
		t.Fatalf("expected processing, got %+v", snap.Conversion)
	}

	rec = env.doJSON(t, http.MethodPost, base+"/regenerate", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", rec.Code)
	}

	// A new upload cancels the attempt in flight.
	if rec := env.upload(t, base+"/source", photoPNG(t, 50, 50)); rec.Code != http.StatusOK {
		t.Fatalf("re-upload: status %d", rec.Code)
	}
	if snap := decodeSnapshot(t, env.doJSON(t, http.MethodGet, base, "")); snap.Conversion.Processing {
		t.Fatalf("expected re-upload to clear the attempt, got %+v", snap.Conversion)
	}
}

func TestSupplyOwnArtifact(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	rec := env.upload(t, base+"/artifact", photoPNG(t, 32, 32))
	if rec.Code != http.StatusOK {
		t.Fatalf("supply own: status %d body %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if snap.Step != session.StepCustomize || snap.Artifact == nil || !snap.Artifact.UserSupplied || snap.ArtifactRef == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestOrderValidationError(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	if rec := env.upload(t, base+"/artifact", photoPNG(t, 32, 32)); rec.Code != http.StatusOK {
		t.Fatalf("supply own: status %d", rec.Code)
	}

	rec := env.doJSON(t, http.MethodPost, base+"/order", `{"name":"","email":"nope","phone":"1","address":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if strings.Join(body.Fields, ",") != "name,email" {
		t.Fatalf("unexpected fields %v", body.Fields)
	}

	env.orders.err = &domain.Error{Kind: domain.KindProviderRejected, Op: "commerce.create_product", StatusCode: 422}
	rec = env.doJSON(t, http.MethodPost, base+"/order", `{"name":"a","email":"a@b.co","phone":"1","address":"x"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for a rejected commerce call, got %d", rec.Code)
	}
}

func TestRateLimitOnConvert(t *testing.T) {
	limiter, err := ratelimit.NewLocalTokenBucket(1, time.Hour)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	env := newTestEnv(t, limiter)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	if rec := env.upload(t, base+"/source", photoPNG(t, 40, 40)); rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d", rec.Code)
	}
	if rec := env.doJSON(t, http.MethodPost, base+"/convert?wait=1", ""); rec.Code != http.StatusOK {
		t.Fatalf("first convert: status %d body %s", rec.Code, rec.Body.String())
	}

	rec := env.doJSON(t, http.MethodPost, base+"/convert", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// Reads are never limited.
	if rec := env.doJSON(t, http.MethodGet, base, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected snapshot read to pass, got %d", rec.Code)
	}
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	env.doJSON(t, http.MethodGet, "/v1/sessions/"+id, "")

	rec := env.doJSON(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `route="/v1/sessions/{sessionID}`) {
		t.Fatalf("expected route pattern label in metrics:\n%s", body)
	}
	if strings.Contains(body, id) {
		t.Fatal("session ids must not appear as label values")
	}
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func (f *fakeStorage) PresignedPutURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://bucket.example.com/%s?expires=%d", key, int(expiry.Seconds())), nil
}

func (f *fakeStorage) Stat(_ context.Context, key string) (storage.ObjectInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, false, nil
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: "image/png"}, true, nil
}

func (f *fakeStorage) ReadObjectLimited(_ context.Context, key string, limit int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, storage.ErrObjectTooLarge
	}
	return data, nil
}

func (f *fakeStorage) RemoveObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.removed = append(f.removed, key)
	return nil
}

func TestPresignedSourceFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)
	base := "/v1/sessions/" + id

	if rec := env.doJSON(t, http.MethodPost, base+"/source/presign", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without storage, got %d", rec.Code)
	}

	fs := &fakeStorage{objects: map[string][]byte{}}
	env.server.storage = fs

	rec := env.doJSON(t, http.MethodPost, base+"/source/presign", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("presign: status %d body %s", rec.Code, rec.Body.String())
	}
	var presign struct {
		ObjectKey string `json:"object_key"`
		PutURL    string `json:"presigned_put_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &presign); err != nil {
		t.Fatalf("decode presign: %v", err)
	}
	if presign.ObjectKey != "uploads/"+id+"/source" || !strings.Contains(presign.PutURL, presign.ObjectKey) {
		t.Fatalf("unexpected presign response %+v", presign)
	}

	if rec := env.doJSON(t, http.MethodPost, base+"/source/commit", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before upload, got %d", rec.Code)
	}

	fs.objects[presign.ObjectKey] = photoPNG(t, 40, 30)
	rec = env.doJSON(t, http.MethodPost, base+"/source/commit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("commit: status %d body %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if snap.Source == nil || snap.Source.Width != 40 || snap.Source.Height != 30 || snap.Source.MimeType != domain.MimePNG {
		t.Fatalf("unexpected source %+v", snap.Source)
	}

	rec = env.doJSON(t, http.MethodDelete, base+"/source", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete source: status %d", rec.Code)
	}
	if decodeSnapshot(t, rec).Source != nil {
		t.Fatal("expected source to be cleared")
	}
	if len(fs.removed) != 1 || fs.removed[0] != presign.ObjectKey {
		t.Fatalf("expected uploaded object removal, got %v", fs.removed)
	}
}

func TestCommitRejectsOversizedObject(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	fs := &fakeStorage{objects: map[string][]byte{"uploads/" + id + "/source": photoPNG(t, 40, 30)}}
	env.server.storage = fs
	env.server.maxUploadBytes = 16

	rec := env.doJSON(t, http.MethodPost, "/v1/sessions/"+id+"/source/commit", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Kind != domain.KindDecode {
		t.Fatalf("expected decode kind, got %+v", body)
	}
}
