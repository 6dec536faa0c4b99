package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/config"
	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/refresher"
	memstore "github.com/JakeFAU/satview/internal/storage/memory"
	"github.com/JakeFAU/satview/internal/store"
)

const welcome = "Bem-vindo ao Sat Norte de Minas Gerais 🚀"

func TestServer_Welcome(t *testing.T) {
	t.Parallel()

	srv := newTestServer(store.NewImageStore(), nil, nil)
	for _, path := range []string{"/api", "/api/"} {
		rec := serve(srv, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, welcome, body["message"])
	}
}

func TestServer_ImageAbsent(t *testing.T) {
	t.Parallel()

	srv := newTestServer(store.NewImageStore(), nil, nil)
	rec := serve(srv, http.MethodGet, "/api/image.jpg", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"Imagem não encontrada."}`, rec.Body.String())
}

func TestServer_ImagePresent(t *testing.T) {
	t.Parallel()

	images := store.NewImageStore()
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'e', 'g'}
	images.Replace(store.Snapshot{
		Bytes:     payload,
		FetchedAt: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC),
		Digest:    "abc123",
	})
	srv := newTestServer(images, nil, nil)

	rec := serve(srv, http.MethodGet, "/api/image.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, payload, rec.Body.Bytes())
	require.Equal(t, `"abc123"`, rec.Header().Get("ETag"))
	require.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	require.Equal(t, "Wed, 05 Jun 2024 12:00:00 GMT", rec.Header().Get("Last-Modified"))
}

func TestServer_ImageConditionalGet(t *testing.T) {
	t.Parallel()

	images := store.NewImageStore()
	images.Replace(store.Snapshot{
		Bytes:     []byte("jpeg"),
		FetchedAt: time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC),
		Digest:    "abc123",
	})
	srv := newTestServer(images, nil, nil)

	rec := serve(srv, http.MethodGet, "/api/image.jpg", map[string]string{"If-None-Match": `"abc123"`})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.Bytes())

	rec = serve(srv, http.MethodGet, "/api/image.jpg", map[string]string{"If-None-Match": `"stale"`})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []byte("jpeg"), rec.Body.Bytes())
}

func TestServer_ImageReflectsLatestReplace(t *testing.T) {
	t.Parallel()

	images := store.NewImageStore()
	srv := newTestServer(images, nil, nil)

	images.Replace(store.Snapshot{Bytes: []byte("v1"), Digest: "d1"})
	require.Equal(t, []byte("v1"), serve(srv, http.MethodGet, "/api/image.jpg", nil).Body.Bytes())

	images.Replace(store.Snapshot{Bytes: []byte("v2"), Digest: "d2"})
	require.Equal(t, []byte("v2"), serve(srv, http.MethodGet, "/api/image.jpg", nil).Body.Bytes())
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	images := store.NewImageStore()
	srv := newTestServer(images, nil, nil)

	rec := serve(srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(srv, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"waiting for first image"}`, rec.Body.String())

	images.Replace(store.Snapshot{Bytes: []byte("jpeg")})
	rec = serve(srv, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(store.NewImageStore(), nil, nil)
	serve(srv, http.MethodGet, "/healthz", nil)

	rec := serve(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	images := store.NewImageStore()
	fetchedAt := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	images.Replace(store.Snapshot{Bytes: []byte("jpeg"), Digest: "abc", FetchedAt: fetchedAt, Source: "https://gibs"})
	refresh := &fakeRefresh{
		status: refresher.Status{
			Attempts:            3,
			LastOutcome:         refresher.OutcomeFailure,
			LastReason:          "unexpected status 503",
			ConsecutiveFailures: 1,
			NextAttemptAt:       fetchedAt.Add(4 * time.Hour),
		},
		interval: 4 * time.Hour,
	}
	srv := newTestServer(images, refresh, nil)

	rec := serve(srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Image struct {
			Available bool      `json:"available"`
			Bytes     int       `json:"bytes"`
			Digest    string    `json:"digest"`
			FetchedAt time.Time `json:"fetched_at"`
		} `json:"image"`
		Refresh         refresher.Status    `json:"refresh"`
		RefreshInterval string              `json:"refresh_interval"`
		Layer           string              `json:"layer"`
		BBox            imagery.BoundingBox `json:"bbox"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Image.Available)
	assert.Equal(t, 4, body.Image.Bytes)
	assert.Equal(t, "abc", body.Image.Digest)
	assert.True(t, fetchedAt.Equal(body.Image.FetchedAt))
	assert.Equal(t, "unexpected status 503", body.Refresh.LastReason)
	assert.Equal(t, 1, body.Refresh.ConsecutiveFailures)
	assert.Equal(t, "4h0m0s", body.RefreshInterval)
	assert.Equal(t, "VIIRS_SNPP_CorrectedReflectance_TrueColor", body.Layer)
	assert.Equal(t, -46.5, body.BBox.West)
}

func TestServer_StatusWithoutImage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(store.NewImageStore(), nil, nil)
	rec := serve(srv, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	image, ok := body["image"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, image["available"])
	require.NotContains(t, body, "refresh")
}

func TestServer_History(t *testing.T) {
	t.Parallel()

	log := memstore.NewFetchLog(10)
	ctx := context.Background()
	base := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Record(ctx, imagery.Attempt{
			ID:        string(rune('a' + i)),
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Duration:  1500 * time.Millisecond,
			Success:   i != 1,
		}))
	}
	srv := newTestServer(store.NewImageStore(), nil, log)

	rec := serve(srv, http.MethodGet, "/api/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Attempts []attemptDTO `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Attempts, 2)
	require.Equal(t, "c", body.Attempts[0].ID)
	require.Equal(t, "b", body.Attempts[1].ID)
	require.False(t, body.Attempts[1].Success)
	require.Equal(t, int64(1500), body.Attempts[0].DurationMs)
}

func TestServer_HistoryErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(store.NewImageStore(), nil, nil)
	rec := serve(srv, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv = newTestServer(store.NewImageStore(), nil, memstore.NewFetchLog(5))
	rec = serve(srv, http.MethodGet, "/api/history?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(srv, http.MethodGet, "/api/history?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	srv = newTestServer(store.NewImageStore(), nil, failingLog{})
	rec = serve(srv, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"limit=5", 5, false},
		{"limit=1000", maxHistoryLimit, false},
		{"limit=-1", 0, true},
		{"limit=x", 0, true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/history?"+tt.query, nil)
		got, err := parseLimit(req, defaultHistoryLimit, maxHistoryLimit)
		if tt.wantErr {
			require.Error(t, err, tt.query)
			continue
		}
		require.NoError(t, err, tt.query)
		require.Equal(t, tt.want, got, tt.query)
	}
}

func TestServer_StaticFrontend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>satview</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o600))

	cfg := testConfig()
	cfg.Server.StaticDir = dir
	srv := NewServer(store.NewImageStore(), nil, nil, cfg, zap.NewNop())

	rec := serve(srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<h1>satview</h1>")

	rec = serve(srv, http.MethodGet, "/app.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "console.log(1)", rec.Body.String())

	rec = serve(srv, http.MethodGet, "/missing.css", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, http.MethodGet, "/api", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "message")
}

func TestServer_StaticDirMissing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.StaticDir = filepath.Join(t.TempDir(), "nope")
	srv := NewServer(store.NewImageStore(), nil, nil, cfg, zap.NewNop())

	rec := serve(srv, http.MethodGet, "/index.html", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(srv, http.MethodGet, "/api", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(store.NewImageStore(), nil, nil)
	rec := serve(srv, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(srv, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "req-42"})
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			WelcomeMessage: welcome,
			RequestTimeout: 5 * time.Second,
			ImageMaxAge:    5 * time.Minute,
		},
		Imagery: config.ImageryConfig{
			Layer: "VIIRS_SNPP_CorrectedReflectance_TrueColor",
			BBox:  imagery.BoundingBox{West: -46.5, South: -17.5, East: -42, North: -14},
		},
	}
}

func newTestServer(images *store.ImageStore, refresh RefreshStatus, history imagery.FetchLog) *Server {
	return NewServer(images, refresh, history, testConfig(), zap.NewNop())
}

func serve(srv *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeRefresh struct {
	status   refresher.Status
	interval time.Duration
}

func (f *fakeRefresh) Status() refresher.Status { return f.status }

func (f *fakeRefresh) Interval() time.Duration { return f.interval }

type failingLog struct{}

func (failingLog) Record(context.Context, imagery.Attempt) error { return errors.New("db down") }

func (failingLog) Recent(context.Context, int) ([]imagery.Attempt, error) {
	return nil, errors.New("db down")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
