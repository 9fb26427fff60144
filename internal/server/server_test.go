package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/grimoire/internal/blob"
	"github.com/raphaelgruber/grimoire/internal/metrics"
	"github.com/raphaelgruber/grimoire/internal/models"
	"github.com/raphaelgruber/grimoire/internal/server"
	"github.com/raphaelgruber/grimoire/internal/service"
	"github.com/raphaelgruber/grimoire/internal/sqlite"
)

// testLogger creates a logger that writes to stderr for test visibility.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// flakyBlobs fails the Put with the given 1-based index.
type flakyBlobs struct {
	service.BlobStore
	failOn int
	calls  atomic.Int32
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	if int(f.calls.Add(1)) == f.failOn {
		return 0, errors.New("bucket unavailable")
	}
	return f.BlobStore.Put(ctx, key, r, contentType)
}

// brokenStore fails every insert.
type brokenStore struct {
	service.SourceStore
}

func (brokenStore) CreateSources(context.Context, []models.SourceInput) ([]models.Source, error) {
	return nil, errors.New("database is locked")
}

type fixture struct {
	handler  http.Handler
	store    *sqlite.Store
	blobDir  string
	hub      *server.Hub
	blobs    *flakyBlobs
	sources  service.SourceStore
	metrics  *metrics.Collector
	maxBytes int64
}

type option func(*fixture)

func withFailingPut(n int) option {
	return func(f *fixture) { f.blobs.failOn = n }
}

func withBrokenStore() option {
	return func(f *fixture) { f.sources = brokenStore{SourceStore: f.store} }
}

func withMaxBytes(n int64) option {
	return func(f *fixture) { f.maxBytes = n }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "grimoire.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobDir := filepath.Join(dir, "uploads")
	fs, err := blob.NewFSStore(blobDir, logger)
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		blobDir: blobDir,
		blobs:   &flakyBlobs{BlobStore: fs},
		sources: store,
		metrics: metrics.NewCollector(),
		hub:     server.NewHub(logger),
	}
	for _, opt := range opts {
		opt(f)
	}
	t.Cleanup(f.hub.Close)

	srv, err := server.New(server.Config{
		Ingest: service.NewIngestService(service.IngestDeps{
			Sources: f.sources,
			Blobs:   f.blobs,
			Events:  f.hub,
			Metrics: f.metrics,
			Logger:  logger,
		}),
		Sources:        service.NewSourceService(store),
		Hub:            f.hub,
		Metrics:        f.metrics,
		Logger:         logger,
		MaxUploadBytes: f.maxBytes,
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) rows(t *testing.T) []models.Source {
	t.Helper()
	rows, err := f.store.ListSources(context.Background(), 100)
	require.NoError(t, err)
	return rows
}

func (f *fixture) storedBlobs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.blobDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

type part struct {
	field    string
	filename string
	content  string
}

func fileP(name, content string) part { return part{field: "files", filename: name, content: content} }
func urlP(u string) part              { return part{field: "urls", content: u} }

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename != "" {
			w, err := mw.CreateFormFile(p.field, p.filename)
			require.NoError(t, err)
			_, err = io.WriteString(w, p.content)
			require.NoError(t, err)
			continue
		}
		require.NoError(t, mw.WriteField(p.field, p.content))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.handler, multipartRequest(t, urlP("   ")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "No files or URLs provided.", body.Error)
	assert.Empty(t, f.rows(t))
}

func TestIngestCreatesURLsThenFiles(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.handler, multipartRequest(t,
		fileP("notes.md", "# notes"),
		urlP("https://one.example"),
		fileP("paper.pdf", "%PDF"),
		urlP("https://two.example"),
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode[models.IngestResponse](t, rec)
	assert.True(t, body.Success)
	require.Len(t, body.Sources, 4)

	for i, want := range []string{"https://one.example", "https://two.example"} {
		src := body.Sources[i]
		assert.Equal(t, models.SourceTypeURL, src.Type)
		assert.Equal(t, want, src.URL)
		assert.Equal(t, src.URL, src.Name)
	}
	for i, want := range []string{"notes.md", "paper.pdf"} {
		src := body.Sources[2+i]
		assert.Equal(t, models.SourceTypeFile, src.Type)
		assert.Equal(t, want, src.Name)
		assert.NotEqual(t, src.Name, src.URL)
		assert.True(t, strings.HasSuffix(src.URL, "-"+want), src.URL)
	}

	assert.Len(t, f.rows(t), 4)
	assert.ElementsMatch(t, []string{body.Sources[2].URL, body.Sources[3].URL}, f.storedBlobs(t))

	data, err := os.ReadFile(filepath.Join(f.blobDir, body.Sources[2].URL))
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(data))
}

func TestIngestStorageFailureLeavesNothing(t *testing.T) {
	f := newFixture(t, withFailingPut(2))

	rec := serve(f.handler, multipartRequest(t,
		urlP("https://one.example"),
		fileP("a.txt", "a"),
		fileP("b.txt", "b"),
		fileP("c.txt", "c"),
	))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "File upload failed", body.Error)
	assert.Equal(t, "bucket unavailable", body.Details)

	assert.Empty(t, f.rows(t), "no source may survive a failed batch")
	assert.Empty(t, f.storedBlobs(t), "the first file's blob is removed")
	assert.Equal(t, int32(2), f.blobs.calls.Load())
}

func TestIngestPersistenceFailureIsStructured(t *testing.T) {
	f := newFixture(t, withBrokenStore())

	rec := serve(f.handler, multipartRequest(t, fileP("a.txt", "a"), urlP("https://one.example")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "Failed to create sources", body.Error)
	assert.Equal(t, "database is locked", body.Details)
	assert.Empty(t, f.storedBlobs(t))
}

func TestIngestJSONBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"url":"https://single.example","urls":["https://a.example"," "]}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := serve(f.handler, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode[models.IngestResponse](t, rec)
	require.Len(t, body.Sources, 2)
	assert.Equal(t, "https://single.example", body.Sources[0].URL)
	assert.Equal(t, "https://a.example", body.Sources[1].URL)
}

func TestIngestBadBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{"malformed json", "application/json", `{"urls":`, http.StatusBadRequest},
		{"empty json", "application/json", `{}`, http.StatusBadRequest},
		{"missing content type", "", `urls=x`, http.StatusBadRequest},
		{"unsupported type", "text/plain", `https://x.example`, http.StatusUnsupportedMediaType},
		{"broken multipart", "multipart/form-data; boundary=zzz", `not multipart`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := serve(f.handler, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[models.ErrorResponse](t, rec).Error)
			assert.Empty(t, f.rows(t))
		})
	}
}

func TestIngestBodyTooLarge(t *testing.T) {
	f := newFixture(t, withMaxBytes(1024))

	rec := serve(f.handler, multipartRequest(t, fileP("big.bin", strings.Repeat("x", 4096))))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.rows(t))
	assert.Empty(t, f.storedBlobs(t))
}

func TestIngestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/ingest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListAndGetSources(t *testing.T) {
	f := newFixture(t)
	created := serve(f.handler, multipartRequest(t, urlP("https://a.example"), urlP("https://b.example")))
	require.Equal(t, http.StatusCreated, created.Code)
	sources := decode[models.IngestResponse](t, created).Sources

	rec := serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/sources?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.SourcesResponse](t, rec).Sources, 1)

	rec = serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/sources/"+sources[0].ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://a.example", decode[models.SourceResponse](t, rec).Source.URL)

	rec = serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/sources/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/sources?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSourcesEmpty(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":[]}`, rec.Body.String())
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated,
		serve(f.handler, multipartRequest(t, urlP("https://a.example"), fileP("a.txt", "abc"))).Code)

	rec := serve(f.handler, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[metrics.Snapshot](t, rec)
	require.NotNil(t, stats.Ingest)
	require.NotNil(t, stats.BlobPut)
	assert.Equal(t, int64(1), stats.Ingest.Count)
	assert.Equal(t, int64(1), stats.BlobPut.Count)
	assert.Equal(t, int64(3), stats.BlobPut.TotalBytes)
	assert.Equal(t, int64(1), stats.SourcesCreated["url"])
	assert.Equal(t, int64(1), stats.SourcesCreated["file"])

	rec = serve(f.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestSourceStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sources/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	req := multipartRequest(t, urlP("https://live.example"))
	require.Equal(t, http.StatusCreated, serve(f.handler, req).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event models.SourceEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.EventSourceCreated, event.Type)
	assert.Equal(t, "https://live.example", event.Source.URL)

	f.hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestNewRequiresServices(t *testing.T) {
	_, err := server.New(server.Config{})
	assert.Error(t, err)
}

func TestStatsWithoutCollector(t *testing.T) {
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "grimoire.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := server.New(server.Config{
		Ingest:  service.NewIngestService(service.IngestDeps{Sources: store}),
		Sources: service.NewSourceService(store),
		Logger:  testLogger(),
	})
	require.NoError(t, err)

	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec), "uptime_seconds")
}
