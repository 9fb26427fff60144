// Package client provides an HTTP client for the Grimoire server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/grimoire/internal/models"
)

// DefaultEndpoint is used when New is given an empty endpoint.
const DefaultEndpoint = "http://localhost:8484"

// DefaultTimeout is used when New is given a non-positive timeout.
const DefaultTimeout = 10 * time.Minute

// Client talks to the Grimoire HTTP API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client for the server at endpoint (scheme://host[:port]).
// The timeout bounds each request, including large uploads.
func New(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server error: %d %s", e.Status, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// ProgressFunc receives the bytes of a file sent so far and the file size.
type ProgressFunc = func(sent, total int64)

// UploadFile posts the file at path as a single-file ingestion batch.
// onProgress, if non-nil, is called as the file body is written to the
// connection; sent never decreases.
func (c *Client) UploadFile(ctx context.Context, path string, onProgress ProgressFunc) ([]models.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	// Stream the multipart body so large files never sit in memory.
	go func() {
		part, err := mw.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		body := &progressReader{r: f, total: info.Size(), onProgress: onProgress}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/ingest", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp models.IngestResponse
	if err := c.do(req, http.StatusCreated, &resp); err != nil {
		// Unblock the writer goroutine if the server stopped reading early.
		pr.CloseWithError(err)
		return nil, err
	}
	return resp.Sources, nil
}

// SubmitURL posts one external address as a JSON ingestion request.
func (c *Client) SubmitURL(ctx context.Context, rawURL string) ([]models.Source, error) {
	return c.SubmitURLs(ctx, []string{rawURL})
}

// SubmitURLs posts several external addresses in one batch.
func (c *Client) SubmitURLs(ctx context.Context, urls []string) ([]models.Source, error) {
	payload := models.URLPayload{URLs: urls}
	if len(urls) == 1 {
		payload = models.URLPayload{URL: urls[0]}
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/ingest", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp models.IngestResponse
	if err := c.do(req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

// ListSources returns the newest sources. A non-positive limit uses the
// server default.
func (c *Client) ListSources(ctx context.Context, limit int) ([]models.Source, error) {
	u := c.endpoint + "/api/sources"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp models.SourcesResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

// GetSource returns one source. A 404 is reported as models.ErrNotFound.
func (c *Client) GetSource(ctx context.Context, id string) (*models.Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/sources/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp models.SourceResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &resp.Source, nil
}

// GetStats returns the server's runtime metrics as raw JSON fields.
func (c *Client) GetStats(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var stats map[string]any
	if err := c.do(req, http.StatusOK, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (c *Client) do(req *http.Request, want int, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp models.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Details = errResp.Details
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// progressReader reports cumulative bytes read.
type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}

// =============================================================================
// STREAM
// =============================================================================

// StreamSources subscribes to newly created sources and calls onSource for
// each one until ctx is cancelled or onSource returns an error.
func (c *Client) StreamSources(ctx context.Context, onSource func(models.Source) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/sources/stream")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var event models.SourceEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		if event.Type != models.EventSourceCreated {
			// Ignore unknown message types
			continue
		}
		if err := onSource(event.Source); err != nil {
			return err
		}
	}
}
