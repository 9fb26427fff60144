package models

import (
	"io"
	"strings"
)

// Upload is one file part of an ingestion request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	// Open returns the file content. Callers close the reader.
	Open func() (io.ReadCloser, error)
}

// IngestRequest is a parsed ingestion batch.
// Files and URLs may each be empty, but not both.
type IngestRequest struct {
	Files []Upload
	URLs  []string
}

// NewIngestRequest trims URL entries and drops blank ones.
func NewIngestRequest(files []Upload, urls []string) IngestRequest {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	return IngestRequest{Files: files, URLs: cleaned}
}

// Validate checks the batch precondition.
func (r IngestRequest) Validate() error {
	if len(r.Files) == 0 && len(r.URLs) == 0 {
		return ErrEmptyBatch
	}
	return nil
}

// Len returns the number of items in the batch.
func (r IngestRequest) Len() int {
	return len(r.Files) + len(r.URLs)
}

// IngestResponse is the 201 body of POST /api/ingest.
type IngestResponse struct {
	Success bool     `json:"success"`
	Sources []Source `json:"sources"`
}

// ErrorResponse is returned for any failed API request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// URLPayload is the JSON body accepted by POST /api/ingest as an
// alternative to multipart form data.
type URLPayload struct {
	URL  string   `json:"url,omitempty"`
	URLs []string `json:"urls,omitempty"`
}

// All returns the single and list forms combined, single first.
func (p URLPayload) All() []string {
	if p.URL == "" {
		return p.URLs
	}
	return append([]string{p.URL}, p.URLs...)
}

// SourcesResponse is the body of GET /api/sources.
type SourcesResponse struct {
	Sources []Source `json:"sources"`
}

// SourceResponse is the body of GET /api/sources/{id}.
type SourceResponse struct {
	Source Source `json:"source"`
}

// EventSourceCreated is the type of a SourceEvent for a newly created source.
const EventSourceCreated = "source.created"

// SourceEvent is a message on the live source stream.
type SourceEvent struct {
	Type   string `json:"type"`
	Source Source `json:"source"`
}
