package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/raphaelgruber/grimoire/internal/models"
)

// handleIngest accepts multipart form data with "files" and "urls" parts,
// or a JSON body {"url": ...} / {"urls": [...]}.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	req, cleanup, err := s.parseIngest(r)
	defer cleanup()
	if err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.ingest.Ingest(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, s.logger, http.StatusCreated, models.IngestResponse{
		Success: true,
		Sources: created,
	})
}

// parseIngest reads the request body into an IngestRequest. The returned
// cleanup removes any temporary files and is always non-nil.
func (s *Server) parseIngest(r *http.Request) (models.IngestRequest, func(), error) {
	noop := func() {}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return models.IngestRequest{}, noop, fmt.Errorf("%w: content type: %v", errBadRequest, err)
	}

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return models.IngestRequest{}, noop, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		form := r.MultipartForm
		cleanup := func() {
			if err := form.RemoveAll(); err != nil {
				s.logger.Warn("failed to remove multipart temp files", "error", err)
			}
		}

		headers := form.File["files"]
		files := make([]models.Upload, 0, len(headers))
		for _, fh := range headers {
			files = append(files, models.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Open: func() (io.ReadCloser, error) {
					return fh.Open()
				},
			})
		}
		return models.NewIngestRequest(files, form.Value["urls"]), cleanup, nil

	case "application/json":
		var payload models.URLPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return models.IngestRequest{}, noop, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		return models.NewIngestRequest(nil, payload.All()), noop, nil

	default:
		return models.IngestRequest{}, noop, fmt.Errorf("%w: %s", errUnsupportedMedia, mediaType)
	}
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		limit = n
	}

	sources, err := s.sources.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, models.SourcesResponse{Sources: sources})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.sources.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, models.SourceResponse{Source: *src})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.metrics.Snapshot())
}
