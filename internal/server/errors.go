package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/grimoire/internal/models"
	"github.com/raphaelgruber/grimoire/internal/service"
)

// Error messages returned to API clients.
const (
	msgEmptyBatch     = "No files or URLs provided."
	msgBadRequest     = "Invalid request body."
	msgTooLarge       = "Request body too large."
	msgUploadFailed   = "File upload failed"
	msgPersistFailed  = "Failed to create sources"
	msgNotFound       = "Source not found"
	msgInternal       = "Internal server error"
	msgUnsupportedMed = "Unsupported content type."
)

// errBadRequest marks a body that could not be parsed.
var errBadRequest = errors.New("bad request")

// errUnsupportedMedia marks a body in a content type the endpoint does not read.
var errUnsupportedMedia = errors.New("unsupported media type")

// errorResponse maps err to an HTTP status and response body.
func errorResponse(err error) (int, models.ErrorResponse) {
	var (
		maxBytes   *http.MaxBytesError
		storageErr *service.StorageError
		persistErr *service.PersistenceError
	)
	switch {
	case errors.Is(err, models.ErrEmptyBatch):
		return http.StatusBadRequest, models.ErrorResponse{Error: msgEmptyBatch}
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: msgTooLarge}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, models.ErrorResponse{Error: msgBadRequest, Details: err.Error()}
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType, models.ErrorResponse{Error: msgUnsupportedMed}
	case errors.As(err, &storageErr):
		return http.StatusInternalServerError, models.ErrorResponse{Error: msgUploadFailed, Details: storageErr.Err.Error()}
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, models.ErrorResponse{Error: msgPersistFailed, Details: persistErr.Err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, models.ErrorResponse{Error: msgNotFound}
	default:
		return http.StatusInternalServerError, models.ErrorResponse{Error: msgInternal}
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to encode response", "status", status, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "status", status, "error", err)
	}
	writeJSON(w, s.logger, status, body)
}
