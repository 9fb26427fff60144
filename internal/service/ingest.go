// Package service provides business logic for Grimoire operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/raphaelgruber/grimoire/internal/blob"
	"github.com/raphaelgruber/grimoire/internal/metrics"
	"github.com/raphaelgruber/grimoire/internal/models"
)

// cleanupTimeout bounds the best-effort blob deletion after a failed batch.
const cleanupTimeout = 30 * time.Second

// SourceStore persists Source records.
type SourceStore interface {
	// CreateSources inserts all inputs atomically and returns the stored
	// records in input order. Either every row exists afterwards or none does.
	CreateSources(ctx context.Context, inputs []models.SourceInput) ([]models.Source, error)
	// ListSources returns up to limit sources, newest first.
	ListSources(ctx context.Context, limit int) ([]models.Source, error)
	// GetSource returns models.ErrNotFound if id is unknown.
	GetSource(ctx context.Context, id string) (*models.Source, error)
}

// BlobStore persists uploaded file bytes under a key.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Publisher receives sources after they are committed.
type Publisher interface {
	Publish(models.Source)
}

// StorageError reports a failed blob write for one file of a batch.
type StorageError struct {
	Filename string
	Key      string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %q as %s: %v", e.Filename, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PersistenceError reports a failed batch insert.
type PersistenceError struct {
	Items int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("create %d sources: %v", e.Items, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IngestDeps holds the collaborators of an IngestService.
// Sources and Blobs are required; the rest may be nil.
type IngestDeps struct {
	Sources SourceStore
	Blobs   BlobStore
	Events  Publisher
	Metrics *metrics.Collector
	Logger  *slog.Logger
	// Key generates storage keys; defaults to blob.Key.
	Key func(filename string) string
}

// IngestService turns ingestion batches into stored blobs and Source rows.
type IngestService struct {
	sources SourceStore
	blobs   BlobStore
	events  Publisher
	metrics *metrics.Collector
	logger  *slog.Logger
	key     func(string) string
}

// NewIngestService creates a new ingest service.
func NewIngestService(deps IngestDeps) *IngestService {
	s := &IngestService{
		sources: deps.Sources,
		blobs:   deps.Blobs,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		key:     deps.Key,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.key == nil {
		s.key = blob.Key
	}
	return s
}

// Ingest stores every file of req and creates one Source per item.
//
// URL sources come first in received order, then file sources in received
// order. Blobs are written one at a time; if any write fails, blobs already
// written for this batch are deleted and no rows are created. Rows for the
// whole batch are inserted in one transaction after all blobs are stored.
func (s *IngestService) Ingest(ctx context.Context, req models.IngestRequest) (created []models.Source, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	logCtx := s.logger.With("urls", len(req.URLs), "files", len(req.Files))
	defer func() {
		s.metrics.RecordTiming(metrics.OpIngest, time.Since(start), err)
	}()

	inputs := make([]models.SourceInput, 0, req.Len())
	for _, u := range req.URLs {
		inputs = append(inputs, models.URLSource(u))
	}

	written := make([]string, 0, len(req.Files))
	for i, f := range req.Files {
		key := s.key(f.Filename)
		if err := s.putFile(ctx, key, f); err != nil {
			logCtx.Error("blob write failed, aborting batch",
				"file_index", i, "filename", f.Filename, "key", key, "error", err)
			s.discard(ctx, logCtx, written)
			return nil, &StorageError{Filename: f.Filename, Key: key, Err: err}
		}
		written = append(written, key)
		inputs = append(inputs, models.FileSource(f.Filename, key))
	}

	insertStart := time.Now()
	created, err = s.sources.CreateSources(ctx, inputs)
	s.metrics.RecordTiming(metrics.OpDBInsert, time.Since(insertStart), err)
	if err != nil {
		logCtx.Error("source insert failed, discarding stored blobs", "error", err)
		s.discard(ctx, logCtx, written)
		return nil, &PersistenceError{Items: len(inputs), Err: err}
	}

	for _, src := range created {
		s.metrics.RecordSourceCreated(string(src.Type))
		if s.events != nil {
			s.events.Publish(src)
		}
	}

	logCtx.Info("batch ingested", "sources", len(created), "duration_ms", time.Since(start).Milliseconds())
	return created, nil
}

func (s *IngestService) putFile(ctx context.Context, key string, f models.Upload) error {
	if f.Open == nil {
		return errors.New("upload has no content")
	}
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer r.Close()

	start := time.Now()
	n, err := s.blobs.Put(ctx, key, r, f.ContentType)
	s.metrics.RecordTransfer(metrics.OpBlobPut, time.Since(start), n, err)
	return err
}

// discard deletes blobs written for a batch that will not be committed.
// It runs detached from ctx so a cancelled request still cleans up.
func (s *IngestService) discard(ctx context.Context, logCtx *slog.Logger, keys []string) {
	if len(keys) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		start := time.Now()
		err := s.blobs.Delete(cleanupCtx, key)
		s.metrics.RecordTiming(metrics.OpBlobDelete, time.Since(start), err)
		if err != nil {
			logCtx.Warn("failed to delete orphaned blob", "key", key, "error", err)
		}
	}
}
