package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/grimoire/internal/models"
)

// Listing bounds for ListSources.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SourceService serves the read side of the source catalogue.
type SourceService struct {
	store SourceStore
}

// NewSourceService creates a new source service.
func NewSourceService(store SourceStore) *SourceService {
	return &SourceService{store: store}
}

// List returns the newest sources. A non-positive limit selects the
// default; limits above MaxListLimit are clamped.
func (s *SourceService) List(ctx context.Context, limit int) ([]models.Source, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	sources, err := s.store.ListSources(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if sources == nil {
		sources = []models.Source{}
	}
	return sources, nil
}

// Get returns one source by id, or models.ErrNotFound.
func (s *SourceService) Get(ctx context.Context, id string) (*models.Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, models.ErrNotFound
	}
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}
