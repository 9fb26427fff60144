package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/grimoire/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// sourceRecord is the stored shape of a source row.
type sourceRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	Type      string                 `json:"type"`
	Name      string                 `json:"name"`
	URL       string                 `json:"url"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r sourceRecord) toSource() (models.Source, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Source{}, err
	}
	return models.Source{
		ID:        id,
		Type:      models.SourceType(r.Type),
		Name:      r.Name,
		URL:       r.URL,
		CreatedAt: r.CreatedAt,
	}, nil
}

func toSources(records []sourceRecord) ([]models.Source, error) {
	out := make([]models.Source, 0, len(records))
	for _, r := range records {
		s, err := r.toSource()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// maxInsertAttempts bounds retries of a batch insert that hit a transaction conflict.
const maxInsertAttempts = 3

// CreateSources inserts all inputs with one INSERT statement.
// SurrealDB runs each statement in its own transaction, so the batch
// lands completely or not at all. A conflicted statement wrote nothing
// and is resubmitted. Records come back in input order.
func (c *Client) CreateSources(ctx context.Context, inputs []models.SourceInput) ([]models.Source, error) {
	if len(inputs) == 0 {
		return []models.Source{}, nil
	}

	rows := make([]map[string]any, len(inputs))
	for i, in := range inputs {
		rows[i] = map[string]any{
			"type": string(in.Type),
			"name": in.Name,
			"url":  in.URL,
		}
	}

	var (
		results *[]surrealdb.QueryResult[[]sourceRecord]
		err     error
	)
	for attempt := 1; ; attempt++ {
		results, err = surrealdb.Query[[]sourceRecord](ctx, c.db, `INSERT INTO source $rows`, map[string]any{
			"rows": rows,
		})
		err = wrapQueryError(err)
		if !errors.Is(err, ErrTransactionConflict) || attempt == maxInsertAttempts {
			break
		}
		c.logger.Warn("insert sources conflicted, retrying", "attempt", attempt, "rows", len(rows))
	}
	if err != nil {
		return nil, fmt.Errorf("insert sources: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, fmt.Errorf("insert sources: no result returned")
	}
	records := (*results)[0].Result
	if len(records) != len(inputs) {
		return nil, fmt.Errorf("insert sources: expected %d records, got %d", len(inputs), len(records))
	}
	return toSources(records)
}

// ListSources returns up to limit sources, newest first.
func (c *Client) ListSources(ctx context.Context, limit int) ([]models.Source, error) {
	results, err := surrealdb.Query[[]sourceRecord](ctx, c.db, `
		SELECT * FROM source ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Source{}, nil
	}
	return toSources((*results)[0].Result)
}

// GetSource retrieves a source by ID.
// Returns models.ErrNotFound if it does not exist.
func (c *Client) GetSource(ctx context.Context, id string) (*models.Source, error) {
	results, err := surrealdb.Query[[]sourceRecord](ctx, c.db, `
		SELECT * FROM type::record("source", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get source: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, models.ErrNotFound
	}
	src, err := (*results)[0].Result[0].toSource()
	if err != nil {
		return nil, err
	}
	return &src, nil
}
