// Package sqlite provides a single-file Source store for local deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/grimoire/internal/models"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps sources in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dbPath and ensures the schema.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sources (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL CHECK (type IN ('file', 'url')),
  name TEXT NOT NULL,
  url TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sources_created_at ON sources (created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sources table: %w", err)
	}
	return nil
}

// CreateSources inserts all inputs in one transaction.
func (s *Store) CreateSources(ctx context.Context, inputs []models.SourceInput) (created []models.Source, err error) {
	if len(inputs) == 0 {
		return []models.Source{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sources (id, type, name, url, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	created = make([]models.Source, 0, len(inputs))
	for i, in := range inputs {
		src := models.Source{
			ID:        uuid.NewString(),
			Type:      in.Type,
			Name:      in.Name,
			URL:       in.URL,
			CreatedAt: now,
		}
		if _, err = stmt.ExecContext(ctx, src.ID, string(src.Type), src.Name, src.URL, now.Format(timeLayout)); err != nil {
			return nil, fmt.Errorf("insert source %d: %w", i, err)
		}
		created = append(created, src)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// ListSources returns up to limit sources, newest first.
func (s *Store) ListSources(ctx context.Context, limit int) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, name, url, created_at FROM sources
ORDER BY created_at DESC, seq DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := []models.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// GetSource returns models.ErrNotFound if id is unknown.
func (s *Store) GetSource(ctx context.Context, id string) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, name, url, created_at FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (models.Source, error) {
	var (
		src       models.Source
		typ       string
		createdAt string
	)
	if err := sc.Scan(&src.ID, &typ, &src.Name, &src.URL, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return src, err
		}
		return src, fmt.Errorf("scan source: %w", err)
	}
	src.Type = models.SourceType(typ)
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return src, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	src.CreatedAt = t
	return src, nil
}
