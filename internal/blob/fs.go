package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrObjectExists is returned when a key is already taken.
var ErrObjectExists = errors.New("object already exists")

// FSStore keeps blobs as files under a root directory, one file per key.
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root directory must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, key), nil
}

// Put writes r under key unless the key is taken. The write goes to a temp
// file that is linked into place, so a failed upload never leaves a partial
// object behind.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	dest, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(dest); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("finalize blob %s: %w", key, err)
	}
	// Link fails if dest exists, so a concurrent writer of the same key
	// can never be overwritten.
	if err := os.Link(tmp.Name(), dest); err != nil {
		if errors.Is(err, os.ErrExist) {
			return n, fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		return n, fmt.Errorf("link blob %s into place: %w", key, err)
	}

	s.logger.Debug("blob stored", "key", key, "bytes", n, "content_type", contentType)
	return n, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FSStore) Delete(_ context.Context, key string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
