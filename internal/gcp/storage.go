// Package gcp holds the Google Cloud backends: a Cloud Storage blob store
// and a Firestore source store.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/raphaelgruber/grimoire/internal/blob"
)

// BucketStore writes uploaded files to a Cloud Storage bucket.
type BucketStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	logger *slog.Logger
}

// NewBucketStore creates a client using application default credentials.
// STORAGE_EMULATOR_HOST is honoured by the client library.
func NewBucketStore(ctx context.Context, bucketName string, logger *slog.Logger) (*BucketStore, error) {
	if bucketName == "" {
		return nil, errors.New("bucket name must be provided")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewBucketStoreFromClient(client, bucketName, logger), nil
}

// NewBucketStoreFromClient wraps an existing client.
func NewBucketStoreFromClient(client *storage.Client, bucketName string, logger *slog.Logger) *BucketStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BucketStore{
		client: client,
		bucket: client.Bucket(bucketName),
		logger: logger.With("bucket", bucketName),
	}
}

// Put writes r under key. The write is conditional on the object not
// existing; a collision returns blob.ErrObjectExists.
func (s *BucketStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	// Cancelling ctx aborts the upload and nothing is finalized.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	n, err := io.Copy(writer, r)
	if err != nil {
		cancel()
		_ = writer.Close()
		return n, fmt.Errorf("failed to write to GCS: %w", mapWriteError(err))
	}

	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("failed to finalize GCS write: %w", mapWriteError(err))
	}
	s.logger.Debug("object stored", "key", key, "bytes", n)
	return n, nil
}

// Delete removes key. A missing object is not an error.
func (s *BucketStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *BucketStore) Close() error {
	return s.client.Close()
}

func mapWriteError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 412 {
		return blob.ErrObjectExists
	}
	return err
}
