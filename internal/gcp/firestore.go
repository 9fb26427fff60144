package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raphaelgruber/grimoire/internal/models"
)

// MaxBatchWrites is the most writes Firestore accepts in one transaction.
const MaxBatchWrites = 500

// ErrBatchTooLarge is returned for batches that exceed MaxBatchWrites.
var ErrBatchTooLarge = errors.New("batch exceeds firestore transaction write limit")

// sourceDoc is the stored shape of a source document.
type sourceDoc struct {
	Type      string    `firestore:"type"`
	Name      string    `firestore:"name"`
	URL       string    `firestore:"url"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (d sourceDoc) toSource(id string) models.Source {
	return models.Source{
		ID:        id,
		Type:      models.SourceType(d.Type),
		Name:      d.Name,
		URL:       d.URL,
		CreatedAt: d.CreatedAt,
	}
}

// FirestoreStore keeps sources in a Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewFirestoreClient creates a Firestore client for the given project ID.
// FIRESTORE_EMULATOR_HOST is honoured by the client library.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// NewFirestoreStore stores sources in the named collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection, now: time.Now}
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// CreateSources writes every input inside one transaction.
// Items of a batch get created_at one microsecond apart so that
// newest-first listing preserves the batch order. A transaction holds at
// most MaxBatchWrites writes; larger batches fail with ErrBatchTooLarge
// before anything is written.
func (s *FirestoreStore) CreateSources(ctx context.Context, inputs []models.SourceInput) ([]models.Source, error) {
	if len(inputs) == 0 {
		return []models.Source{}, nil
	}
	if len(inputs) > MaxBatchWrites {
		return nil, fmt.Errorf("create sources: %w: %d items, limit %d", ErrBatchTooLarge, len(inputs), MaxBatchWrites)
	}

	coll := s.client.Collection(s.collection)
	base := s.now().UTC().Truncate(time.Microsecond)

	refs := make([]*firestore.DocumentRef, len(inputs))
	docs := make([]sourceDoc, len(inputs))
	for i, in := range inputs {
		refs[i] = coll.NewDoc()
		docs[i] = sourceDoc{
			Type:      string(in.Type),
			Name:      in.Name,
			URL:       in.URL,
			CreatedAt: base.Add(time.Duration(i) * time.Microsecond),
		}
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for i := range refs {
			if err := tx.Create(refs[i], docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create sources: %w", err)
	}

	out := make([]models.Source, len(inputs))
	for i := range docs {
		out[i] = docs[i].toSource(refs[i].ID)
	}
	return out, nil
}

// ListSources returns up to limit sources, newest first.
func (s *FirestoreStore) ListSources(ctx context.Context, limit int) ([]models.Source, error) {
	snaps, err := s.client.Collection(s.collection).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	out := make([]models.Source, 0, len(snaps))
	for _, snap := range snaps {
		var d sourceDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode source %s: %w", snap.Ref.ID, err)
		}
		out = append(out, d.toSource(snap.Ref.ID))
	}
	return out, nil
}

// GetSource returns models.ErrNotFound if id is unknown.
func (s *FirestoreStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	ref := s.client.Collection(s.collection).Doc(id)
	if ref == nil {
		// Doc returns nil for IDs that are not a single path segment.
		return nil, models.ErrNotFound
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}

	var d sourceDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode source %s: %w", id, err)
	}
	src := d.toSource(id)
	return &src, nil
}

