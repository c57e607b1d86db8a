package stub

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document id is unknown.
var ErrNotFound = errors.New("document not found")

// Document is one stored document. Source holds the fields as inserted, vector included.
type Document struct {
	ID      string
	Source  map[string]any
	Vector  []float32
	Version int
}

// Store persists the documents of one space.
type Store interface {
	// Upsert stores doc, returning its new version and whether it was created.
	Upsert(ctx context.Context, doc *Document) (version int, created bool, err error)
	Get(ctx context.Context, id string) (*Document, error)
	// Delete removes id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// Each visits documents in insertion order until fn returns an error.
	Each(ctx context.Context, fn func(*Document) error) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
