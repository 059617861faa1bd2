// Package storage persists the metadata half of the index cache: the corpus rows
// the vectors were built from and a manifest describing the build.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/proshno/internal/models"
)

// Manifest describes one cached index build. A cache is only trusted when every
// field matches the running configuration and corpus.
type Manifest struct {
	ModelID            string
	Dimensions         int
	DocCount           int
	Fingerprint        string
	IncludeExplanation bool
	BuiltAt            time.Time
}

// Store defines cache metadata persistence operations.
type Store interface {
	// SaveSnapshot replaces the stored documents and manifest in one transaction.
	SaveSnapshot(ctx context.Context, docs []*models.Document, m *Manifest) error
	// LoadManifest returns models.ErrNotFound when nothing has been saved.
	LoadManifest(ctx context.Context) (*Manifest, error)
	// LoadDocuments returns the stored documents in corpus order.
	LoadDocuments(ctx context.Context) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)
	Close() error
}
