package cache

import (
	"context"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/model"
)

// DocumentCache is a read-through cache in front of the two storage tiers.
// A nil result with nil error is a miss. Cache failures are soft: callers
// fall back to the stores.
type DocumentCache interface {
	// GetDocument gets a document row from the cache.
	GetDocument(ctx context.Context, uuid string) (*model.Document, error)
	// SetDocument caches a document row.
	SetDocument(ctx context.Context, doc *model.Document) error
	// GetBM25Index gets a document's term-frequency index from the cache.
	GetBM25Index(ctx context.Context, uuid string) (*blob.BM25Index, error)
	// SetBM25Index caches a document's term-frequency index.
	SetBM25Index(ctx context.Context, uuid string, index *blob.BM25Index) error
	// InvalidateDocument drops all cached entries for a document.
	InvalidateDocument(ctx context.Context, uuid string) error
}

var _ DocumentCache = (*NopCache)(nil)

// NopCache is used when no redis is configured; every read is a miss.
type NopCache struct {
}

func NewNopCache() NopCache {
	return NopCache{}
}

func (NopCache) GetDocument(ctx context.Context, uuid string) (*model.Document, error) {
	return nil, nil
}

func (NopCache) SetDocument(ctx context.Context, doc *model.Document) error {
	return nil
}

func (NopCache) GetBM25Index(ctx context.Context, uuid string) (*blob.BM25Index, error) {
	return nil, nil
}

func (NopCache) SetBM25Index(ctx context.Context, uuid string, index *blob.BM25Index) error {
	return nil
}

func (NopCache) InvalidateDocument(ctx context.Context, uuid string) error {
	return nil
}
