package store

import (
	"context"
	"errors"

	"github.com/emrgen/docsearch/internal/filter"
	"github.com/emrgen/docsearch/internal/model"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDuplicateContent = errors.New("document with same content hash already exists")
)

// SearchOptions constrain a k-NN search.
type SearchOptions struct {
	TopK int
	// MinSimilarity drops chunks below the cosine-similarity threshold
	// before any fusion happens.
	MinSimilarity float64
	Filter        *filter.Filter
}

// ChunkHit is one selected chunk together with the document attributes the
// query orchestrator needs, so hybrid scoring requires no second lookup.
type ChunkHit struct {
	ChunkID      uint
	ChunkIndex   int
	DocumentID   uint
	DocumentUUID string
	Filename     string
	UploadedBy   string
	Similarity   float64
	Summary      *string
	Keywords     []string
	TokenCount   int
	Metadata     map[string]any
}

type Store interface {
	DocumentStore
	ChunkStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

type DocumentStore interface {
	// CreateDocument inserts a document row. Returns ErrDuplicateContent
	// when the content hash is already present.
	CreateDocument(ctx context.Context, doc *model.Document) error
	// GetDocument retrieves a document by numeric ID.
	GetDocument(ctx context.Context, id uint) (*model.Document, error)
	// GetDocumentByUUID retrieves a document by UUID.
	GetDocumentByUUID(ctx context.Context, uuid string) (*model.Document, error)
	// GetDocumentByHash retrieves a document by content hash.
	GetDocumentByHash(ctx context.Context, hash string) (*model.Document, error)
	// ListDocuments retrieves documents, optionally constrained by a filter,
	// newest first.
	ListDocuments(ctx context.Context, f *filter.Filter) ([]*model.Document, error)
	// ListDocumentUUIDs returns the UUIDs of all documents. Used by the
	// orphan sweep to reconcile against the object store.
	ListDocumentUUIDs(ctx context.Context) ([]string, error)
	// UpdateChunkCount sets the chunk count after ingestion.
	UpdateChunkCount(ctx context.Context, id uint, count int) error
	// DeleteDocument removes a document row, cascading to its chunks.
	DeleteDocument(ctx context.Context, id uint) error
}

type ChunkStore interface {
	// CreateChunks inserts chunk rows with their embeddings.
	CreateChunks(ctx context.Context, chunks []*model.Chunk) error
	// CountChunks returns the number of chunk rows for a document.
	CountChunks(ctx context.Context, docID uint) (int64, error)
	// SearchChunks runs a cosine-similarity k-NN search with an optional
	// metadata predicate. Results are ordered by similarity descending,
	// ties broken by chunk ID ascending.
	SearchChunks(ctx context.Context, embedding []float32, opts SearchOptions) ([]*ChunkHit, error)
}
