// Package service contains the ingestion and query orchestrators binding
// the two storage tiers, the external models and the lexical pipeline
// together.
package service

import (
	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/bm25"
	"github.com/emrgen/docsearch/internal/cache"
	"github.com/emrgen/docsearch/internal/chunk"
	"github.com/emrgen/docsearch/internal/embed"
	"github.com/emrgen/docsearch/internal/llm"
	"github.com/emrgen/docsearch/internal/rerank"
	"github.com/emrgen/docsearch/internal/store"
)

// NewDocumentService wires the search core. cache may be a NopCache; the
// reranker may be nil, in which case rerank requests fall back to the
// fused order.
func NewDocumentService(
	store store.Store,
	blobs blob.Store,
	cache cache.DocumentCache,
	embedder *embed.Embedder,
	extractor *llm.Extractor,
	reranker *rerank.Reranker,
) *DocumentService {
	return &DocumentService{
		store:     store,
		blobs:     blobs,
		cache:     cache,
		embedder:  embedder,
		extractor: extractor,
		reranker:  reranker,
		chunker:   chunk.NewChunker(chunk.DefaultSize, chunk.DefaultOverlap),
		scorer:    bm25.NewScorer(),
	}
}

// DocumentService is the core of the search system: it owns ingestion,
// querying and the document lifecycle.
type DocumentService struct {
	store     store.Store
	blobs     blob.Store
	cache     cache.DocumentCache
	embedder  *embed.Embedder
	extractor *llm.Extractor
	reranker  *rerank.Reranker
	chunker   *chunk.Chunker
	scorer    *bm25.Scorer
}
