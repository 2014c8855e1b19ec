package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/cache"
	"github.com/emrgen/docsearch/internal/embed"
	"github.com/emrgen/docsearch/internal/filter"
	"github.com/emrgen/docsearch/internal/llm"
	"github.com/emrgen/docsearch/internal/rerank"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearchStore serves a canned candidate list; vector search itself
// needs postgres and is not under test here.
type fakeSearchStore struct {
	store.Store
	hits []*store.ChunkHit
}

func (f *fakeSearchStore) SearchChunks(ctx context.Context, embedding []float32, opts store.SearchOptions) ([]*store.ChunkHit, error) {
	n := len(f.hits)
	if opts.TopK < n {
		n = opts.TopK
	}

	out := make([]*store.ChunkHit, n)
	copy(out, f.hits[:n])
	return out, nil
}

func hit(chunkID uint, index int, docID uint, docUUID, filename string, sim float64, tokenCount int, keywords []string) *store.ChunkHit {
	return &store.ChunkHit{
		ChunkID:      chunkID,
		ChunkIndex:   index,
		DocumentID:   docID,
		DocumentUUID: docUUID,
		Filename:     filename,
		Similarity:   sim,
		TokenCount:   tokenCount,
		Keywords:     keywords,
		Metadata:     map[string]any{},
	}
}

type queryFixture struct {
	docs  *DocumentService
	blobs blob.Store
}

// newQueryFixture seeds the blob store with chunk texts and BM25 indexes
// for the given hits.
func newQueryFixture(t *testing.T, model *fakeModel, hits []*store.ChunkHit, texts map[uint]string, indexes map[string]map[string]int) *queryFixture {
	t.Helper()

	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, h := range hits {
		text, ok := texts[h.ChunkID]
		if !ok {
			continue
		}
		data, err := json.Marshal(blob.ChunkObject{Text: text, Index: h.ChunkIndex})
		require.NoError(t, err)
		require.NoError(t, blobs.Put(ctx, blob.ChunkPath(h.DocumentUUID, h.ChunkIndex), data, "application/json"))
	}
	for uuid, tf := range indexes {
		data, err := json.Marshal(blob.BM25Index{TermFrequencies: tf})
		require.NoError(t, err)
		require.NoError(t, blobs.Put(ctx, blob.BM25IndexPath(uuid), data, "application/json"))
	}

	docs := NewDocumentService(
		&fakeSearchStore{hits: hits},
		blobs,
		cache.NewNopCache(),
		embed.NewEmbedder(model),
		llm.NewExtractor(model),
		rerank.NewReranker(model),
	)

	return &queryFixture{docs: docs, blobs: blobs}
}

func TestQueryVectorOnly(t *testing.T) {
	hits := []*store.ChunkHit{
		hit(1, 0, 10, "doc-a", "a.txt", 0.9, 500, nil),
		hit(2, 0, 11, "doc-b", "b.txt", 0.8, 500, nil),
		hit(3, 1, 11, "doc-b", "b.txt", 0.7, 500, nil),
	}
	texts := map[uint]string{1: "text one", 2: "text two", 3: "text three"}

	fx := newQueryFixture(t, &fakeModel{}, hits, texts, nil)

	result, err := fx.docs.Query(context.Background(), QueryRequest{
		Query: "anything", TopK: 2, UseHybrid: false,
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Equal(t, "text one", result.Items[0].ChunkText)
	assert.Equal(t, "text two", result.Items[1].ChunkText)
	assert.Equal(t, 0.9, result.Items[0].Similarity)
	assert.Nil(t, result.Items[0].RerankScore)
}

func TestQueryEmptyResult(t *testing.T) {
	fx := newQueryFixture(t, &fakeModel{}, nil, nil, nil)

	result, err := fx.docs.Query(context.Background(), QueryRequest{Query: "nothing", UseHybrid: true})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestQueryInvalidFilter(t *testing.T) {
	fx := newQueryFixture(t, &fakeModel{}, nil, nil, nil)

	_, err := fx.docs.Query(context.Background(), QueryRequest{
		Query:   "q",
		Filters: map[string]any{"tags": map[string]any{"$near": 1}},
	})
	assert.ErrorIs(t, err, filter.ErrInvalidFilter)
}

// Hybrid fusion lifts a lexically strong document over a slightly better
// vector match.
func TestQueryHybridFusesBM25(t *testing.T) {
	hits := []*store.ChunkHit{
		hit(1, 0, 10, "doc-a", "a.txt", 0.90, 500, nil),
		hit(2, 0, 11, "doc-b", "b.txt", 0.89, 500, nil),
		hit(3, 1, 11, "doc-b", "b.txt", 0.70, 500, nil),
	}
	texts := map[uint]string{1: "alpha", 2: "bravo", 3: "charlie"}
	indexes := map[string]map[string]int{
		// doc-b is saturated with the query terms, doc-a has none.
		"doc-a": {"unrelated": 3},
		"doc-b": {"kubernet": 20, "deploy": 15},
	}

	fx := newQueryFixture(t, &fakeModel{}, hits, texts, indexes)

	result, err := fx.docs.Query(context.Background(), QueryRequest{
		Query: "kubernetes deployment", TopK: 3, UseHybrid: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 3)
	// Chunk 2 wins: rank 2 on the vector side but rank 1 lexically.
	assert.Equal(t, "bravo", result.Items[0].ChunkText)
}

// A missing BM25 blob must not fail the query; the affected document is
// carried by its vector rank alone.
func TestQueryHybridMissingBM25Blob(t *testing.T) {
	hits := []*store.ChunkHit{
		hit(1, 0, 10, "doc-a", "a.txt", 0.9, 500, nil),
		hit(2, 0, 11, "doc-b", "b.txt", 0.8, 500, nil),
	}
	texts := map[uint]string{1: "from doc a", 2: "from doc b"}
	indexes := map[string]map[string]int{
		"doc-a": {"search": 5},
		// doc-b has no bm25_doc_index.json at all.
	}

	fx := newQueryFixture(t, &fakeModel{}, hits, texts, indexes)

	result, err := fx.docs.Query(context.Background(), QueryRequest{
		Query: "search", TopK: 2, UseHybrid: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Equal(t, "from doc a", result.Items[0].ChunkText)
	assert.Equal(t, "from doc b", result.Items[1].ChunkText)
}

// A chunk whose text blob is gone is omitted, not fatal.
func TestQueryOmitsUnfetchableChunks(t *testing.T) {
	hits := []*store.ChunkHit{
		hit(1, 0, 10, "doc-a", "a.txt", 0.9, 500, nil),
		hit(2, 1, 10, "doc-a", "a.txt", 0.8, 500, nil),
	}
	// No blob for chunk 2.
	texts := map[uint]string{1: "available"}

	fx := newQueryFixture(t, &fakeModel{}, hits, texts, nil)

	result, err := fx.docs.Query(context.Background(), QueryRequest{
		Query: "q", TopK: 2, UseHybrid: false,
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "available", result.Items[0].ChunkText)
}

// The keyword-trap scenario: lexical match on a fairy tale must lose to
// the actually relevant technical document once the judge weighs in.
func TestQueryRerankKeywordTrap(t *testing.T) {
	hits := []*store.ChunkHit{
		hit(1, 0, 10, "doc-tale", "tale.txt", 0.9, 800, []string{"fairy tale"}),
		hit(2, 0, 11, "doc-tech", "tech.txt", 0.85, 900, []string{"agent systems"}),
	}
	texts := map[uint]string{
		1: "Once upon a time, a story called hybrid search agent system charmed the kingdom.",
		2: "Agent systems coordinate retrieval and ranking; hybrid search fuses dense and lexical signals.",
	}
	indexes := map[string]map[string]int{
		"doc-tale": {"hybrid": 5, "search": 5, "agent": 5, "system": 5},
		"doc-tech": {"hybrid": 3, "search": 4, "agent": 6, "system": 6},
	}

	model := &fakeModel{rerankScore: func(doc string) float64 {
		if doc == texts[2] {
			return 9
		}
		return 3
	}}

	fx := newQueryFixture(t, model, hits, texts, indexes)

	result, err := fx.docs.Query(context.Background(), QueryRequest{
		Query: "hybrid search agent system", TopK: 2, UseHybrid: true, Rerank: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Equal(t, "tech.txt", result.Items[0].Filename)
	require.NotNil(t, result.Items[0].RerankScore)
	assert.InDelta(t, 0.9, *result.Items[0].RerankScore, 1e-9)
	assert.NotNil(t, result.Items[0].RerankReasoning)
}

func TestQueryDefaultsAndBounds(t *testing.T) {
	hits := make([]*store.ChunkHit, 0, 30)
	texts := map[uint]string{}
	for i := 1; i <= 30; i++ {
		id := uint(i)
		hits = append(hits, hit(id, i-1, 10, "doc-a", "a.txt", 1.0-float64(i)*0.01, 500, nil))
		texts[id] = "chunk text"
	}

	fx := newQueryFixture(t, &fakeModel{}, hits, texts, nil)

	result, err := fx.docs.Query(context.Background(), QueryRequest{
		Query: "q", UseHybrid: false,
	})
	require.NoError(t, err)
	assert.Len(t, result.Items, DefaultTopK)
}
