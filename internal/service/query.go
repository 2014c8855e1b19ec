package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/bm25"
	"github.com/emrgen/docsearch/internal/filter"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/emrgen/docsearch/internal/token"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTopK is the result count when the request does not set one.
	DefaultTopK = 10
	// MaxTopK bounds the result count.
	MaxTopK = 100

	// minCandidates is the vector-side pool size when hybrid scoring or
	// reranking needs a broad candidate set.
	minCandidates = 100
)

type QueryRequest struct {
	Query            string
	TopK             int
	UseHybrid        bool
	Rerank           bool
	RerankCandidates int
	MinSimilarity    float64
	Filters          map[string]any
}

// QueryItem is one ranked result. The position in the returned slice is the
// authoritative ranking.
type QueryItem struct {
	ChunkText       string
	Similarity      float64
	RerankScore     *float64
	RerankReasoning *string
	Filename        string
	ChunkIndex      int
	DocumentID      uint
	DocumentUUID    string
	Summary         *string
	Metadata        map[string]any
}

type QueryResult struct {
	Query string
	Items []QueryItem
}

// Query answers a search request: embed the query, gather candidates by
// vector similarity, optionally fold in document-level BM25 through
// reciprocal rank fusion, optionally rerank with the judge model, then
// hydrate chunk texts for the final page.
func (d *DocumentService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
	if req.RerankCandidates <= 0 {
		req.RerankCandidates = 2 * req.TopK
	}

	f, err := filter.Parse(req.Filters)
	if err != nil {
		return nil, err
	}

	queryVec, err := d.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	candidates := req.TopK
	if req.UseHybrid || req.Rerank {
		candidates = max(minCandidates, req.RerankCandidates)
	}

	hits, err := d.store.SearchChunks(ctx, queryVec, store.SearchOptions{
		TopK:          candidates,
		MinSimilarity: req.MinSimilarity,
		Filter:        f,
	})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &QueryResult{Query: req.Query}, nil
	}

	if req.UseHybrid {
		hits = d.fuseWithBM25(ctx, req.Query, hits)
	}

	if req.Rerank && d.reranker != nil {
		items, err := d.rerankHits(ctx, req.Query, hits, req.RerankCandidates, req.TopK)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Query: req.Query, Items: items}, nil
	}

	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	items := d.hydrate(ctx, hits)

	return &QueryResult{Query: req.Query, Items: items}, nil
}

// fuseWithBM25 attaches a document-level BM25 score to every candidate and
// reorders the pool by reciprocal rank fusion of the vector ranking and the
// BM25 ranking. A document whose index blob is missing scores zero and is
// carried by the vector side alone.
func (d *DocumentService) fuseWithBM25(ctx context.Context, query string, hits []*store.ChunkHit) []*store.ChunkHit {
	docUUIDs := make([]string, 0)
	seen := make(map[string]bool)
	for _, hit := range hits {
		if !seen[hit.DocumentUUID] {
			seen[hit.DocumentUUID] = true
			docUUIDs = append(docUUIDs, hit.DocumentUUID)
		}
	}

	indexes := d.fetchBM25Indexes(ctx, docUUIDs)
	queryTerms := token.Tokenize(query)

	docScores := make(map[string]float64, len(docUUIDs))
	byUUID := make(map[string]*store.ChunkHit, len(hits))
	for _, hit := range hits {
		if byUUID[hit.DocumentUUID] == nil {
			byUUID[hit.DocumentUUID] = hit
		}
	}
	for uuid, hit := range byUUID {
		index := indexes[uuid]
		if index == nil {
			docScores[uuid] = 0
			continue
		}
		docScores[uuid] = d.scorer.Score(queryTerms, index.TermFrequencies, hit.TokenCount, hit.Keywords)
	}

	// Ranking A: vector similarity (the store already ordered hits).
	rankingA := make([]uint, len(hits))
	for i, hit := range hits {
		rankingA[i] = hit.ChunkID
	}

	// Ranking B: document BM25, ties broken by chunk ID for determinism.
	rankingB := make([]uint, len(hits))
	copy(rankingB, rankingA)
	hitByID := make(map[uint]*store.ChunkHit, len(hits))
	for _, hit := range hits {
		hitByID[hit.ChunkID] = hit
	}
	sort.SliceStable(rankingB, func(i, j int) bool {
		si := docScores[hitByID[rankingB[i]].DocumentUUID]
		sj := docScores[hitByID[rankingB[j]].DocumentUUID]
		if si != sj {
			return si > sj
		}
		return rankingB[i] < rankingB[j]
	})

	fused := make([]*store.ChunkHit, 0, len(hits))
	for _, id := range bm25.Fuse(rankingA, rankingB) {
		fused = append(fused, hitByID[id])
	}

	return fused
}

// fetchBM25Indexes loads the term-frequency index of every document,
// cache first, then the object store, all concurrently. Failures yield a
// nil entry; hybrid scoring degrades to the vector side for that document.
func (d *DocumentService) fetchBM25Indexes(ctx context.Context, docUUIDs []string) map[string]*blob.BM25Index {
	var mu sync.Mutex
	indexes := make(map[string]*blob.BM25Index, len(docUUIDs))

	g, gctx := errgroup.WithContext(ctx)
	for _, uuid := range docUUIDs {
		g.Go(func() error {
			index := d.loadBM25Index(gctx, uuid)
			mu.Lock()
			indexes[uuid] = index
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return indexes
}

func (d *DocumentService) loadBM25Index(ctx context.Context, uuid string) *blob.BM25Index {
	if cached, err := d.cache.GetBM25Index(ctx, uuid); err == nil && cached != nil {
		return cached
	}

	data, err := d.blobs.Get(ctx, blob.BM25IndexPath(uuid))
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			logrus.Warnf("failed to fetch bm25 index for %s: %v", uuid, err)
		}
		return nil
	}

	index := &blob.BM25Index{}
	if err := json.Unmarshal(data, index); err != nil {
		logrus.Warnf("corrupt bm25 index for %s: %v", uuid, err)
		return nil
	}

	if err := d.cache.SetBM25Index(ctx, uuid, index); err != nil {
		logrus.Debugf("failed to cache bm25 index for %s: %v", uuid, err)
	}

	return index
}

// rerankHits fetches candidate texts, scores them with the judge model and
// returns the top-k items in judged order.
func (d *DocumentService) rerankHits(ctx context.Context, query string, hits []*store.ChunkHit, candidates, topK int) ([]QueryItem, error) {
	if len(hits) > candidates {
		hits = hits[:candidates]
	}

	texts := d.fetchChunkTexts(ctx, hits)

	// Chunks whose text could not be fetched are omitted rather than
	// judged on empty input.
	kept := make([]*store.ChunkHit, 0, len(hits))
	keptTexts := make([]string, 0, len(hits))
	for i, hit := range hits {
		if texts[i] == nil {
			continue
		}
		kept = append(kept, hit)
		keptTexts = append(keptTexts, *texts[i])
	}
	if len(kept) == 0 {
		return nil, nil
	}

	results, err := d.reranker.Rerank(ctx, query, keptTexts)
	if err != nil {
		return nil, err
	}

	items := make([]QueryItem, 0, topK)
	for _, r := range results {
		if len(items) == topK {
			break
		}
		item := toQueryItem(kept[r.Index], keptTexts[r.Index])
		if r.Judged {
			score := r.Score
			reasoning := r.Reasoning
			item.RerankScore = &score
			if reasoning != "" {
				item.RerankReasoning = &reasoning
			}
		}
		items = append(items, item)
	}

	return items, nil
}

// hydrate fetches chunk texts for the final page. A chunk whose blob fetch
// fails is dropped from the result rather than failing the query.
func (d *DocumentService) hydrate(ctx context.Context, hits []*store.ChunkHit) []QueryItem {
	texts := d.fetchChunkTexts(ctx, hits)

	items := make([]QueryItem, 0, len(hits))
	for i, hit := range hits {
		if texts[i] == nil {
			logrus.Warnf("omitting chunk %d of %s: text unavailable", hit.ChunkIndex, hit.DocumentUUID)
			continue
		}
		items = append(items, toQueryItem(hit, *texts[i]))
	}

	return items
}

// fetchChunkTexts loads chunk blobs concurrently, returning nil for any
// chunk that could not be fetched.
func (d *DocumentService) fetchChunkTexts(ctx context.Context, hits []*store.ChunkHit) []*string {
	texts := make([]*string, len(hits))

	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		g.Go(func() error {
			data, err := d.blobs.Get(gctx, blob.ChunkPath(hit.DocumentUUID, hit.ChunkIndex))
			if err != nil {
				logrus.Warnf("failed to fetch chunk %d of %s: %v", hit.ChunkIndex, hit.DocumentUUID, err)
				return nil
			}
			var obj blob.ChunkObject
			if err := json.Unmarshal(data, &obj); err != nil {
				logrus.Warnf("corrupt chunk blob %d of %s: %v", hit.ChunkIndex, hit.DocumentUUID, err)
				return nil
			}
			texts[i] = &obj.Text
			return nil
		})
	}
	_ = g.Wait()

	return texts
}

func toQueryItem(hit *store.ChunkHit, text string) QueryItem {
	return QueryItem{
		ChunkText:    text,
		Similarity:   hit.Similarity,
		Filename:     hit.Filename,
		ChunkIndex:   hit.ChunkIndex,
		DocumentID:   hit.DocumentID,
		DocumentUUID: hit.DocumentUUID,
		Summary:      hit.Summary,
		Metadata:     hit.Metadata,
	}
}

// EmbedText embeds arbitrary text, backing the embedding endpoint.
func (d *DocumentService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return d.embedder.EmbedQuery(ctx, text)
}
