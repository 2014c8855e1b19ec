// Package rerank reorders retrieval candidates with an external judge
// model. Candidates go out in small batches under a concurrency cap; a
// failed batch keeps its pre-rerank order with zero scores instead of
// failing the query.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 2
	defaultConcurrency = 10

	maxOutputTokens = 8000
)

const promptTemplate = `You are an expert at assessing document relevance.

Given a query and multiple documents, your task is to determine how relevant each document is to answering the query.

Query: %s

Documents:
%s

For each document, rate its relevance to the query on a scale from 0 to 10:
- 0: Completely irrelevant, document has nothing to do with the query
- 5: Somewhat relevant, document mentions related topics but doesn't directly answer the query
- 10: Highly relevant, document directly answers or addresses the query

Respond with ONLY a JSON array in this exact format (no other text):
[
  {"index": 0, "relevance_score": <number 0-10>, "reasoning": "<brief explanation>"},
  {"index": 1, "relevance_score": <number 0-10>, "reasoning": "<brief explanation>"}
]`

// Judge is the JSON-mode generation call used to score batches.
type Judge interface {
	GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Result is one judged candidate. Score is normalized to [0,1]. Judged is
// false when the candidate's batch failed and the score is a placeholder.
type Result struct {
	Index     int
	Score     float64
	Reasoning string
	Judged    bool
}

type Reranker struct {
	judge       Judge
	batchSize   int
	concurrency int
}

func NewReranker(judge Judge) *Reranker {
	return &Reranker{
		judge:       judge,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
	}
}

// Rerank scores every document against the query and returns the full-length
// result list sorted by score descending. Unjudged candidates (failed
// batches) sort by their original position below equal scores, so the
// pre-rerank order is preserved for them.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	results := make([]Result, len(documents))
	numBatches := (len(documents) + r.batchSize - 1) / r.batchSize
	logrus.Infof("reranking %d documents in %d batches", len(documents), numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for b := 0; b < numBatches; b++ {
		start := b * r.batchSize
		end := start + r.batchSize
		if end > len(documents) {
			end = len(documents)
		}
		g.Go(func() error {
			batch := documents[start:end]
			scores, err := r.judgeBatch(gctx, query, batch)
			if err != nil {
				// A failed batch is soft: its candidates keep their
				// fused order with zero scores.
				logrus.Warnf("rerank batch %d failed, keeping pre-rerank order: %v", start/r.batchSize, err)
				for i := range batch {
					results[start+i] = Result{Index: start + i}
				}
				return nil
			}
			for i, s := range scores {
				results[start+i] = Result{
					Index:     start + i,
					Score:     s.score,
					Reasoning: s.reasoning,
					Judged:    true,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})

	return results, nil
}

type batchScore struct {
	score     float64
	reasoning string
}

// judgeBatch sends one batch to the judge and returns a score per document,
// in batch order. Missing entries score zero.
func (r *Reranker) judgeBatch(ctx context.Context, query string, batch []string) ([]batchScore, error) {
	var docs strings.Builder
	for i, doc := range batch {
		fmt.Fprintf(&docs, "\n[Document %d]\n%s\n", i, doc)
	}

	raw, err := r.judge.GenerateJSON(ctx, fmt.Sprintf(promptTemplate, query, docs.String()), maxOutputTokens)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Index     int     `json:"index"`
		Relevance float64 `json:"relevance_score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &entries); err != nil {
		return nil, fmt.Errorf("judge returned invalid json: %w", err)
	}

	scores := make([]batchScore, len(batch))
	for _, entry := range entries {
		if entry.Index < 0 || entry.Index >= len(batch) {
			logrus.Warnf("judge returned out-of-range index %d", entry.Index)
			continue
		}
		score := entry.Relevance
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		scores[entry.Index] = batchScore{score: score / 10, reasoning: entry.Reasoning}
	}

	return scores, nil
}
