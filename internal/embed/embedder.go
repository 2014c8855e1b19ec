// Package embed turns chunk texts into dense vectors through an external
// model, with bounded parallelism and token-limit recovery.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emrgen/docsearch/internal/chunk"
	"github.com/emrgen/docsearch/internal/genai"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrEmbeddingFailed = errors.New("embedding failed")

const (
	// Dimension is the vector size the store is provisioned for.
	Dimension = 768

	defaultConcurrency = 10
	// maxSplitDepth caps token-limit recursion.
	maxSplitDepth = 3

	maxAttempts  = 4
	initialDelay = 500 * time.Millisecond
)

// Client is the single-text embedding call the embedder fans out over.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Piece is one embedded text. After token-limit recovery there may be more
// pieces than input chunks; the piece list is the authoritative chunk
// sequence from here on.
type Piece struct {
	Text   string
	Vector []float32
}

// Result carries the embedded pieces plus split statistics surfaced in the
// upload response.
type Result struct {
	Pieces          []Piece
	SplitsPerformed int
	MaxDepthReached int
}

type Embedder struct {
	client      Client
	concurrency int
}

func NewEmbedder(client Client) *Embedder {
	return &Embedder{client: client, concurrency: defaultConcurrency}
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedWithRetry(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	return vec, nil
}

// EmbedChunks embeds every text under the concurrency cap. A chunk the
// model rejects for length is split at the best semantic boundary and both
// halves are embedded recursively; nothing is dropped and nothing is
// averaged. The output preserves input order with sub-pieces in place of
// their parent.
func (e *Embedder) EmbedChunks(ctx context.Context, texts []string) (*Result, error) {
	pieces := make([][]Piece, len(texts))
	var (
		mu       sync.Mutex
		splits   int
		maxDepth int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			sub, err := e.embedRecursive(ctx, text, 0, &mu, &splits, &maxDepth)
			if err != nil {
				return err
			}
			pieces[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{SplitsPerformed: splits, MaxDepthReached: maxDepth}
	for _, sub := range pieces {
		result.Pieces = append(result.Pieces, sub...)
	}

	return result, nil
}

func (e *Embedder) embedRecursive(ctx context.Context, text string, depth int, mu *sync.Mutex, splits, maxDepth *int) ([]Piece, error) {
	vec, err := e.embedWithRetry(ctx, text)
	if err == nil {
		if len(vec) != Dimension {
			return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingFailed, len(vec), Dimension)
		}
		return []Piece{{Text: text, Vector: vec}}, nil
	}

	if !genai.IsTokenLimit(err) {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if depth >= maxSplitDepth {
		return nil, fmt.Errorf("%w: chunk still over the token limit after %d splits", ErrEmbeddingFailed, depth)
	}

	left, right := splitText(text)
	logrus.Debugf("chunk over token limit (%d chars), splitting at %d (depth %d)", len(text), len(left), depth+1)

	mu.Lock()
	*splits++
	if depth+1 > *maxDepth {
		*maxDepth = depth + 1
	}
	mu.Unlock()

	leftPieces, err := e.embedRecursive(ctx, left, depth+1, mu, splits, maxDepth)
	if err != nil {
		return nil, err
	}
	rightPieces, err := e.embedRecursive(ctx, right, depth+1, mu, splits, maxDepth)
	if err != nil {
		return nil, err
	}

	return append(leftPieces, rightPieces...), nil
}

func (e *Embedder) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := initialDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		vec, err := e.client.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if !genai.IsTransient(err) {
			return nil, err
		}

		logrus.Warnf("embedding attempt %d/%d failed: %v", attempt+1, maxAttempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, lastErr
}

// splitText cuts a chunk roughly in half at the best semantic boundary in
// the first half: paragraph, then sentence, then word, then the midpoint.
func splitText(text string) (string, string) {
	mid := len(text) / 2
	if mid == 0 {
		return text, ""
	}

	cut := chunk.SplitPoint(text[:mid])
	if cut <= 0 || cut >= len(text) {
		cut = mid
	}

	return text[:cut], text[cut:]
}
