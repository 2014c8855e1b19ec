// Package blob is the cold tier. Every artifact of a document lives under a
// single prefix keyed by the document UUID:
//
//	{uuid}/original            original uploaded bytes
//	{uuid}/extracted.txt       normalized extracted text
//	{uuid}/chunks/NNN.json     one per chunk
//	{uuid}/bm25_doc_index.json document-level term frequencies
package blob

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("blob not found")

// Store is the object-store contract the pipeline consumes. Writes are
// idempotent at a given path.
type Store interface {
	// Put writes a blob at path, overwriting any existing object.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// Get reads the blob at path. Returns ErrNotFound when absent.
	Get(ctx context.Context, path string) ([]byte, error)
	// List returns all object paths under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every object under the prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// ListPrefixes returns the top-level prefixes (document UUIDs).
	ListPrefixes(ctx context.Context) ([]string, error)
}

// ChunkObject is the persisted form of one chunk.
type ChunkObject struct {
	Text     string     `json:"text"`
	Index    int        `json:"index"`
	Metadata *ChunkMeta `json:"metadata,omitempty"`
}

// ChunkMeta records where the chunk sits in the extracted text, so context
// windows can be rebuilt without re-applying overlap.
type ChunkMeta struct {
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
}

// BM25Index is the persisted document-level term-frequency map.
type BM25Index struct {
	TermFrequencies map[string]int `json:"term_frequencies"`
}

func OriginalPath(uuid string) string {
	return uuid + "/original"
}

func ExtractedPath(uuid string) string {
	return uuid + "/extracted.txt"
}

func ChunkPath(uuid string, index int) string {
	return fmt.Sprintf("%s/chunks/%03d.json", uuid, index)
}

func BM25IndexPath(uuid string) string {
	return uuid + "/bm25_doc_index.json"
}
