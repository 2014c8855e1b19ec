package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/filter"
	"github.com/emrgen/docsearch/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidHash = errors.New("invalid content hash: expected 64 lowercase hexadecimal characters")

// GetDocument returns a document row by numeric ID.
func (d *DocumentService) GetDocument(ctx context.Context, id uint) (*model.Document, error) {
	return d.store.GetDocument(ctx, id)
}

// GetDocumentByUUID returns a document row, consulting the cache first.
func (d *DocumentService) GetDocumentByUUID(ctx context.Context, uuid string) (*model.Document, error) {
	if cached, err := d.cache.GetDocument(ctx, uuid); err == nil && cached != nil {
		return cached, nil
	}

	doc, err := d.store.GetDocumentByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if err := d.cache.SetDocument(ctx, doc); err != nil {
		logrus.Debugf("failed to cache document %s: %v", uuid, err)
	}

	return doc, nil
}

// GetDocumentByHash returns a document row by content hash.
func (d *DocumentService) GetDocumentByHash(ctx context.Context, hash string) (*model.Document, error) {
	hash, err := normalizeHash(hash)
	if err != nil {
		return nil, err
	}

	return d.store.GetDocumentByHash(ctx, hash)
}

// ListDocuments returns documents newest first, optionally filtered.
func (d *DocumentService) ListDocuments(ctx context.Context, filters map[string]any) ([]*model.Document, error) {
	f, err := filter.Parse(filters)
	if err != nil {
		return nil, err
	}

	return d.store.ListDocuments(ctx, f)
}

type DeleteResult struct {
	ID            uint
	Filename      string
	ChunksDeleted int
	Message       string
}

// DeleteDocument removes a document from both tiers: the row (cascading to
// chunks) first so searches stop finding it immediately, then the blob
// prefix. A failed blob deletion leaves orphans for the sweep, never a
// searchable document without blobs.
func (d *DocumentService) DeleteDocument(ctx context.Context, id uint) (*DeleteResult, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	return d.deleteDocument(ctx, doc)
}

// DeleteDocumentByHash removes a document found by content hash.
func (d *DocumentService) DeleteDocumentByHash(ctx context.Context, hash string) (*DeleteResult, error) {
	hash, err := normalizeHash(hash)
	if err != nil {
		return nil, err
	}

	doc, err := d.store.GetDocumentByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	return d.deleteDocument(ctx, doc)
}

func (d *DocumentService) deleteDocument(ctx context.Context, doc *model.Document) (*DeleteResult, error) {
	if err := d.store.DeleteDocument(ctx, doc.ID); err != nil {
		return nil, err
	}

	if err := d.blobs.DeletePrefix(ctx, doc.UUID+"/"); err != nil {
		logrus.Warnf("blob deletion failed for %s, orphan sweep will retry: %v", doc.UUID, err)
	}
	if err := d.cache.InvalidateDocument(ctx, doc.UUID); err != nil {
		logrus.Debugf("cache invalidation failed for %s: %v", doc.UUID, err)
	}

	return &DeleteResult{
		ID:            doc.ID,
		Filename:      doc.Filename,
		ChunksDeleted: doc.ChunkCount,
		Message:       fmt.Sprintf("Document '%s' deleted successfully (%d chunks removed)", doc.Filename, doc.ChunkCount),
	}, nil
}

// DownloadFormat selects which artifact a download returns.
type DownloadFormat string

const (
	DownloadOriginal  DownloadFormat = "original"
	DownloadExtracted DownloadFormat = "extracted"
)

type Download struct {
	Filename  string
	MediaType string
	Content   []byte
}

// DownloadDocument fetches the original bytes or the extracted text of a
// document from the object store.
func (d *DocumentService) DownloadDocument(ctx context.Context, id uint, format DownloadFormat) (*Download, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	switch format {
	case DownloadExtracted:
		content, err := d.blobs.Get(ctx, blob.ExtractedPath(doc.UUID))
		if err != nil {
			return nil, err
		}
		base := doc.Filename
		if idx := strings.LastIndex(base, "."); idx > 0 {
			base = base[:idx]
		}
		return &Download{
			Filename:  base + "_extracted.txt",
			MediaType: "text/plain; charset=utf-8",
			Content:   content,
		}, nil
	case DownloadOriginal:
		content, err := d.blobs.Get(ctx, blob.OriginalPath(doc.UUID))
		if err != nil {
			return nil, err
		}
		return &Download{
			Filename:  doc.Filename,
			MediaType: doc.FileType,
			Content:   content,
		}, nil
	}

	return nil, fmt.Errorf("invalid download format %q", format)
}

type ChunkInfo struct {
	Index     int
	Text      string
	StartChar *int
	EndChar   *int
}

// DocumentChunks returns every chunk of a document in order, fetched from
// the object store concurrently.
func (d *DocumentService) DocumentChunks(ctx context.Context, id uint) (*model.Document, []ChunkInfo, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	objects, err := d.fetchChunkObjects(ctx, doc.UUID, 0, doc.ChunkCount-1)
	if err != nil {
		return nil, nil, err
	}

	chunks := make([]ChunkInfo, 0, len(objects))
	for _, obj := range objects {
		info := ChunkInfo{Index: obj.Index, Text: obj.Text}
		if obj.Metadata != nil {
			start, end := obj.Metadata.StartChar, obj.Metadata.EndChar
			info.StartChar = &start
			info.EndChar = &end
		}
		chunks = append(chunks, info)
	}

	return doc, chunks, nil
}

type ChunkContext struct {
	DocumentUUID string
	Filename     string
	TargetIndex  int
	RangeStart   int
	RangeEnd     int
	Text         string
}

// GetChunkContext rebuilds a continuous, overlap-free span of the extracted
// text covering the target chunk plus its neighbors, using the character
// offsets recorded in the chunk blobs.
func (d *DocumentService) GetChunkContext(ctx context.Context, uuid string, index, before, after int) (*ChunkContext, error) {
	if before < 0 || after < 0 {
		return nil, fmt.Errorf("before and after must be >= 0")
	}

	doc, err := d.GetDocumentByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= doc.ChunkCount {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, doc.ChunkCount)
	}

	start := max(0, index-before)
	end := min(doc.ChunkCount-1, index+after)

	objects, err := d.fetchChunkObjects(ctx, doc.UUID, start, end)
	if err != nil {
		return nil, err
	}

	minStart, maxEnd := -1, -1
	for _, obj := range objects {
		if obj.Metadata == nil {
			continue
		}
		if minStart == -1 || obj.Metadata.StartChar < minStart {
			minStart = obj.Metadata.StartChar
		}
		if obj.Metadata.EndChar > maxEnd {
			maxEnd = obj.Metadata.EndChar
		}
	}

	var text string
	if minStart >= 0 && maxEnd > minStart {
		extracted, err := d.blobs.Get(ctx, blob.ExtractedPath(doc.UUID))
		if err != nil {
			return nil, err
		}
		if maxEnd > len(extracted) {
			maxEnd = len(extracted)
		}
		text = string(extracted[minStart:maxEnd])
	} else {
		// Offsets missing, fall back to joining the chunk texts.
		parts := make([]string, len(objects))
		for i, obj := range objects {
			parts[i] = obj.Text
		}
		text = strings.Join(parts, "\n\n")
	}

	return &ChunkContext{
		DocumentUUID: doc.UUID,
		Filename:     doc.Filename,
		TargetIndex:  index,
		RangeStart:   start,
		RangeEnd:     end,
		Text:         text,
	}, nil
}

func (d *DocumentService) fetchChunkObjects(ctx context.Context, uuid string, start, end int) ([]blob.ChunkObject, error) {
	if end < start {
		return nil, nil
	}

	objects := make([]blob.ChunkObject, end-start+1)
	g, gctx := errgroup.WithContext(ctx)
	for i := start; i <= end; i++ {
		g.Go(func() error {
			data, err := d.blobs.Get(gctx, blob.ChunkPath(uuid, i))
			if err != nil {
				return fmt.Errorf("chunk %d of %s: %w", i, uuid, err)
			}
			return json.Unmarshal(data, &objects[i-start])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Index < objects[j].Index })

	return objects, nil
}

func normalizeHash(hash string) (string, error) {
	hash = strings.ToLower(hash)
	if len(hash) != 64 {
		return "", ErrInvalidHash
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", ErrInvalidHash
		}
	}

	return hash, nil
}
