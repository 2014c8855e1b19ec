package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/bm25"
	"github.com/emrgen/docsearch/internal/chunk"
	"github.com/emrgen/docsearch/internal/embed"
	"github.com/emrgen/docsearch/internal/extract"
	"github.com/emrgen/docsearch/internal/llm"
	"github.com/emrgen/docsearch/internal/model"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/emrgen/docsearch/internal/token"
	"github.com/emrgen/docsearch/internal/validate"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// protectedFields can never be set through user metadata; they are columns
// derived from the authenticated principal, the clock or the file itself.
// Offending keys are silently dropped.
var protectedFields = map[string]bool{
	"uploaded_by": true, "uploaded_at": true, "uploaded_via": true,
	"id": true, "uuid": true, "doc_id": true, "doc_uuid": true,
	"filename": true, "original_filename": true, "file_type": true,
	"file_size": true, "content_hash": true, "file_hash": true,
	"chunk_count": true, "summary": true, "keywords": true,
	"token_count": true,
	"created_at": true, "updated_at": true, "deleted_at": true, "version": true,
}

type UploadRequest struct {
	Filename string
	Content  []byte
	// Metadata is the user-supplied attribute map. Protected keys are
	// dropped before persistence.
	Metadata    map[string]any
	UploadedBy  string
	UploadedVia string
}

type UploadResult struct {
	ID              uint
	UUID            string
	Filename        string
	ContentHash     string
	ChunksCreated   int
	SplitsPerformed int
	MaxSplitDepth   int
	Deduplicated    bool
	Message         string
}

// Upload runs the full ingestion pipeline:
//
//	validate -> hash -> dedup -> extract -> chunk ->
//	{embed ∥ llm-extract ∥ store original ∥ store extracted} ->
//	bm25 index + chunk blobs -> vector-store commit
//
// The vector-store commit comes last on purpose: a crash can only leave
// orphan blobs (cheap, swept by GC), never a searchable document whose
// blobs are missing.
func (d *DocumentService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	validation, err := validate.Validate(req.Filename, req.Content)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Content)
	contentHash := hex.EncodeToString(sum[:])

	if existing, err := d.store.GetDocumentByHash(ctx, contentHash); err == nil {
		return dedupResult(existing, contentHash), nil
	} else if !errors.Is(err, store.ErrDocumentNotFound) {
		return nil, err
	}

	text, err := extract.Extract(req.Content, validation.Ext)
	if err != nil {
		return nil, err
	}

	pieces := d.chunker.Chunk(text)
	if len(pieces) == 0 {
		return nil, extract.ErrEmptyExtraction
	}
	logrus.Infof("processing %s: %d chars extracted, %d chunks", req.Filename, len(text), len(pieces))

	docUUID := uuid.New().String()

	chunkTexts := make([]string, len(pieces))
	for i, p := range pieces {
		chunkTexts[i] = p.Text
	}

	// Embedding, LLM extraction and the two large blob uploads are all
	// independent; run them together. LLM extraction fails soft inside
	// the extractor, everything else aborts the upload.
	var (
		embedded   *embed.Result
		extraction llm.Extraction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		embedded, err = d.embedder.EmbedChunks(gctx, chunkTexts)
		return err
	})
	g.Go(func() error {
		extraction = d.extractor.Extract(gctx, text)
		return nil
	})
	g.Go(func() error {
		return d.blobs.Put(gctx, blob.OriginalPath(docUUID), req.Content, validation.ContentType)
	})
	g.Go(func() error {
		return d.blobs.Put(gctx, blob.ExtractedPath(docUUID), []byte(text), "text/plain")
	})
	if err := g.Wait(); err != nil {
		d.cleanupBlobs(docUUID)
		return nil, err
	}

	// The embedder may have split chunks; its piece list is the
	// authoritative chunk sequence, renumbered from 0.
	offsets := pieceOffsets(pieces, embedded.Pieces)
	finalTexts := make([]string, len(embedded.Pieces))
	for i, p := range embedded.Pieces {
		finalTexts[i] = p.Text
	}

	index := &blob.BM25Index{TermFrequencies: bm25.BuildIndex(finalTexts)}
	tokenCount := len(token.Tokenize(text))

	if err := d.uploadChunkBlobs(ctx, docUUID, embedded.Pieces, offsets, index); err != nil {
		d.cleanupBlobs(docUUID)
		return nil, err
	}

	doc := &model.Document{
		UUID:        docUUID,
		Filename:    req.Filename,
		FileType:    validation.ContentType,
		FileSize:    int64(len(req.Content)),
		ContentHash: contentHash,
		UploadedBy:  req.UploadedBy,
		UploadedVia: req.UploadedVia,
		UploadedAt:  time.Now().UTC(),
		TokenCount:  tokenCount,
		ChunkCount:  len(embedded.Pieces),
	}
	if extraction.Summary != "" {
		doc.Summary = &extraction.Summary
	}
	if err := doc.SetMeta(stripProtected(req.Metadata)); err != nil {
		d.cleanupBlobs(docUUID)
		return nil, err
	}
	if err := doc.SetKeywords(extraction.Keywords); err != nil {
		d.cleanupBlobs(docUUID)
		return nil, err
	}

	err = d.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return err
		}
		chunks := make([]*model.Chunk, len(embedded.Pieces))
		for i, p := range embedded.Pieces {
			chunks[i] = &model.Chunk{
				DocumentID: doc.ID,
				ChunkIndex: i,
				Embedding:  pgvector.NewVector(p.Vector),
			}
		}
		return tx.CreateChunks(ctx, chunks)
	})
	if err != nil {
		d.cleanupBlobs(docUUID)
		if errors.Is(err, store.ErrDuplicateContent) {
			// Lost a race with a concurrent upload of the same bytes;
			// the winner's document is the answer.
			if winner, getErr := d.store.GetDocumentByHash(ctx, contentHash); getErr == nil {
				return dedupResult(winner, contentHash), nil
			}
		}
		return nil, err
	}

	if err := d.cache.SetDocument(ctx, doc); err != nil {
		logrus.Warnf("failed to warm document cache for %s: %v", docUUID, err)
	}
	if err := d.cache.SetBM25Index(ctx, docUUID, index); err != nil {
		logrus.Warnf("failed to warm bm25 cache for %s: %v", docUUID, err)
	}

	logrus.Infof("ingested %s: id=%d uuid=%s chunks=%d splits=%d",
		req.Filename, doc.ID, docUUID, len(embedded.Pieces), embedded.SplitsPerformed)

	return &UploadResult{
		ID:              doc.ID,
		UUID:            docUUID,
		Filename:        req.Filename,
		ContentHash:     contentHash,
		ChunksCreated:   len(embedded.Pieces),
		SplitsPerformed: embedded.SplitsPerformed,
		MaxSplitDepth:   embedded.MaxDepthReached,
		Message:         fmt.Sprintf("Document processed successfully: %d chunks created", len(embedded.Pieces)),
	}, nil
}

func dedupResult(doc *model.Document, contentHash string) *UploadResult {
	return &UploadResult{
		ID:           doc.ID,
		UUID:         doc.UUID,
		Filename:     doc.Filename,
		ContentHash:  contentHash,
		Deduplicated: true,
		Message:      fmt.Sprintf("Document already exists (uploaded as '%s'). Skipping duplicate.", doc.Filename),
	}
}

func stripProtected(meta map[string]any) map[string]any {
	clean := make(map[string]any, len(meta))
	for k, v := range meta {
		if protectedFields[k] {
			logrus.Warnf("dropping protected metadata field %q", k)
			continue
		}
		clean[k] = v
	}

	return clean
}

// pieceOffsets maps the embedder's (possibly split) pieces back to
// character offsets in the extracted text. Sub-pieces partition their
// parent chunk's text in order, so offsets accumulate within each parent.
func pieceOffsets(parents []chunk.Piece, pieces []embed.Piece) []blob.ChunkMeta {
	offsets := make([]blob.ChunkMeta, 0, len(pieces))
	parentIdx, consumed := 0, 0
	for _, p := range pieces {
		if parentIdx >= len(parents) {
			offsets = append(offsets, blob.ChunkMeta{})
			continue
		}
		parent := parents[parentIdx]
		start := parent.Start + consumed
		offsets = append(offsets, blob.ChunkMeta{StartChar: start, EndChar: start + len(p.Text)})
		consumed += len(p.Text)
		if consumed >= len(parent.Text) {
			parentIdx++
			consumed = 0
		}
	}

	return offsets
}

func (d *DocumentService) uploadChunkBlobs(ctx context.Context, docUUID string, pieces []embed.Piece, offsets []blob.ChunkMeta, index *blob.BM25Index) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, p := range pieces {
		g.Go(func() error {
			meta := offsets[i]
			obj := blob.ChunkObject{Text: p.Text, Index: i, Metadata: &meta}
			data, err := json.Marshal(obj)
			if err != nil {
				return err
			}
			return d.blobs.Put(gctx, blob.ChunkPath(docUUID, i), data, "application/json")
		})
	}
	g.Go(func() error {
		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		return d.blobs.Put(gctx, blob.BM25IndexPath(docUUID), data, "application/json")
	})

	return g.Wait()
}

// cleanupBlobs removes everything written under the prefix after a failed
// ingestion. Best effort: leftovers are caught by the orphan sweep.
func (d *DocumentService) cleanupBlobs(docUUID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.blobs.DeletePrefix(ctx, docUUID+"/"); err != nil {
		logrus.Warnf("cleanup of %s/ failed, orphan sweep will retry: %v", docUUID, err)
	}
}
