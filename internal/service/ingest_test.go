package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/cache"
	"github.com/emrgen/docsearch/internal/embed"
	"github.com/emrgen/docsearch/internal/extract"
	"github.com/emrgen/docsearch/internal/genai"
	"github.com/emrgen/docsearch/internal/llm"
	"github.com/emrgen/docsearch/internal/rerank"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/emrgen/docsearch/internal/tester"
	"github.com/emrgen/docsearch/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel implements the embedding and generation calls of the external
// model deterministically.
type fakeModel struct {
	embedErr error
	genErr   error
	genJSON  string
	// rerankScore, when set, answers judge prompts by scoring each listed
	// document's text.
	rerankScore func(doc string) float64
}

var judgeDocPattern = regexp.MustCompile(`\[Document (\d+)\]\n([^\n]*)`)

func (f *fakeModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vec := make([]float32, embed.Dimension)
	for i, r := range text {
		vec[i%embed.Dimension] += float32(r)
	}
	return vec, nil
}

func (f *fakeModel) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	if f.rerankScore != nil && strings.Contains(prompt, "[Document") {
		var entries []map[string]any
		for _, m := range judgeDocPattern.FindAllStringSubmatch(prompt, -1) {
			idx, _ := strconv.Atoi(m[1])
			entries = append(entries, map[string]any{
				"index":           idx,
				"relevance_score": f.rerankScore(m[2]),
				"reasoning":       "judged",
			})
		}
		out, _ := json.Marshal(entries)
		return string(out), nil
	}
	if f.genJSON != "" {
		return f.genJSON, nil
	}
	return `{"summary": "A document about search infrastructure.", "keywords": ["search", "infrastructure"]}`, nil
}

func newTestService(t *testing.T, model *fakeModel) (*DocumentService, store.Store, blob.Store) {
	t.Helper()
	tester.Setup()

	gormStore := store.NewGormStore(tester.TestDB())
	blobs := tester.BlobStore()

	docs := NewDocumentService(
		gormStore,
		blobs,
		cache.NewNopCache(),
		embed.NewEmbedder(model),
		llm.NewExtractor(model),
		rerank.NewReranker(model),
	)

	return docs, gormStore, blobs
}

func uploadText(size int) []byte {
	var sb strings.Builder
	for i := 0; sb.Len() < size; i++ {
		fmt.Fprintf(&sb, "Paragraph %d about retrieval pipelines and hybrid scoring. ", i)
		if i%5 == 4 {
			sb.WriteString("\n\n")
		}
	}
	return []byte(sb.String())
}

func TestUploadIngestsDocument(t *testing.T) {
	docs, gormStore, blobs := newTestService(t, &fakeModel{})
	ctx := context.Background()

	result, err := docs.Upload(ctx, UploadRequest{
		Filename:    "guide.txt",
		Content:     uploadText(6000),
		Metadata:    map[string]any{"category": "tech"},
		UploadedBy:  "alice@example.com",
		UploadedVia: "api",
	})
	require.NoError(t, err)

	assert.NotZero(t, result.ID)
	assert.NotEmpty(t, result.UUID)
	assert.False(t, result.Deduplicated)
	assert.Greater(t, result.ChunksCreated, 1)
	assert.Len(t, result.ContentHash, 64)

	doc, err := gormStore.GetDocument(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, "guide.txt", doc.Filename)
	assert.Equal(t, "alice@example.com", doc.UploadedBy)
	assert.Equal(t, result.ChunksCreated, doc.ChunkCount)
	assert.Greater(t, doc.TokenCount, 0)
	require.NotNil(t, doc.Summary)
	assert.Equal(t, "A document about search infrastructure.", *doc.Summary)
	assert.Equal(t, []string{"search", "infrastructure"}, doc.KeywordList())
	assert.Equal(t, map[string]any{"category": "tech"}, doc.Meta())

	// Chunk rows, chunk blobs and chunk_count must all agree.
	count, err := gormStore.CountChunks(ctx, result.ID)
	require.NoError(t, err)
	assert.EqualValues(t, result.ChunksCreated, count)

	for i := 0; i < result.ChunksCreated; i++ {
		data, err := blobs.Get(ctx, blob.ChunkPath(result.UUID, i))
		require.NoError(t, err, "chunk blob %d", i)

		var obj blob.ChunkObject
		require.NoError(t, json.Unmarshal(data, &obj))
		assert.Equal(t, i, obj.Index)
		assert.NotEmpty(t, obj.Text)
	}

	_, err = blobs.Get(ctx, blob.OriginalPath(result.UUID))
	assert.NoError(t, err)
	_, err = blobs.Get(ctx, blob.ExtractedPath(result.UUID))
	assert.NoError(t, err)

	indexData, err := blobs.Get(ctx, blob.BM25IndexPath(result.UUID))
	require.NoError(t, err)
	var index blob.BM25Index
	require.NoError(t, json.Unmarshal(indexData, &index))
	assert.Greater(t, index.TermFrequencies["retriev"], 0)
}

// Dedup is content-based: the same bytes under a different filename return
// the original document and create nothing.
func TestUploadDedup(t *testing.T) {
	docs, gormStore, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()
	content := uploadText(3000)

	first, err := docs.Upload(ctx, UploadRequest{
		Filename: "a.txt", Content: content, UploadedBy: "alice@example.com",
	})
	require.NoError(t, err)

	second, err := docs.Upload(ctx, UploadRequest{
		Filename: "b.txt", Content: content, UploadedBy: "bob@example.com",
	})
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.UUID, second.UUID)
	assert.Zero(t, second.ChunksCreated)
	assert.Equal(t, "a.txt", second.Filename)
	assert.Contains(t, second.Message, "uploaded as 'a.txt'")
	assert.Contains(t, second.Message, "Skipping duplicate")

	all, err := gormStore.ListDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// Protected metadata keys are silently dropped, never persisted.
func TestUploadStripsProtectedMetadata(t *testing.T) {
	docs, gormStore, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()

	result, err := docs.Upload(ctx, UploadRequest{
		Filename: "doc.txt",
		Content:  uploadText(2000),
		Metadata: map[string]any{
			"uploaded_by": "attacker@x",
			"chunk_count": 9999,
			"category":    "tech",
		},
		UploadedBy: "alice@example.com",
	})
	require.NoError(t, err)

	doc, err := gormStore.GetDocument(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", doc.UploadedBy)
	assert.Equal(t, map[string]any{"category": "tech"}, doc.Meta())
}

func TestUploadValidationErrors(t *testing.T) {
	docs, _, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()

	_, err := docs.Upload(ctx, UploadRequest{Filename: "x.exe", Content: []byte("MZ"), UploadedBy: "u"})
	assert.ErrorIs(t, err, validate.ErrUnsupportedFormat)

	_, err = docs.Upload(ctx, UploadRequest{Filename: "fake.pdf", Content: []byte("text"), UploadedBy: "u"})
	assert.ErrorIs(t, err, validate.ErrSignatureMismatch)

	_, err = docs.Upload(ctx, UploadRequest{Filename: "empty.txt", Content: []byte("  \n "), UploadedBy: "u"})
	assert.ErrorIs(t, err, extract.ErrEmptyExtraction)
}

// A persistent embedding failure aborts the upload and leaves no blobs
// behind.
func TestUploadEmbeddingFailureCleansUp(t *testing.T) {
	docs, gormStore, blobs := newTestService(t, &fakeModel{
		embedErr: &genai.APIError{StatusCode: http.StatusForbidden, Message: "invalid key"},
	})
	ctx := context.Background()

	_, err := docs.Upload(ctx, UploadRequest{
		Filename: "doc.txt", Content: uploadText(2000), UploadedBy: "u",
	})
	assert.ErrorIs(t, err, embed.ErrEmbeddingFailed)

	prefixes, err := blobs.ListPrefixes(ctx)
	require.NoError(t, err)
	assert.Empty(t, prefixes)

	all, err := gormStore.ListDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// Deletion removes the row, the chunk rows and the whole blob prefix.
func TestDeleteDocument(t *testing.T) {
	docs, gormStore, blobs := newTestService(t, &fakeModel{})
	ctx := context.Background()

	result, err := docs.Upload(ctx, UploadRequest{
		Filename: "doc.txt", Content: uploadText(5000), UploadedBy: "u",
	})
	require.NoError(t, err)

	deleted, err := docs.DeleteDocument(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ChunksCreated, deleted.ChunksDeleted)
	assert.Contains(t, deleted.Message, "deleted successfully")

	_, err = gormStore.GetDocument(ctx, result.ID)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	count, err := gormStore.CountChunks(ctx, result.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	paths, err := blobs.List(ctx, result.UUID)
	require.NoError(t, err)
	assert.Empty(t, paths)

	_, err = docs.DeleteDocument(ctx, result.ID)
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestDeleteDocumentByHash(t *testing.T) {
	docs, _, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()

	result, err := docs.Upload(ctx, UploadRequest{
		Filename: "doc.txt", Content: uploadText(2000), UploadedBy: "u",
	})
	require.NoError(t, err)

	_, err = docs.DeleteDocumentByHash(ctx, "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)

	deleted, err := docs.DeleteDocumentByHash(ctx, result.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, result.ID, deleted.ID)
}

// Summary and keywords degrade gracefully when the LLM stays broken.
func TestUploadWithFailingLLMExtraction(t *testing.T) {
	docs, gormStore, _ := newTestService(t, &fakeModel{
		genErr: &genai.APIError{StatusCode: http.StatusForbidden, Message: "blocked"},
	})
	ctx := context.Background()

	result, err := docs.Upload(ctx, UploadRequest{
		Filename: "doc.md", Content: uploadText(2000), UploadedBy: "u",
	})
	require.NoError(t, err)

	doc, err := gormStore.GetDocument(ctx, result.ID)
	require.NoError(t, err)
	assert.Nil(t, doc.Summary)
	assert.Empty(t, doc.KeywordList())
	assert.Greater(t, doc.TokenCount, 0)
}

func TestDownloadDocument(t *testing.T) {
	docs, _, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()
	content := uploadText(2500)

	result, err := docs.Upload(ctx, UploadRequest{
		Filename: "report.txt", Content: content, UploadedBy: "u",
	})
	require.NoError(t, err)

	original, err := docs.DownloadDocument(ctx, result.ID, DownloadOriginal)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", original.Filename)
	assert.Equal(t, content, original.Content)

	extracted, err := docs.DownloadDocument(ctx, result.ID, DownloadExtracted)
	require.NoError(t, err)
	assert.Equal(t, "report_extracted.txt", extracted.Filename)
	assert.Equal(t, content, extracted.Content)
}

func TestDocumentChunksAndContext(t *testing.T) {
	docs, _, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()
	content := uploadText(7000)

	result, err := docs.Upload(ctx, UploadRequest{
		Filename: "doc.txt", Content: content, UploadedBy: "u",
	})
	require.NoError(t, err)
	require.Greater(t, result.ChunksCreated, 2)

	doc, chunks, err := docs.DocumentChunks(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ChunksCreated, doc.ChunkCount)
	require.Len(t, chunks, result.ChunksCreated)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		require.NotNil(t, chunk.StartChar)
		require.NotNil(t, chunk.EndChar)
		assert.Equal(t, string(content[*chunk.StartChar:*chunk.EndChar]), chunk.Text)
	}

	// Context spans rebuild overlap-free text straight from the source.
	contextResult, err := docs.GetChunkContext(ctx, result.UUID, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, contextResult.RangeStart)
	assert.Equal(t, 2, contextResult.RangeEnd)
	assert.Equal(t,
		string(content[*chunks[0].StartChar:*chunks[2].EndChar]),
		contextResult.Text)

	_, err = docs.GetChunkContext(ctx, result.UUID, result.ChunksCreated+5, 1, 1)
	assert.Error(t, err)
}

func TestListDocumentsWithFilter(t *testing.T) {
	docs, _, _ := newTestService(t, &fakeModel{})
	ctx := context.Background()

	_, err := docs.Upload(ctx, UploadRequest{
		Filename: "a.txt", Content: uploadText(2000),
		Metadata: map[string]any{"category": "tech"}, UploadedBy: "u",
	})
	require.NoError(t, err)

	_, err = docs.ListDocuments(ctx, map[string]any{"$bogus": 1})
	assert.Error(t, err)

	all, err := docs.ListDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
