package server

import (
	"time"

	"github.com/emrgen/docsearch/internal/model"
	"github.com/emrgen/docsearch/internal/service"
)

type UploadResponse struct {
	ID              uint   `json:"id"`
	UUID            string `json:"uuid"`
	Filename        string `json:"filename"`
	ContentHash     string `json:"content_hash"`
	ChunksCreated   int    `json:"chunks_created"`
	SplitsPerformed int    `json:"splits_performed"`
	MaxSplitDepth   int    `json:"max_split_depth"`
	Message         string `json:"message"`
}

type QueryRequest struct {
	Query            string         `json:"query"`
	TopK             int            `json:"top_k"`
	UseHybrid        *bool          `json:"use_hybrid"`
	Rerank           bool           `json:"rerank"`
	RerankCandidates int            `json:"rerank_candidates"`
	MinSimilarity    float64        `json:"min_similarity"`
	Filters          map[string]any `json:"filters"`
}

type QueryResultItem struct {
	ChunkText       string         `json:"chunk_text"`
	Similarity      float64        `json:"similarity"`
	RerankScore     *float64       `json:"rerank_score,omitempty"`
	RerankReasoning *string        `json:"rerank_reasoning,omitempty"`
	Filename        string         `json:"filename"`
	ChunkIndex      int            `json:"chunk_index"`
	DocumentID      uint           `json:"document_id"`
	DocumentUUID    string         `json:"document_uuid"`
	Summary         *string        `json:"summary,omitempty"`
	Metadata        map[string]any `json:"document_metadata"`
}

type QueryResponse struct {
	Query   string            `json:"query"`
	Total   int               `json:"total"`
	Results []QueryResultItem `json:"results"`
}

type EmbedRequest struct {
	Text string `json:"text"`
}

type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

type DocumentInfo struct {
	ID          uint           `json:"id"`
	UUID        string         `json:"uuid"`
	Filename    string         `json:"filename"`
	FileType    string         `json:"file_type"`
	FileSize    int64          `json:"file_size"`
	ContentHash string         `json:"content_hash"`
	ChunkCount  int            `json:"chunk_count"`
	UploadedBy  string         `json:"uploaded_by"`
	UploadedVia string         `json:"uploaded_via"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	Metadata    map[string]any `json:"metadata"`
	Summary     *string        `json:"summary"`
	Keywords    []string       `json:"keywords"`
	TokenCount  int            `json:"token_count"`
}

type DocumentListResponse struct {
	Total     int            `json:"total"`
	Documents []DocumentInfo `json:"documents"`
}

type DeleteResponse struct {
	ID            uint   `json:"id"`
	Filename      string `json:"filename"`
	Deleted       bool   `json:"deleted"`
	ChunksDeleted int    `json:"chunks_deleted"`
	Message       string `json:"message"`
}

type ChunkInfo struct {
	ChunkIndex int    `json:"chunk_index"`
	ChunkText  string `json:"chunk_text"`
	StartChar  *int   `json:"start_char,omitempty"`
	EndChar    *int   `json:"end_char,omitempty"`
}

type DocumentChunksResponse struct {
	ID          uint        `json:"id"`
	Filename    string      `json:"filename"`
	TotalChunks int         `json:"total_chunks"`
	Chunks      []ChunkInfo `json:"chunks"`
}

type ChunkContextResponse struct {
	DocumentUUID   string `json:"document_uuid"`
	Filename       string `json:"filename"`
	TargetIndex    int    `json:"target_chunk_index"`
	ContextRange   [2]int `json:"context_range"`
	Text           string `json:"text"`
	ChunksIncluded int    `json:"chunks_included"`
}

func toDocumentInfo(doc *model.Document) DocumentInfo {
	return DocumentInfo{
		ID:          doc.ID,
		UUID:        doc.UUID,
		Filename:    doc.Filename,
		FileType:    doc.FileType,
		FileSize:    doc.FileSize,
		ContentHash: doc.ContentHash,
		ChunkCount:  doc.ChunkCount,
		UploadedBy:  doc.UploadedBy,
		UploadedVia: doc.UploadedVia,
		UploadedAt:  doc.UploadedAt,
		Metadata:    doc.Meta(),
		Summary:     doc.Summary,
		Keywords:    doc.KeywordList(),
		TokenCount:  doc.TokenCount,
	}
}

func toQueryResultItem(item service.QueryItem) QueryResultItem {
	return QueryResultItem{
		ChunkText:       item.ChunkText,
		Similarity:      item.Similarity,
		RerankScore:     item.RerankScore,
		RerankReasoning: item.RerankReasoning,
		Filename:        item.Filename,
		ChunkIndex:      item.ChunkIndex,
		DocumentID:      item.DocumentID,
		DocumentUUID:    item.DocumentUUID,
		Summary:         item.Summary,
		Metadata:        item.Metadata,
	}
}
