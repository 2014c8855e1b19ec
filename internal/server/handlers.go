package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/embed"
	"github.com/emrgen/docsearch/internal/extract"
	"github.com/emrgen/docsearch/internal/filter"
	"github.com/emrgen/docsearch/internal/service"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/emrgen/docsearch/internal/validate"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read file")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read file")
	}

	metadata := map[string]any{}
	if raw := c.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "metadata must be a JSON object")
		}
	}

	result, err := s.docs.Upload(c.Request().Context(), service.UploadRequest{
		Filename:    fileHeader.Filename,
		Content:     content,
		Metadata:    metadata,
		UploadedBy:  s.auth.Principal(c),
		UploadedVia: "api",
	})
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, UploadResponse{
		ID:              result.ID,
		UUID:            result.UUID,
		Filename:        result.Filename,
		ContentHash:     result.ContentHash,
		ChunksCreated:   result.ChunksCreated,
		SplitsPerformed: result.SplitsPerformed,
		MaxSplitDepth:   result.MaxSplitDepth,
		Message:         result.Message,
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	useHybrid := true
	if req.UseHybrid != nil {
		useHybrid = *req.UseHybrid
	}

	result, err := s.docs.Query(c.Request().Context(), service.QueryRequest{
		Query:            req.Query,
		TopK:             req.TopK,
		UseHybrid:        useHybrid,
		Rerank:           req.Rerank,
		RerankCandidates: req.RerankCandidates,
		MinSimilarity:    req.MinSimilarity,
		Filters:          req.Filters,
	})
	if err != nil {
		return mapError(err)
	}

	results := make([]QueryResultItem, 0, len(result.Items))
	for _, item := range result.Items {
		results = append(results, toQueryResultItem(item))
	}

	return c.JSON(http.StatusOK, QueryResponse{
		Query:   result.Query,
		Total:   len(results),
		Results: results,
	})
}

func (s *Server) handleEmbed(c echo.Context) error {
	var req EmbedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	vec, err := s.docs.EmbedText(c.Request().Context(), req.Text)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, EmbedResponse{Embedding: vec, Dimension: len(vec)})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	filters := map[string]any{}
	if raw := c.QueryParam("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "filters must be a JSON object")
		}
	}

	docs, err := s.docs.ListDocuments(c.Request().Context(), filters)
	if err != nil {
		return mapError(err)
	}

	infos := make([]DocumentInfo, 0, len(docs))
	for _, doc := range docs {
		infos = append(infos, toDocumentInfo(doc))
	}

	return c.JSON(http.StatusOK, DocumentListResponse{Total: len(infos), Documents: infos})
}

// handleGetDocument accepts either the numeric ID or the UUID.
func (s *Server) handleGetDocument(c echo.Context) error {
	ctx := c.Request().Context()

	if id, err := strconv.ParseUint(c.Param("id"), 10, 32); err == nil {
		doc, err := s.docs.GetDocument(ctx, uint(id))
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, toDocumentInfo(doc))
	}

	doc, err := s.docs.GetDocumentByUUID(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, toDocumentInfo(doc))
}

func (s *Server) handleGetDocumentByHash(c echo.Context) error {
	doc, err := s.docs.GetDocumentByHash(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, toDocumentInfo(doc))
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}

	result, err := s.docs.DeleteDocument(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, deleteResponse(result))
}

func (s *Server) handleDeleteDocumentByHash(c echo.Context) error {
	result, err := s.docs.DeleteDocumentByHash(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, deleteResponse(result))
}

func (s *Server) handleDownload(c echo.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}

	format := service.DownloadFormat(c.QueryParam("format"))
	if format == "" {
		format = service.DownloadOriginal
	}
	if format != service.DownloadOriginal && format != service.DownloadExtracted {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("invalid format %q, must be 'original' or 'extracted'", format))
	}

	download, err := s.docs.DownloadDocument(c.Request().Context(), id, format)
	if err != nil {
		return mapError(err)
	}

	// RFC 5987 encoding keeps non-ASCII filenames intact.
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(download.Filename)))

	return c.Blob(http.StatusOK, download.MediaType, download.Content)
}

func (s *Server) handleDocumentChunks(c echo.Context) error {
	id, err := documentID(c)
	if err != nil {
		return err
	}

	doc, chunks, err := s.docs.DocumentChunks(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}

	infos := make([]ChunkInfo, 0, len(chunks))
	for _, chunk := range chunks {
		infos = append(infos, ChunkInfo{
			ChunkIndex: chunk.Index,
			ChunkText:  chunk.Text,
			StartChar:  chunk.StartChar,
			EndChar:    chunk.EndChar,
		})
	}

	return c.JSON(http.StatusOK, DocumentChunksResponse{
		ID:          doc.ID,
		Filename:    doc.Filename,
		TotalChunks: doc.ChunkCount,
		Chunks:      infos,
	})
}

func (s *Server) handleChunkContext(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid chunk index")
	}

	before, after := 1, 1
	if raw := c.QueryParam("before"); raw != "" {
		if before, err = strconv.Atoi(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before parameter")
		}
	}
	if raw := c.QueryParam("after"); raw != "" {
		if after, err = strconv.Atoi(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after parameter")
		}
	}

	context, err := s.docs.GetChunkContext(c.Request().Context(), c.Param("id"), index, before, after)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, ChunkContextResponse{
		DocumentUUID:   context.DocumentUUID,
		Filename:       context.Filename,
		TargetIndex:    context.TargetIndex,
		ContextRange:   [2]int{context.RangeStart, context.RangeEnd},
		Text:           context.Text,
		ChunksIncluded: context.RangeEnd - context.RangeStart + 1,
	})
}

func documentID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	return uint(id), nil
}

func deleteResponse(result *service.DeleteResult) DeleteResponse {
	return DeleteResponse{
		ID:            result.ID,
		Filename:      result.Filename,
		Deleted:       true,
		ChunksDeleted: result.ChunksDeleted,
		Message:       result.Message,
	}
}

// mapError translates the service error taxonomy into HTTP status codes.
// Validation and filter problems are the caller's fault; store and model
// failures are ours.
func mapError(err error) error {
	switch {
	case errors.Is(err, validate.ErrUnsupportedFormat),
		errors.Is(err, validate.ErrSignatureMismatch),
		errors.Is(err, validate.ErrFileTooLarge),
		errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrExtractionFailed),
		errors.Is(err, extract.ErrEmptyExtraction),
		errors.Is(err, filter.ErrInvalidFilter),
		errors.Is(err, service.ErrInvalidHash):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDocumentNotFound),
		errors.Is(err, blob.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, embed.ErrEmbeddingFailed):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
