package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appsvc "agentkb/internal/app"
	"agentkb/internal/document"
	"agentkb/internal/embedding"
	"agentkb/internal/model"
	"agentkb/internal/platform/rabbitmq"
	"agentkb/internal/store"
	"agentkb/internal/transport/http/response"
)

const maxUploadSize = 20 << 20 // 20 MB

type KnowledgeHandler struct {
	service   *appsvc.KnowledgeService
	publisher *rabbitmq.IngestPublisher
	uploadDir string
}

func NewKnowledgeHandler(service *appsvc.KnowledgeService, publisher *rabbitmq.IngestPublisher, uploadDir string) *KnowledgeHandler {
	return &KnowledgeHandler{
		service:   service,
		publisher: publisher,
		uploadDir: uploadDir,
	}
}

type AddDocumentRequest struct {
	FilePath         string                 `json:"file_path" binding:"required"`
	DocumentID       string                 `json:"document_id"`
	Metadata         map[string]interface{} `json:"metadata"`
	SelectedMetadata map[string]interface{} `json:"selected_metadata"`
}

type SearchRequest struct {
	Query               string                 `json:"query" binding:"required"`
	TopK                int                    `json:"top_k"`
	SimilarityThreshold float64                `json:"similarity_threshold"`
	MetadataFilter      map[string]interface{} `json:"metadata_filter"`
}

type CreateFieldRequest struct {
	FieldKey     string                 `json:"field_key" binding:"required"`
	FieldLabel   string                 `json:"field_label" binding:"required"`
	FieldType    string                 `json:"field_type"`
	FieldOptions map[string]interface{} `json:"field_options"`
}

type UpdateMetadataRequest struct {
	Updates map[string]interface{} `json:"updates" binding:"required"`
}

// AddDocument ingests a file already on the server's filesystem.
func (h *KnowledgeHandler) AddDocument(c *gin.Context) {
	var req AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	documentID, err := h.service.AddDocument(c.Request.Context(), appsvc.AddDocumentInput{
		FilePath:         req.FilePath,
		DocumentID:       req.DocumentID,
		Metadata:         req.Metadata,
		SelectedMetadata: req.SelectedMetadata,
	})
	if err != nil {
		h.writeServiceError(c, err, "add document failed")
		return
	}
	response.OK(c, gin.H{"document_id": documentID})
}

// UploadDocument accepts a multipart form with "file" plus optional
// "document_id" and "selected_metadata" (JSON object) fields. The file
// is stored under the upload dir and ingested from there, with the
// original filename stamped into metadata.
func (h *KnowledgeHandler) UploadDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 20MB)")
		return
	}

	var selectedMetadata map[string]interface{}
	if raw := strings.TrimSpace(c.PostForm("selected_metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &selectedMetadata); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "selected_metadata must be a JSON object")
			return
		}
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "prepare upload dir failed")
		return
	}
	storedName := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	storedPath := filepath.Join(h.uploadDir, storedName)
	if err := c.SaveUploadedFile(file, storedPath); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store uploaded file failed")
		return
	}

	documentID, err := h.service.AddDocument(c.Request.Context(), appsvc.AddDocumentInput{
		FilePath:   storedPath,
		DocumentID: strings.TrimSpace(c.PostForm("document_id")),
		Metadata: map[string]interface{}{
			"original_filename": file.Filename,
		},
		SelectedMetadata: selectedMetadata,
	})
	if err != nil {
		h.writeServiceError(c, err, "ingest uploaded document failed")
		return
	}
	response.OK(c, gin.H{
		"document_id":       documentID,
		"original_filename": file.Filename,
	})
}

// AddDocumentAsync queues the ingestion instead of running it on the
// request path; the worker picks it up.
func (h *KnowledgeHandler) AddDocumentAsync(c *gin.Context) {
	var req AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		documentID = uuid.NewString()
	}

	err := h.publisher.Publish(c.Request.Context(), model.IngestJob{
		FilePath:         req.FilePath,
		DocumentID:       documentID,
		Metadata:         req.Metadata,
		SelectedMetadata: req.SelectedMetadata,
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "queue ingest job failed")
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "queued",
		Data:    gin.H{"document_id": documentID},
	})
}

func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	results, err := h.service.Search(c.Request.Context(), appsvc.SearchInput{
		Query:               req.Query,
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
		MetadataFilter:      req.MetadataFilter,
	})
	if err != nil {
		h.writeServiceError(c, err, "search failed")
		return
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	response.OK(c, results)
}

func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	documents, err := h.service.ListDocuments(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "list documents failed")
		return
	}
	if documents == nil {
		documents = []model.DocumentSummary{}
	}
	response.OK(c, documents)
}

func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	documentID := c.Param("id")

	deleted, chunkCount, err := h.service.DeleteDocument(c.Request.Context(), documentID)
	if err != nil {
		h.writeServiceError(c, err, "delete document failed")
		return
	}
	if !deleted {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "document not found")
		return
	}
	response.OK(c, gin.H{
		"deleted_document_id": documentID,
		"deleted_chunks":      chunkCount,
	})
}

func (h *KnowledgeHandler) GetDocumentChunks(c *gin.Context) {
	documentID := c.Param("id")

	chunks, err := h.service.GetDocumentChunks(c.Request.Context(), documentID)
	if err != nil {
		h.writeServiceError(c, err, "list document chunks failed")
		return
	}
	if chunks == nil {
		chunks = []model.ChunkView{}
	}
	response.OK(c, chunks)
}

func (h *KnowledgeHandler) UpdateDocumentMetadata(c *gin.Context) {
	documentID := c.Param("id")

	var req UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	updated, err := h.service.UpdateDocumentMetadata(c.Request.Context(), documentID, req.Updates)
	if err != nil {
		h.writeServiceError(c, err, "update document metadata failed")
		return
	}
	if !updated {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "document not found")
		return
	}
	response.OK(c, gin.H{"document_id": documentID})
}

func (h *KnowledgeHandler) GetChunkMetadata(c *gin.Context) {
	documentID := c.Param("id")
	chunkIndex, err := parseChunkIndex(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chunk index")
		return
	}

	metadata, err := h.service.GetChunkMetadata(c.Request.Context(), documentID, chunkIndex)
	if err != nil {
		h.writeServiceError(c, err, "get chunk metadata failed")
		return
	}
	if metadata == nil {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "chunk not found")
		return
	}
	response.OK(c, metadata)
}

func (h *KnowledgeHandler) UpdateChunkMetadata(c *gin.Context) {
	documentID := c.Param("id")
	chunkIndex, err := parseChunkIndex(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chunk index")
		return
	}

	var req UpdateMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	updated, err := h.service.UpdateChunkMetadata(c.Request.Context(), documentID, chunkIndex, req.Updates)
	if err != nil {
		h.writeServiceError(c, err, "update chunk metadata failed")
		return
	}
	if !updated {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "chunk not found")
		return
	}
	response.OK(c, gin.H{"document_id": documentID, "chunk_index": chunkIndex})
}

func (h *KnowledgeHandler) ListMetadataFields(c *gin.Context) {
	fields, err := h.service.ListMetadataFields(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "list metadata fields failed")
		return
	}
	if fields == nil {
		fields = []model.MetadataField{}
	}
	response.OK(c, fields)
}

func (h *KnowledgeHandler) CreateMetadataField(c *gin.Context) {
	var req CreateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	field, err := h.service.CreateMetadataField(
		c.Request.Context(),
		req.FieldKey,
		req.FieldLabel,
		req.FieldType,
		req.FieldOptions,
	)
	if err != nil {
		h.writeServiceError(c, err, "create metadata field failed")
		return
	}
	response.OK(c, field)
}

func (h *KnowledgeHandler) DeleteMetadataField(c *gin.Context) {
	fieldKey := c.Param("key")

	deleted, err := h.service.DeleteMetadataField(c.Request.Context(), fieldKey)
	if err != nil {
		h.writeServiceError(c, err, "delete metadata field failed")
		return
	}
	if !deleted {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "metadata field not found")
		return
	}
	response.OK(c, gin.H{"deleted_field_key": fieldKey})
}

func parseChunkIndex(c *gin.Context) (int, error) {
	return strconv.Atoi(c.Param("index"))
}

func (h *KnowledgeHandler) writeServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, appsvc.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, document.ErrUnsupportedFormat):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, store.ErrVectorExtension):
		response.Error(c, http.StatusInternalServerError, response.CodeVectorExtension,
			"vector store is missing the pgvector extension; run CREATE EXTENSION vector on the database")
	case errors.Is(err, store.ErrConnectivity):
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "vector store unreachable")
	case errors.Is(err, embedding.ErrEmbedFailed):
		response.Error(c, http.StatusBadGateway, response.CodeEmbeddingFailed, "embedding provider failed")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
