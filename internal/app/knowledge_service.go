package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"agentkb/internal/document"
	"agentkb/internal/embedding"
	"agentkb/internal/model"
)

const (
	defaultTopK                = 5
	defaultSimilarityThreshold = 0.3
	embeddingBatchSize         = 10 // most embedding APIs limit batch size
)

var ErrInvalidInput = errors.New("invalid input")

// DocumentProcessor turns a file into ordered text chunks.
type DocumentProcessor interface {
	Process(path string) ([]document.RawChunk, error)
}

// VectorStore is the persistence surface the service composes over.
type VectorStore interface {
	UpsertChunk(ctx context.Context, chunk *model.Chunk) error
	TrimChunks(ctx context.Context, documentID string, keep int) error
	Search(ctx context.Context, queryEmbedding []float32, topK int, threshold float64, metadataFilter map[string]interface{}) ([]model.SearchResult, error)
	ListDocuments(ctx context.Context) ([]model.DocumentSummary, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, int64, error)
	GetDocumentChunks(ctx context.Context, documentID string) ([]model.ChunkView, error)
	GetChunkMetadata(ctx context.Context, documentID string, chunkIndex int) (model.JSONMap, error)
	UpdateDocumentMetadata(ctx context.Context, documentID string, updates map[string]interface{}) (bool, error)
	UpdateChunkMetadata(ctx context.Context, documentID string, chunkIndex int, updates map[string]interface{}) (bool, error)
	ListFields(ctx context.Context) ([]model.MetadataField, error)
	CreateField(ctx context.Context, field model.MetadataField) (*model.MetadataField, error)
	DeleteField(ctx context.Context, fieldKey string) (bool, error)
}

// QueryCache serves recent query embeddings; misses and errors are
// both fine, the provider is the source of truth.
type QueryCache interface {
	Get(ctx context.Context, text string) ([]float32, bool, error)
	Set(ctx context.Context, text string, vector []float32) error
}

// SearchDefaults are applied when a caller leaves topK or threshold
// unset.
type SearchDefaults struct {
	TopK                int
	SimilarityThreshold float64
}

// KnowledgeService is the composition root of the retrieval subsystem:
// processor -> provider -> store for ingestion, provider -> store for
// search.
type KnowledgeService struct {
	processor  DocumentProcessor
	provider   embedding.Provider
	store      VectorStore
	queryCache QueryCache
	defaults   SearchDefaults
}

func NewKnowledgeService(
	processor DocumentProcessor,
	provider embedding.Provider,
	store VectorStore,
	queryCache QueryCache,
	defaults SearchDefaults,
) *KnowledgeService {
	if defaults.TopK <= 0 {
		defaults.TopK = defaultTopK
	}
	if defaults.SimilarityThreshold <= 0 {
		defaults.SimilarityThreshold = defaultSimilarityThreshold
	}
	return &KnowledgeService{
		processor:  processor,
		provider:   provider,
		store:      store,
		queryCache: queryCache,
		defaults:   defaults,
	}
}

// AddDocumentInput describes one ingestion request. SelectedMetadata
// supplies values for defined metadata fields; Metadata is overlaid on
// top of those (provenance fields and the like).
type AddDocumentInput struct {
	FilePath         string
	DocumentID       string
	Metadata         map[string]interface{}
	SelectedMetadata map[string]interface{}
}

// AddDocument chunks the file, embeds every chunk, and upserts the rows
// keyed by (document_id, chunk_index). All embeddings are generated
// before the first write, so a provider failure aborts the whole add.
// On success exactly len(chunks) rows exist with contiguous indexes.
func (s *KnowledgeService) AddDocument(ctx context.Context, in AddDocumentInput) (string, error) {
	path := strings.TrimSpace(in.FilePath)
	if path == "" {
		return "", fmt.Errorf("%w: file path is required", ErrInvalidInput)
	}

	chunks, err := s.processor.Process(path)
	if err != nil {
		return "", err
	}

	documentID := strings.TrimSpace(in.DocumentID)
	if documentID == "" {
		documentID = uuid.NewString()
	}

	baseMetadata := s.buildBaseMetadata(ctx, in.SelectedMetadata, in.Metadata)

	if len(chunks) == 0 {
		log.Printf("document %s produced no chunks, nothing stored", documentID)
		return documentID, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	embeddings, err := s.embedAll(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("embed document %s failed: %w", documentID, err)
	}

	for i, chunk := range chunks {
		metadata := baseMetadata.Clone()
		if metadata == nil {
			metadata = model.JSONMap{}
		}
		metadata["chunk_index"] = i
		metadata["document_id"] = documentID

		row := &model.Chunk{
			DocumentID: documentID,
			ChunkIndex: i,
			Content:    chunk.Content,
			Embedding:  pgvector.NewVector(embeddings[i]),
			Metadata:   metadata,
			Source:     chunk.Source,
		}
		if err := s.store.UpsertChunk(ctx, row); err != nil {
			return "", err
		}
	}

	// Re-ingesting a shrunken document must not leave stale tail rows.
	if err := s.store.TrimChunks(ctx, documentID, len(chunks)); err != nil {
		return "", err
	}

	log.Printf("document %s added with %d chunks", documentID, len(chunks))
	return documentID, nil
}

// buildBaseMetadata starts from every defined field key (selected value
// or nil), then overlays the caller's metadata. A field-listing failure
// degrades to an empty schema rather than failing the add.
func (s *KnowledgeService) buildBaseMetadata(
	ctx context.Context,
	selected map[string]interface{},
	extra map[string]interface{},
) model.JSONMap {
	base := model.JSONMap{}

	fields, err := s.store.ListFields(ctx)
	if err != nil {
		log.Printf("list metadata fields failed, continuing without schema: %v", err)
	}
	for _, field := range fields {
		if value, ok := selected[field.FieldKey]; ok {
			base[field.FieldKey] = value
		} else {
			base[field.FieldKey] = nil
		}
	}
	for key, value := range extra {
		base[key] = value
	}
	return base
}

func (s *KnowledgeService) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.provider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d for %d chunks", len(embeddings), len(texts))
	}
	return embeddings, nil
}

// SearchInput describes one similarity query. Zero TopK and zero
// SimilarityThreshold take the configured defaults.
type SearchInput struct {
	Query               string
	TopK                int
	SimilarityThreshold float64
	MetadataFilter      map[string]interface{}
}

// Search embeds the query and returns the ranked, filtered rows.
func (s *KnowledgeService) Search(ctx context.Context, in SearchInput) ([]model.SearchResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}

	topK := in.TopK
	if topK <= 0 {
		topK = s.defaults.TopK
	}
	threshold := in.SimilarityThreshold
	if threshold <= 0 {
		threshold = s.defaults.SimilarityThreshold
	}

	queryEmbedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	return s.store.Search(ctx, queryEmbedding, topK, threshold, in.MetadataFilter)
}

// embedQuery consults the cache first; cache failures only log, the
// search itself proceeds via the provider.
func (s *KnowledgeService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.queryCache != nil {
		vector, hit, err := s.queryCache.Get(ctx, query)
		if err != nil {
			log.Printf("query embedding cache get failed: %v", err)
		} else if hit {
			return vector, nil
		}
	}

	vector, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.queryCache != nil {
		if err := s.queryCache.Set(ctx, query, vector); err != nil {
			log.Printf("query embedding cache set failed: %v", err)
		}
	}
	return vector, nil
}

func (s *KnowledgeService) ListDocuments(ctx context.Context) ([]model.DocumentSummary, error) {
	return s.store.ListDocuments(ctx)
}

// DeleteDocument removes the document's chunks. False (not an error)
// when the id had none; the removed-chunk count is reported.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, documentID string) (bool, int64, error) {
	if strings.TrimSpace(documentID) == "" {
		return false, 0, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	return s.store.DeleteDocument(ctx, documentID)
}

func (s *KnowledgeService) GetDocumentChunks(ctx context.Context, documentID string) ([]model.ChunkView, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	return s.store.GetDocumentChunks(ctx, documentID)
}

func (s *KnowledgeService) GetChunkMetadata(ctx context.Context, documentID string, chunkIndex int) (model.JSONMap, error) {
	if strings.TrimSpace(documentID) == "" || chunkIndex < 0 {
		return nil, fmt.Errorf("%w: document id and chunk index are required", ErrInvalidInput)
	}
	return s.store.GetChunkMetadata(ctx, documentID, chunkIndex)
}

func (s *KnowledgeService) UpdateDocumentMetadata(ctx context.Context, documentID string, updates map[string]interface{}) (bool, error) {
	if strings.TrimSpace(documentID) == "" || len(updates) == 0 {
		return false, fmt.Errorf("%w: document id and updates are required", ErrInvalidInput)
	}
	return s.store.UpdateDocumentMetadata(ctx, documentID, updates)
}

func (s *KnowledgeService) UpdateChunkMetadata(ctx context.Context, documentID string, chunkIndex int, updates map[string]interface{}) (bool, error) {
	if strings.TrimSpace(documentID) == "" || chunkIndex < 0 || len(updates) == 0 {
		return false, fmt.Errorf("%w: document id, chunk index and updates are required", ErrInvalidInput)
	}
	return s.store.UpdateChunkMetadata(ctx, documentID, chunkIndex, updates)
}

func (s *KnowledgeService) ListMetadataFields(ctx context.Context) ([]model.MetadataField, error) {
	return s.store.ListFields(ctx)
}

// CreateMetadataField upserts the definition and retrofits the key into
// every existing chunk. The retrofit is a blocking store-wide write;
// the field is present (possibly null) on every chunk once this
// returns.
func (s *KnowledgeService) CreateMetadataField(
	ctx context.Context,
	fieldKey, fieldLabel, fieldType string,
	fieldOptions map[string]interface{},
) (*model.MetadataField, error) {
	fieldKey = strings.TrimSpace(fieldKey)
	fieldLabel = strings.TrimSpace(fieldLabel)
	if fieldKey == "" || fieldLabel == "" {
		return nil, fmt.Errorf("%w: field key and label are required", ErrInvalidInput)
	}
	if fieldType == "" {
		fieldType = model.FieldTypeText
	}
	if !model.ValidFieldType(fieldType) {
		return nil, fmt.Errorf("%w: unknown field type %q", ErrInvalidInput, fieldType)
	}

	return s.store.CreateField(ctx, model.MetadataField{
		FieldKey:     fieldKey,
		FieldLabel:   fieldLabel,
		FieldType:    fieldType,
		FieldOptions: fieldOptions,
	})
}

func (s *KnowledgeService) DeleteMetadataField(ctx context.Context, fieldKey string) (bool, error) {
	if strings.TrimSpace(fieldKey) == "" {
		return false, fmt.Errorf("%w: field key is required", ErrInvalidInput)
	}
	return s.store.DeleteField(ctx, fieldKey)
}
