package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentkb/internal/document"
	"agentkb/internal/model"
)

type fakeProcessor struct {
	chunks []document.RawChunk
	err    error
}

func (f *fakeProcessor) Process(path string) ([]document.RawChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type fakeProvider struct {
	dimension  int
	embedCalls int
	batchCalls int
	failBatch  bool
	failEmbed  bool
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	if f.failEmbed {
		return nil, errors.New("provider down")
	}
	return make([]float32, f.dimension), nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	if f.failBatch {
		return nil, errors.New("provider down")
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, f.dimension)
	}
	return vectors, nil
}

func (f *fakeProvider) Dimension() int { return f.dimension }

type searchCall struct {
	topK      int
	threshold float64
	filter    map[string]interface{}
}

type fakeStore struct {
	fields        []model.MetadataField
	listFieldsErr error

	upserts     []*model.Chunk
	trimmedDoc  string
	trimmedKeep int

	searchCalls   []searchCall
	searchResults []model.SearchResult

	deleted bool
	removed int64
}

func (f *fakeStore) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	f.upserts = append(f.upserts, chunk)
	return nil
}

func (f *fakeStore) TrimChunks(ctx context.Context, documentID string, keep int) error {
	f.trimmedDoc = documentID
	f.trimmedKeep = keep
	return nil
}

func (f *fakeStore) Search(ctx context.Context, queryEmbedding []float32, topK int, threshold float64, metadataFilter map[string]interface{}) ([]model.SearchResult, error) {
	f.searchCalls = append(f.searchCalls, searchCall{topK: topK, threshold: threshold, filter: metadataFilter})
	return f.searchResults, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]model.DocumentSummary, error) {
	return nil, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) (bool, int64, error) {
	return f.deleted, f.removed, nil
}

func (f *fakeStore) GetDocumentChunks(ctx context.Context, documentID string) ([]model.ChunkView, error) {
	return nil, nil
}

func (f *fakeStore) GetChunkMetadata(ctx context.Context, documentID string, chunkIndex int) (model.JSONMap, error) {
	return nil, nil
}

func (f *fakeStore) UpdateDocumentMetadata(ctx context.Context, documentID string, updates map[string]interface{}) (bool, error) {
	return true, nil
}

func (f *fakeStore) UpdateChunkMetadata(ctx context.Context, documentID string, chunkIndex int, updates map[string]interface{}) (bool, error) {
	return true, nil
}

func (f *fakeStore) ListFields(ctx context.Context) ([]model.MetadataField, error) {
	if f.listFieldsErr != nil {
		return nil, f.listFieldsErr
	}
	return f.fields, nil
}

func (f *fakeStore) CreateField(ctx context.Context, field model.MetadataField) (*model.MetadataField, error) {
	return &field, nil
}

func (f *fakeStore) DeleteField(ctx context.Context, fieldKey string) (bool, error) {
	return true, nil
}

type fakeCache struct {
	store    map[string][]float32
	getErr   error
	setCalls int
}

func (f *fakeCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	vector, ok := f.store[text]
	return vector, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, text string, vector []float32) error {
	f.setCalls++
	if f.store == nil {
		f.store = map[string][]float32{}
	}
	f.store[text] = vector
	return nil
}

func newTestService(processor *fakeProcessor, provider *fakeProvider, store *fakeStore, cache QueryCache) *KnowledgeService {
	return NewKnowledgeService(processor, provider, store, cache, SearchDefaults{})
}

func TestAddDocumentStampsMetadataAndIndexes(t *testing.T) {
	processor := &fakeProcessor{chunks: []document.RawChunk{
		{Content: "first chunk", Source: "/tmp/doc.txt"},
		{Content: "second chunk", Source: "/tmp/doc.txt"},
	}}
	provider := &fakeProvider{dimension: 3}
	store := &fakeStore{fields: []model.MetadataField{
		{FieldKey: "department", FieldLabel: "Department", FieldType: model.FieldTypeSelect},
		{FieldKey: "category", FieldLabel: "Category", FieldType: model.FieldTypeText},
	}}
	svc := newTestService(processor, provider, store, nil)

	id, err := svc.AddDocument(context.Background(), AddDocumentInput{
		FilePath:         "/tmp/doc.txt",
		DocumentID:       "doc-1",
		SelectedMetadata: map[string]interface{}{"department": "engineering"},
		Metadata:         map[string]interface{}{"original_filename": "doc.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)
	require.Len(t, store.upserts, 2)

	for i, row := range store.upserts {
		assert.Equal(t, "doc-1", row.DocumentID)
		assert.Equal(t, i, row.ChunkIndex)
		assert.Equal(t, "engineering", row.Metadata["department"])
		assert.Contains(t, row.Metadata, "category")
		assert.Nil(t, row.Metadata["category"], "unselected defined fields are present with null values")
		assert.Equal(t, "doc.txt", row.Metadata["original_filename"])
		assert.Equal(t, i, row.Metadata["chunk_index"])
		assert.Equal(t, "doc-1", row.Metadata["document_id"])
	}

	// Each row gets its own metadata map.
	store.upserts[0].Metadata["department"] = "mutated"
	assert.Equal(t, "engineering", store.upserts[1].Metadata["department"])

	assert.Equal(t, "doc-1", store.trimmedDoc)
	assert.Equal(t, 2, store.trimmedKeep)
}

func TestAddDocumentGeneratesID(t *testing.T) {
	processor := &fakeProcessor{chunks: []document.RawChunk{{Content: "chunk", Source: "s"}}}
	store := &fakeStore{}
	svc := newTestService(processor, &fakeProvider{dimension: 3}, store, nil)

	id, err := svc.AddDocument(context.Background(), AddDocumentInput{FilePath: "/tmp/doc.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, id, store.upserts[0].DocumentID)
}

func TestAddDocumentEmbedFailureWritesNothing(t *testing.T) {
	processor := &fakeProcessor{chunks: []document.RawChunk{
		{Content: "a", Source: "s"},
		{Content: "b", Source: "s"},
	}}
	store := &fakeStore{}
	svc := newTestService(processor, &fakeProvider{dimension: 3, failBatch: true}, store, nil)

	_, err := svc.AddDocument(context.Background(), AddDocumentInput{FilePath: "/tmp/doc.txt"})
	require.Error(t, err)
	assert.Empty(t, store.upserts, "a provider failure must abort before any write")
	assert.Empty(t, store.trimmedDoc)
}

func TestAddDocumentEmptyDocumentStoresNothing(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, store, nil)

	id, err := svc.AddDocument(context.Background(), AddDocumentInput{FilePath: "/tmp/empty.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, store.upserts)
}

func TestAddDocumentRequiresFilePath(t *testing.T) {
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, &fakeStore{}, nil)

	_, err := svc.AddDocument(context.Background(), AddDocumentInput{FilePath: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAddDocumentBatchesEmbeddings(t *testing.T) {
	chunks := make([]document.RawChunk, 23)
	for i := range chunks {
		chunks[i] = document.RawChunk{Content: "chunk", Source: "s"}
	}
	provider := &fakeProvider{dimension: 3}
	store := &fakeStore{}
	svc := newTestService(&fakeProcessor{chunks: chunks}, provider, store, nil)

	_, err := svc.AddDocument(context.Background(), AddDocumentInput{FilePath: "/tmp/doc.txt"})
	require.NoError(t, err)
	assert.Equal(t, 3, provider.batchCalls, "23 chunks at batch size 10 is 3 batches")
	assert.Len(t, store.upserts, 23)
}

func TestAddDocumentFieldListingFailureDegrades(t *testing.T) {
	processor := &fakeProcessor{chunks: []document.RawChunk{{Content: "chunk", Source: "s"}}}
	store := &fakeStore{listFieldsErr: errors.New("db down")}
	svc := newTestService(processor, &fakeProvider{dimension: 3}, store, nil)

	_, err := svc.AddDocument(context.Background(), AddDocumentInput{
		FilePath: "/tmp/doc.txt",
		Metadata: map[string]interface{}{"original_filename": "doc.txt"},
	})
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "doc.txt", store.upserts[0].Metadata["original_filename"])
}

func TestSearchAppliesDefaults(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, store, nil)

	_, err := svc.Search(context.Background(), SearchInput{Query: "how do I reset my password"})
	require.NoError(t, err)
	require.Len(t, store.searchCalls, 1)
	assert.Equal(t, 5, store.searchCalls[0].topK)
	assert.InDelta(t, 0.3, store.searchCalls[0].threshold, 1e-9)
}

func TestSearchHonorsExplicitParameters(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, store, nil)

	filter := map[string]interface{}{"department": "engineering"}
	_, err := svc.Search(context.Background(), SearchInput{
		Query:               "query",
		TopK:                12,
		SimilarityThreshold: 0.75,
		MetadataFilter:      filter,
	})
	require.NoError(t, err)
	require.Len(t, store.searchCalls, 1)
	assert.Equal(t, 12, store.searchCalls[0].topK)
	assert.InDelta(t, 0.75, store.searchCalls[0].threshold, 1e-9)
	assert.Equal(t, filter, store.searchCalls[0].filter)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, &fakeStore{}, nil)

	_, err := svc.Search(context.Background(), SearchInput{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSearchUsesQueryCache(t *testing.T) {
	provider := &fakeProvider{dimension: 3}
	cache := &fakeCache{store: map[string][]float32{"cached query": {1, 2, 3}}}
	svc := newTestService(&fakeProcessor{}, provider, &fakeStore{}, cache)

	_, err := svc.Search(context.Background(), SearchInput{Query: "cached query"})
	require.NoError(t, err)
	assert.Zero(t, provider.embedCalls, "a cache hit must skip the provider")

	_, err = svc.Search(context.Background(), SearchInput{Query: "fresh query"})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.embedCalls)
	assert.Equal(t, 1, cache.setCalls)

	// A third search of the fresh query now hits the cache.
	_, err = svc.Search(context.Background(), SearchInput{Query: "fresh query"})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.embedCalls)
}

func TestSearchCacheFailureFallsThrough(t *testing.T) {
	provider := &fakeProvider{dimension: 3}
	cache := &fakeCache{getErr: errors.New("redis down")}
	svc := newTestService(&fakeProcessor{}, provider, &fakeStore{}, cache)

	_, err := svc.Search(context.Background(), SearchInput{Query: "query"})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.embedCalls)
}

func TestCreateMetadataFieldValidation(t *testing.T) {
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, &fakeStore{}, nil)
	ctx := context.Background()

	_, err := svc.CreateMetadataField(ctx, "", "Label", model.FieldTypeText, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateMetadataField(ctx, "key", "", model.FieldTypeText, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateMetadataField(ctx, "key", "Label", "checkbox", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	field, err := svc.CreateMetadataField(ctx, "key", "Label", "", nil)
	require.NoError(t, err)
	assert.Equal(t, model.FieldTypeText, field.FieldType, "empty field type defaults to text")
}

func TestPassthroughValidation(t *testing.T) {
	svc := newTestService(&fakeProcessor{}, &fakeProvider{dimension: 3}, &fakeStore{}, nil)
	ctx := context.Background()

	_, _, err := svc.DeleteDocument(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.GetDocumentChunks(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.GetChunkMetadata(ctx, "doc", -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateDocumentMetadata(ctx, "doc", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateChunkMetadata(ctx, "doc", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.DeleteMetadataField(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
