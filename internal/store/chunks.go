package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agentkb/internal/model"
)

const chunkPreviewRunes = 200

// UpsertChunk inserts the row or, when (document_id, chunk_index)
// already exists, overwrites content, embedding and metadata. Two
// concurrent writers of the same pair race last-write-wins; no row
// locking is taken.
func (s *Store) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "embedding", "metadata"}),
	}).Create(chunk).Error
	if err != nil {
		return fmt.Errorf("upsert chunk %s:%d failed: %w", chunk.DocumentID, chunk.ChunkIndex, err)
	}
	return nil
}

// TrimChunks removes rows at or beyond keep, so a re-ingested document
// that shrank does not keep stale tail chunks around.
func (s *Store) TrimChunks(ctx context.Context, documentID string, keep int) error {
	err := s.db.WithContext(ctx).
		Where("document_id = ? AND chunk_index >= ?", documentID, keep).
		Delete(&model.Chunk{}).Error
	if err != nil {
		return fmt.Errorf("trim chunks for %s failed: %w", documentID, err)
	}
	return nil
}

// Search returns up to topK rows whose cosine similarity to the query
// embedding meets threshold and whose metadata string-matches every
// non-nil filter entry. Rows come back in non-increasing similarity
// order; equal similarities break ties by document_id, chunk_index. An
// empty result is not an error.
func (s *Store) Search(
	ctx context.Context,
	queryEmbedding []float32,
	topK int,
	threshold float64,
	metadataFilter map[string]interface{},
) ([]model.SearchResult, error) {
	vec := pgvector.NewVector(queryEmbedding)

	query := s.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Select("content, metadata, source, document_id, 1 - (embedding <=> ?) AS similarity", vec).
		Where("1 - (embedding <=> ?) >= ?", vec, threshold)

	for key, value := range metadataFilter {
		if value == nil {
			continue
		}
		query = query.Where("metadata->>? = ?", key, fmt.Sprint(value))
	}

	// Order() only accepts strings and OrderBy clauses; the distance
	// expression has to go in as an explicit OrderBy clause or it is
	// dropped from the generated SQL.
	var results []model.SearchResult
	err := query.
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "embedding <=> ?, document_id, chunk_index",
			Vars:               []interface{}{vec},
			WithoutParentheses: true,
		}}).
		Limit(topK).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return results, nil
}

// ListDocuments aggregates chunks by document_id. A document with zero
// chunks does not appear.
func (s *Store) ListDocuments(ctx context.Context) ([]model.DocumentSummary, error) {
	var documents []model.DocumentSummary
	err := s.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Select(`document_id,
			COUNT(*) AS chunk_count,
			MIN(created_at) AS created_at,
			MAX(created_at) AS updated_at,
			COALESCE(MAX(source), '') AS source,
			COALESCE(MAX(metadata->>'original_filename'), '') AS filename`).
		Group("document_id").
		Order("created_at DESC").
		Scan(&documents).Error
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return documents, nil
}

// DeleteDocument removes every chunk of the document. Returns false and
// zero when the id had no chunks; that is not an error.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (bool, int64, error) {
	res := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&model.Chunk{})
	if res.Error != nil {
		return false, 0, fmt.Errorf("delete document %s failed: %w", documentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, 0, nil
	}
	return true, res.RowsAffected, nil
}

// GetDocumentChunks lists a document's chunks in index order, with
// content both as a short preview and in full.
func (s *Store) GetDocumentChunks(ctx context.Context, documentID string) ([]model.ChunkView, error) {
	var chunks []model.Chunk
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s failed: %w", documentID, err)
	}

	views := make([]model.ChunkView, len(chunks))
	for i, chunk := range chunks {
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = model.JSONMap{}
		}
		views[i] = model.ChunkView{
			ChunkIndex:  chunk.ChunkIndex,
			Content:     previewContent(chunk.Content),
			ContentFull: chunk.Content,
			Metadata:    metadata,
			Source:      chunk.Source,
			CreatedAt:   chunk.CreatedAt,
		}
	}
	return views, nil
}

// GetChunkMetadata returns the chunk's metadata map, or nil when the
// chunk does not exist.
func (s *Store) GetChunkMetadata(ctx context.Context, documentID string, chunkIndex int) (model.JSONMap, error) {
	var chunk model.Chunk
	err := s.db.WithContext(ctx).
		Select("metadata").
		Where("document_id = ? AND chunk_index = ?", documentID, chunkIndex).
		First(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk metadata %s:%d failed: %w", documentID, chunkIndex, err)
	}
	return chunk.Metadata, nil
}

// UpdateDocumentMetadata merge-overlays updates onto the metadata of
// every chunk of the document. Keys outside the defined schema are
// stored as-is. False when the document has no chunks.
func (s *Store) UpdateDocumentMetadata(ctx context.Context, documentID string, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Where("document_id = ?", documentID).
		Update("metadata", gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?", model.JSONMap(updates)))
	if res.Error != nil {
		return false, fmt.Errorf("update document metadata %s failed: %w", documentID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateChunkMetadata merge-overlays updates onto one chunk's metadata.
// False when the chunk does not exist.
func (s *Store) UpdateChunkMetadata(ctx context.Context, documentID string, chunkIndex int, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Where("document_id = ? AND chunk_index = ?", documentID, chunkIndex).
		Update("metadata", gorm.Expr("COALESCE(metadata, '{}'::jsonb) || ?", model.JSONMap(updates)))
	if res.Error != nil {
		return false, fmt.Errorf("update chunk metadata %s:%d failed: %w", documentID, chunkIndex, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func previewContent(content string) string {
	if utf8.RuneCountInString(content) <= chunkPreviewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:chunkPreviewRunes]) + "..."
}
