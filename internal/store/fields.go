package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agentkb/internal/model"
)

// ListFields returns every metadata field definition, ordered by label.
func (s *Store) ListFields(ctx context.Context) ([]model.MetadataField, error) {
	var fields []model.MetadataField
	err := s.db.WithContext(ctx).
		Order("field_label").
		Find(&fields).Error
	if err != nil {
		return nil, fmt.Errorf("list metadata fields failed: %w", err)
	}
	return fields, nil
}

// CreateField upserts the definition keyed by field_key, then
// retrofits the key (as JSON null) into every chunk that does not
// already carry it. The retrofit is a chunk-wide write running in the
// same transaction as the definition; searches running concurrently
// may observe pre-migration rows until it commits.
func (s *Store) CreateField(ctx context.Context, field model.MetadataField) (*model.MetadataField, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "field_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"field_label", "field_type", "field_options", "updated_at"}),
		}).Create(&field).Error; err != nil {
			return fmt.Errorf("upsert metadata field %q failed: %w", field.FieldKey, err)
		}

		if err := tx.Exec(
			`UPDATE document_chunks
			 SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object(?::text, NULL::jsonb)
			 WHERE metadata IS NULL OR metadata->>? IS NULL`,
			field.FieldKey, field.FieldKey,
		).Error; err != nil {
			return fmt.Errorf("retrofit metadata field %q failed: %w", field.FieldKey, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Re-read: on conflict-update the insert does not report the row's
	// id or original created_at.
	var stored model.MetadataField
	if err := s.db.WithContext(ctx).
		Where("field_key = ?", field.FieldKey).
		First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load metadata field %q failed: %w", field.FieldKey, err)
	}
	return &stored, nil
}

// DeleteField strips the key from every chunk's metadata and deletes
// the definition. False when the key was not defined.
func (s *Store) DeleteField(ctx context.Context, fieldKey string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE document_chunks
			 SET metadata = metadata - ?::text
			 WHERE jsonb_exists(metadata, ?)`,
			fieldKey, fieldKey,
		).Error; err != nil {
			return fmt.Errorf("strip metadata field %q failed: %w", fieldKey, err)
		}

		res := tx.Where("field_key = ?", fieldKey).Delete(&model.MetadataField{})
		if res.Error != nil {
			return fmt.Errorf("delete metadata field %q failed: %w", fieldKey, res.Error)
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
