package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Chunk is the atomic stored unit: a bounded slice of a document's text
// with its embedding and metadata. (document_id, chunk_index) is unique;
// re-ingesting the same pair overwrites content, embedding and metadata.
type Chunk struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	DocumentID string          `gorm:"size:255;not null;index" json:"document_id"`
	ChunkIndex int             `gorm:"not null" json:"chunk_index"`
	Content    string          `gorm:"type:text;not null" json:"content"`
	Embedding  pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	Metadata   JSONMap         `gorm:"type:jsonb" json:"metadata"`
	Source     string          `gorm:"size:500" json:"source"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (Chunk) TableName() string {
	return "document_chunks"
}
