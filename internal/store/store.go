package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrConnectivity marks failures reaching the backing database.
	ErrConnectivity = errors.New("vector store unreachable")
	// ErrVectorExtension marks a database without the pgvector
	// extension, which needs operator action rather than a retry.
	ErrVectorExtension = errors.New("pgvector extension unavailable")
)

// Store owns the persistent schema (chunks, metadata field definitions)
// and executes similarity search and lifecycle operations against it.
// Every operation runs on its own scoped session; nothing is held
// across calls.
type Store struct {
	db *gorm.DB
}

// New verifies connectivity, ensures the pgvector extension, and
// creates the tables and indexes if missing. Failures are categorized:
// connectivity, missing extension, or generic bootstrap failure.
func New(ctx context.Context, db *gorm.DB, dimension int) (*Store, error) {
	if dimension <= 0 {
		dimension = 1536
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		if isMissingVectorExtension(err) {
			return nil, fmt.Errorf("%w: %v", ErrVectorExtension, err)
		}
		return nil, fmt.Errorf("ensure vector extension failed: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id SERIAL PRIMARY KEY,
			document_id VARCHAR(255) NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB,
			source VARCHAR(500),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(document_id, chunk_index)
		)`, dimension),
		`CREATE TABLE IF NOT EXISTS rag_metadata_fields (
			id SERIAL PRIMARY KEY,
			field_key VARCHAR(255) NOT NULL UNIQUE,
			field_label VARCHAR(255) NOT NULL,
			field_type VARCHAR(50) NOT NULL DEFAULT 'text',
			field_options JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS document_chunks_embedding_idx
			ON document_chunks
			USING hnsw (embedding vector_cosine_ops)
			WITH (m = 16, ef_construction = 64)`,
		`CREATE INDEX IF NOT EXISTS document_chunks_document_id_idx
			ON document_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS rag_metadata_fields_key_idx
			ON rag_metadata_fields(field_key)`,
	}
	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("bootstrap schema failed: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// isMissingVectorExtension reports whether the error means pgvector is
// not installed on the server (SQLSTATE 58P01, the extension control
// file is absent). Permission or connectivity failures during CREATE
// EXTENSION are not the operator's missing-extension case and stay
// generic.
func isMissingVectorExtension(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "58P01"
	}
	return strings.Contains(err.Error(), "extension control file")
}
