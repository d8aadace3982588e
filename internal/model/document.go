package model

import "time"

// DocumentSummary is an aggregate over the chunks sharing a
// document_id. Documents have no row of their own; one with zero chunks
// does not exist.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	ChunkCount int64     `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Source     string    `json:"source"`
	Filename   string    `json:"filename"`
}

// ChunkView is the read shape for a stored chunk: content both as a
// short preview and in full.
type ChunkView struct {
	ChunkIndex  int       `json:"chunk_index"`
	Content     string    `json:"content"`
	ContentFull string    `json:"content_full"`
	Metadata    JSONMap   `json:"metadata"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchResult is one ranked row from a similarity search.
type SearchResult struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
	Metadata   JSONMap `json:"metadata"`
}

// IngestJob is the payload of an asynchronous add-document request
// carried over the ingest queue.
type IngestJob struct {
	FilePath         string                 `json:"file_path"`
	DocumentID       string                 `json:"document_id,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	SelectedMetadata map[string]interface{} `json:"selected_metadata,omitempty"`
}
