// Package store persists document chunks and their embedding vectors.
package store

import (
	"context"
	"fmt"
	"time"
)

// Chunk is one persisted row: a bounded substring of a document together
// with its embedding vector and the metadata of the ingestion that
// produced it.
type Chunk struct {
	ID           int64          `json:"id,omitempty"`
	DocumentName string         `json:"document_name"`
	ChunkIndex   int            `json:"chunk_index"`
	Text         string         `json:"chunk_text"`
	Embedding    []float32      `json:"embedding,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
}

// DocumentInfo summarizes the stored chunks of one document.
type DocumentInfo struct {
	Name        string    `json:"document_name"`
	ChunkCount  int       `json:"chunk_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Error wraps a persistence failure. Any operation that fails mid-write
// rolls back, so a failed ingest never leaves a partial chunk set.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Store is the persistence capability consumed by the ingestion and
// retrieval pipelines.
type Store interface {
	// PutBatch inserts all chunks in one transaction.
	PutBatch(ctx context.Context, chunks []Chunk) error

	// ReplaceDocument atomically deletes every chunk of the named document
	// and inserts the given chunks. Old chunks survive if the insert fails.
	ReplaceDocument(ctx context.Context, name string, chunks []Chunk) error

	// DeleteByDocument removes every chunk of the named document and
	// returns how many rows were deleted.
	DeleteByDocument(ctx context.Context, name string) (int64, error)

	// Clear removes every chunk and returns how many rows were deleted.
	Clear(ctx context.Context) (int64, error)

	// Scan returns stored chunks ordered by document name and chunk index.
	// An empty name returns the whole corpus.
	Scan(ctx context.Context, name string) ([]Chunk, error)

	// ListDocuments returns one entry per stored document.
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)

	// Ping checks that the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}
