// Package rag composes extraction, chunking, embedding, storage and
// ranking into the ingestion and retrieval pipelines.
package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pketo/docchat/internal/chunk"
	"github.com/pketo/docchat/internal/embed"
	"github.com/pketo/docchat/internal/extract"
	"github.com/pketo/docchat/internal/store"
)

// Metadata describes one ingestion. It is attached identically to every
// chunk the ingestion produces.
type Metadata struct {
	Filename        string `json:"filename"`
	FileType        string `json:"file_type"`
	ChunkSize       int    `json:"chunk_size"`
	ChunkOverlap    int    `json:"chunk_overlap"`
	TotalChunks     int    `json:"total_chunks"`
	TotalCharacters int    `json:"total_characters"`
	IngestionID     string `json:"ingestion_id"`
}

// IngestResult reports a completed ingestion.
type IngestResult struct {
	DocumentName  string   `json:"document_name"`
	ChunksCreated int      `json:"chunks_created"`
	Metadata      Metadata `json:"metadata"`
}

// Ingestor runs the write path: extract, chunk, embed, replace. Failure at
// any step aborts the whole operation; the store replace is transactional,
// so prior chunks survive any failure upstream of the commit.
type Ingestor struct {
	splitter *chunk.Splitter
	provider embed.Provider
	store    store.Store
	log      *zap.SugaredLogger

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewIngestor wires the ingestion pipeline.
func NewIngestor(splitter *chunk.Splitter, provider embed.Provider, st store.Store, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{
		splitter: splitter,
		provider: provider,
		store:    st,
		log:      log,
		docLocks: make(map[string]*sync.Mutex),
	}
}

// lockDocument serializes ingests of the same document name. Ingests of
// different documents proceed concurrently.
func (ing *Ingestor) lockDocument(name string) *sync.Mutex {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	l, ok := ing.docLocks[name]
	if !ok {
		l = &sync.Mutex{}
		ing.docLocks[name] = l
	}
	return l
}

// Ingest converts an uploaded document into stored chunk/vector rows,
// replacing any previous generation of the same document name.
func (ing *Ingestor) Ingest(ctx context.Context, data []byte, filename string) (*IngestResult, error) {
	text, format, err := extract.Extract(data, filename)
	if err != nil {
		return nil, err
	}

	pieces, err := ing.splitter.Split(text)
	if err != nil {
		return nil, err
	}

	embeddings, err := ing.provider.EmbedBatch(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks of %q: %w", len(pieces), filename, err)
	}
	if len(embeddings) != len(pieces) {
		return nil, embed.NewProviderError(ing.provider.Model(), "embedBatch",
			fmt.Errorf("got %d vectors for %d chunks", len(embeddings), len(pieces)))
	}

	meta := Metadata{
		Filename:        filename,
		FileType:        string(format),
		ChunkSize:       ing.splitter.ChunkSize(),
		ChunkOverlap:    ing.splitter.Overlap(),
		TotalChunks:     len(pieces),
		TotalCharacters: len(text),
		IngestionID:     uuid.NewString(),
	}
	metaMap := map[string]any{
		"filename":         meta.Filename,
		"file_type":        meta.FileType,
		"chunk_size":       meta.ChunkSize,
		"chunk_overlap":    meta.ChunkOverlap,
		"total_chunks":     meta.TotalChunks,
		"total_characters": meta.TotalCharacters,
		"ingestion_id":     meta.IngestionID,
	}

	rows := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		rows[i] = store.Chunk{
			DocumentName: filename,
			ChunkIndex:   i,
			Text:         piece,
			Embedding:    embeddings[i],
			Metadata:     metaMap,
		}
	}

	lock := ing.lockDocument(filename)
	lock.Lock()
	defer lock.Unlock()

	if err := ing.store.ReplaceDocument(ctx, filename, rows); err != nil {
		return nil, err
	}

	ing.log.Infow("document ingested",
		"document", filename,
		"format", format,
		"chunks", len(pieces),
		"characters", meta.TotalCharacters,
	)

	return &IngestResult{
		DocumentName:  filename,
		ChunksCreated: len(pieces),
		Metadata:      meta,
	}, nil
}

// Delete removes every chunk of the named document and returns the count.
func (ing *Ingestor) Delete(ctx context.Context, name string) (int64, error) {
	lock := ing.lockDocument(name)
	lock.Lock()
	defer lock.Unlock()

	n, err := ing.store.DeleteByDocument(ctx, name)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ing.log.Infow("document deleted", "document", name, "chunks", n)
	}
	return n, nil
}
