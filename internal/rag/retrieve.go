package rag

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pketo/docchat/internal/embed"
	"github.com/pketo/docchat/internal/search"
	"github.com/pketo/docchat/internal/store"
)

// ErrNoDocuments signals that the corpus (or the requested document
// subset) holds no candidates at all. It is distinct from a ranked result
// with low scores and is not a failure of the pipeline.
var ErrNoDocuments = errors.New("no documents in the corpus")

// Retriever runs the read path: embed the question, scan the store, rank.
type Retriever struct {
	provider embed.Provider
	store    store.Store
	ranker   search.Ranker
	log      *zap.SugaredLogger
}

// NewRetriever wires the retrieval pipeline.
func NewRetriever(provider embed.Provider, st store.Store, ranker search.Ranker, log *zap.SugaredLogger) *Retriever {
	return &Retriever{provider: provider, store: st, ranker: ranker, log: log}
}

// Search embeds the question, scans the corpus (optionally filtered to one
// document name) and returns the topK most similar chunks.
func (r *Retriever) Search(ctx context.Context, question string, topK int, documentName string) ([]search.Result, error) {
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}
	topK = search.ClampTopK(topK)

	query, err := r.provider.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	candidates, err := r.store.Scan(ctx, documentName)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoDocuments
	}

	results, err := r.ranker.Rank(query, candidates, topK)
	if err != nil {
		return nil, err
	}

	r.log.Debugw("retrieval complete",
		"candidates", len(candidates),
		"results", len(results),
		"document_filter", documentName,
	)
	return results, nil
}
