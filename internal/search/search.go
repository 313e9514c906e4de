// Package search ranks stored chunks against a query vector.
package search

import (
	"fmt"
	"math"
	"sort"

	"github.com/pketo/docchat/internal/store"
)

// DefaultTopK is the number of results returned when the caller does not
// ask for a specific count. The retrieval API allows 1 through MaxTopK.
const (
	DefaultTopK = 5
	MaxTopK     = 10
)

// Result pairs a candidate chunk with its similarity score.
type Result struct {
	Chunk store.Chunk `json:"chunk"`
	Score float64     `json:"score"`
}

// Ranker orders candidates by relevance to a query vector. The brute-force
// cosine ranker below scans every candidate; an indexed nearest-neighbor
// structure can replace it behind this interface without touching the
// orchestrators.
type Ranker interface {
	Rank(query []float32, candidates []store.Chunk, topK int) ([]Result, error)
}

// CosineRanker ranks candidates by cosine similarity with a linear scan.
type CosineRanker struct{}

// NewCosineRanker returns the brute-force ranker.
func NewCosineRanker() *CosineRanker {
	return &CosineRanker{}
}

// Rank scores every candidate against the query and returns the topK best,
// descending by score. Candidates without an embedding are excluded rather
// than scored as zero. Ties keep scan order. A candidate whose vector
// length differs from the query's is a corpus precondition violation and
// fails the whole ranking.
func (r *CosineRanker) Rank(query []float32, candidates []store.Chunk, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != len(query) {
			return nil, fmt.Errorf("embedding dimension mismatch: query has %d, chunk %d of %q has %d",
				len(query), c.ChunkIndex, c.DocumentName, len(c.Embedding))
		}
		results = append(results, Result{Chunk: c, Score: Cosine(query, c.Embedding)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Cosine computes the cosine similarity dot(a,b) / (|a|*|b|). Zero-norm
// vectors score 0.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ClampTopK bounds a requested result count to the allowed API range,
// falling back to the default when the request leaves it unset.
func ClampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
