// Package chunk splits extracted document text into overlapping chunks.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput is returned when there is no text to split.
var ErrEmptyInput = errors.New("no text to chunk")

// DefaultChunkSize and DefaultChunkOverlap are used when a Splitter is
// constructed with zero values.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Splitter cuts text into chunks of at most chunkSize characters, with
// consecutive chunks sharing overlap characters. Cuts prefer a sentence
// boundary, then a word boundary, when one falls past the window midpoint.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter creates a Splitter. The overlap must be smaller than the
// chunk size or the window would never advance.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("overlap (%d) must be smaller than chunk size (%d)", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize returns the configured window size in characters.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap in characters.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into trimmed, non-empty chunks in document order.
// Chunks that are empty after trimming are dropped, so the returned
// slice positions are the final chunk indices.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []string
	start := 0
	for start < n {
		// end may run past the text; it only matters for the next start.
		end := start + s.chunkSize

		if end < n {
			window := runes[start:end]
			if cut := lastSentenceEnd(window); cut > s.chunkSize/2 {
				end = start + cut + 2
			} else if cut := lastIndexRune(window, ' '); cut > s.chunkSize/2 {
				end = start + cut
			}
		}

		stop := end
		if stop > n {
			stop = n
		}
		piece := strings.TrimSpace(string(runes[start:stop]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		// A boundary cut close to the window start can put end-overlap at
		// or before start; clamp so the window always moves forward.
		next := end - s.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// lastSentenceEnd returns the index of the '.' of the last ". " in window,
// or -1 when there is none.
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '.' && window[i+1] == ' ' {
			return i
		}
	}
	return -1
}

// lastIndexRune returns the last index of r in window, or -1.
func lastIndexRune(window []rune, r rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == r {
			return i
		}
	}
	return -1
}
