package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pketo/docchat/internal/chunk"
	"github.com/pketo/docchat/internal/logger"
	"github.com/pketo/docchat/internal/search"
	"github.com/pketo/docchat/internal/store"
)

// fakeProvider returns deterministic vectors derived from text length.
// Setting fail makes every call error, as a provider outage would.
type fakeProvider struct {
	dims  int
	fail  bool
	calls int
}

func (f *fakeProvider) vector(text string) []float32 {
	v := make([]float32, f.dims)
	v[0] = 1
	v[1] = float32(len(text) % 7)
	return v
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	return f.vector(text), nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeProvider) Model() string                  { return "fake-model" }
func (f *fakeProvider) Dimensions() int                { return f.dims }
func (f *fakeProvider) Configured() bool               { return true }
func (f *fakeProvider) Ping(ctx context.Context) error { return nil }

func newTestIngestor(t *testing.T, provider *fakeProvider) (*Ingestor, *store.SQLite) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	splitter, err := chunk.NewSplitter(100, 20)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	return NewIngestor(splitter, provider, st, logger.Nop()), st
}

func TestIngest(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	text := strings.Repeat("sentence one. sentence two. ", 20)
	result, err := ing.Ingest(ctx, []byte(text), "notes.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.DocumentName != "notes.md" {
		t.Errorf("expected document notes.md, got %s", result.DocumentName)
	}
	if result.ChunksCreated < 2 {
		t.Errorf("expected multiple chunks, got %d", result.ChunksCreated)
	}
	if result.Metadata.IngestionID == "" {
		t.Error("expected an ingestion id")
	}
	if result.Metadata.FileType != "Markdown" {
		t.Errorf("expected file type Markdown, got %s", result.Metadata.FileType)
	}

	chunks, err := st.Scan(ctx, "notes.md")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(chunks) != result.ChunksCreated {
		t.Fatalf("expected %d stored chunks, got %d", result.ChunksCreated, len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d: expected contiguous index %d, got %d", i, i, c.ChunkIndex)
		}
		if len(c.Embedding) != 4 {
			t.Errorf("chunk %d: expected 4-dim embedding, got %d", i, len(c.Embedding))
		}
		if c.Metadata["ingestion_id"] != result.Metadata.IngestionID {
			t.Errorf("chunk %d: metadata ingestion_id mismatch", i)
		}
	}
}

func TestIngest_ReplacesPreviousGeneration(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	long := strings.Repeat("old content. ", 50)
	if _, err := ing.Ingest(ctx, []byte(long), "doc.md"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	before, _ := st.Scan(ctx, "doc.md")

	result, err := ing.Ingest(ctx, []byte("new short content"), "doc.md")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	after, err := st.Scan(ctx, "doc.md")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(after) != result.ChunksCreated {
		t.Errorf("expected %d chunks after replace, got %d", result.ChunksCreated, len(after))
	}
	if len(after) >= len(before) {
		t.Errorf("expected shorter replacement, got %d >= %d", len(after), len(before))
	}
	if after[0].Text != "new short content" {
		t.Errorf("expected new text, got %q", after[0].Text)
	}
}

func TestIngest_ProviderFailureKeepsOldChunks(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, []byte("original content"), "doc.md"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	provider.fail = true
	if _, err := ing.Ingest(ctx, []byte("replacement content"), "doc.md"); err == nil {
		t.Fatal("expected error from failing provider")
	}

	chunks, err := st.Scan(ctx, "doc.md")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "original content" {
		t.Errorf("expected original chunks preserved, got %v", chunks)
	}
}

func TestIngest_UnsupportedFormatWritesNothing(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, []byte("data"), "image.png"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if provider.calls != 0 {
		t.Errorf("expected no provider calls, got %d", provider.calls)
	}

	chunks, err := st.Scan(ctx, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected empty store, got %d chunks", len(chunks))
	}
}

func TestIngest_EmptyDocument(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, _ := newTestIngestor(t, provider)

	_, err := ing.Ingest(context.Background(), []byte("   \n"), "empty.md")
	if !errors.Is(err, chunk.ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, _ := newTestIngestor(t, provider)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, []byte("some content"), "doc.md"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	n, err := ing.Delete(ctx, "doc.md")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted chunk, got %d", n)
	}

	n, err = ing.Delete(ctx, "doc.md")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on second delete, got %d", n)
	}
}

func TestRetriever_Search(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, []byte("alpha beta gamma"), "a.md"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := ing.Ingest(ctx, []byte("delta epsilon"), "b.md"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	r := NewRetriever(provider, st, search.NewCosineRanker(), logger.Nop())
	results, err := r.Search(ctx, "a question", 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not descending at position %d", i)
		}
	}
}

func TestRetriever_DocumentFilter(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, []byte("alpha"), "a.md"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := ing.Ingest(ctx, []byte("beta"), "b.md"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	r := NewRetriever(provider, st, search.NewCosineRanker(), logger.Nop())
	results, err := r.Search(ctx, "a question", 5, "a.md")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.DocumentName != "a.md" {
		t.Errorf("expected only a.md results, got %v", results)
	}

	// Filtering to an unknown document behaves like an empty corpus
	if _, err := r.Search(ctx, "a question", 5, "missing.md"); !errors.Is(err, ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestRetriever_EmptyCorpus(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	_, st := newTestIngestor(t, provider)

	r := NewRetriever(provider, st, search.NewCosineRanker(), logger.Nop())
	_, err := r.Search(context.Background(), "anything there?", 5, "")
	if !errors.Is(err, ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestRetriever_EmptyQuestion(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	_, st := newTestIngestor(t, provider)

	r := NewRetriever(provider, st, search.NewCosineRanker(), logger.Nop())
	if _, err := r.Search(context.Background(), "", 5, ""); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestBuildContext(t *testing.T) {
	results := []search.Result{
		{Chunk: store.Chunk{DocumentName: "a.md", Text: "first chunk"}, Score: 0.91234},
		{Chunk: store.Chunk{DocumentName: "b.md", Text: "second chunk"}, Score: 0.5},
	}

	got := BuildContext(results)
	want := "[Source 1 - a.md (Relevance: 0.91)]:\nfirst chunk\n\n" +
		"[Source 2 - b.md (Relevance: 0.50)]:\nsecond chunk"
	if got != want {
		t.Errorf("BuildContext mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildContext_Empty(t *testing.T) {
	if got := BuildContext(nil); got != "No relevant context found." {
		t.Errorf("expected placeholder for empty results, got %q", got)
	}
}

func TestIngest_ConcurrentSameDocument(t *testing.T) {
	provider := &fakeProvider{dims: 4}
	ing, st := newTestIngestor(t, provider)
	ctx := context.Background()

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			text := fmt.Sprintf("generation %d content body", i)
			_, err := ing.Ingest(ctx, []byte(text), "doc.md")
			done <- err
		}(i)
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Ingest: %v", err)
		}
	}

	// Exactly one generation survives, with contiguous indices
	chunks, err := st.Scan(ctx, "doc.md")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single surviving chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "generation ") {
		t.Errorf("unexpected surviving text: %q", chunks[0].Text)
	}
}
