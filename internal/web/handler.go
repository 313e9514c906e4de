package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pketo/docchat/internal/chunk"
	"github.com/pketo/docchat/internal/embed"
	"github.com/pketo/docchat/internal/extract"
	"github.com/pketo/docchat/internal/rag"
	"github.com/pketo/docchat/internal/search"
	"github.com/pketo/docchat/internal/store"
)

// maxUploadSize bounds multipart document uploads.
const maxUploadSize = 32 << 20 // 32 MiB

// Handler holds the pipeline pieces the HTTP endpoints drive.
type Handler struct {
	ingestor  *rag.Ingestor
	retriever *rag.Retriever
	answerer  rag.Answerer
	store     store.Store
	provider  embed.Provider
	chatModel string
	log       *zap.SugaredLogger
}

// NewHandler creates a Handler.
func NewHandler(ingestor *rag.Ingestor, retriever *rag.Retriever, answerer rag.Answerer,
	st store.Store, provider embed.Provider, chatModel string, log *zap.SugaredLogger) *Handler {
	return &Handler{
		ingestor:  ingestor,
		retriever: retriever,
		answerer:  answerer,
		store:     st,
		provider:  provider,
		chatModel: chatModel,
		log:       log,
	}
}

// IngestResponse is the reply to a document upload.
type IngestResponse struct {
	Success       bool         `json:"success"`
	DocumentName  string       `json:"document_name"`
	ChunksCreated int          `json:"chunks_created"`
	Metadata      rag.Metadata `json:"metadata"`
	Message       string       `json:"message"`
}

// Ingest handles multipart document uploads.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.jsonError(w, "invalid multipart upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.jsonError(w, "missing form field 'file'", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		h.jsonError(w, "read upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadSize {
		h.jsonError(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), data, header.Filename)
	if err != nil {
		h.pipelineError(w, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, IngestResponse{
		Success:       true,
		DocumentName:  result.DocumentName,
		ChunksCreated: result.ChunksCreated,
		Metadata:      result.Metadata,
		Message:       fmt.Sprintf("Successfully processed %s into %d chunks", result.DocumentName, result.ChunksCreated),
	})
}

// DeleteResponse is the reply to a document deletion.
type DeleteResponse struct {
	Success       bool   `json:"success"`
	DocumentName  string `json:"document_name"`
	ChunksDeleted int64  `json:"chunks_deleted"`
	Message       string `json:"message"`
}

// DeleteDocument removes all chunks of one document.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "document")
	deleted, err := h.ingestor.Delete(r.Context(), name)
	if err != nil {
		h.pipelineError(w, err)
		return
	}
	if deleted == 0 {
		h.jsonError(w, fmt.Sprintf("document %q not found", name), http.StatusNotFound)
		return
	}
	h.jsonResponse(w, http.StatusOK, DeleteResponse{
		Success:       true,
		DocumentName:  name,
		ChunksDeleted: deleted,
		Message:       fmt.Sprintf("Successfully deleted %d chunks", deleted),
	})
}

// ListDocuments returns a summary of every stored document.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		h.pipelineError(w, err)
		return
	}
	if docs == nil {
		docs = []store.DocumentInfo{}
	}
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

// ChatRequest asks a question over the corpus.
type ChatRequest struct {
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	DocumentName string `json:"document_name,omitempty"`
}

// SourceChunk is one retrieved chunk cited by an answer.
type SourceChunk struct {
	ChunkText       string  `json:"chunk_text"`
	DocumentName    string  `json:"document_name"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float64 `json:"similarity_score"`
}

// ChatResponse carries the generated answer and its sources.
type ChatResponse struct {
	Answer  string        `json:"answer"`
	Sources []SourceChunk `json:"sources"`
	Model   string        `json:"model"`
}

// Chat answers a question with retrieval-augmented generation.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		h.jsonError(w, "question must not be empty", http.StatusBadRequest)
		return
	}
	if req.TopK < 0 || req.TopK > search.MaxTopK {
		h.jsonError(w, fmt.Sprintf("top_k must be between 1 and %d", search.MaxTopK), http.StatusBadRequest)
		return
	}

	results, err := h.retriever.Search(r.Context(), req.Question, req.TopK, req.DocumentName)
	if err != nil {
		h.pipelineError(w, err)
		return
	}

	answer, err := h.answerer.Answer(r.Context(), req.Question, results)
	if err != nil {
		h.jsonError(w, "failed to generate answer: "+err.Error(), http.StatusBadGateway)
		return
	}

	sources := make([]SourceChunk, len(results))
	for i, res := range results {
		text := res.Chunk.Text
		if runes := []rune(text); len(runes) > 200 {
			text = string(runes[:200]) + "..."
		}
		sources[i] = SourceChunk{
			ChunkText:       text,
			DocumentName:    res.Chunk.DocumentName,
			ChunkIndex:      res.Chunk.ChunkIndex,
			SimilarityScore: math.Round(res.Score*10000) / 10000,
		}
	}

	h.jsonResponse(w, http.StatusOK, ChatResponse{
		Answer:  answer,
		Sources: sources,
		Model:   h.chatModel,
	})
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	DatabaseConnected  bool      `json:"database_connected"`
	ProviderConfigured bool      `json:"provider_configured"`
}

// Health checks database reachability and provider configuration.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dbOK := h.store.Ping(r.Context()) == nil

	status := "ok"
	if !dbOK {
		status = "degraded"
	}
	h.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:             status,
		Timestamp:          time.Now().UTC(),
		DatabaseConnected:  dbOK,
		ProviderConfigured: h.provider.Configured(),
	})
}

// pipelineError maps the pipeline error taxonomy to HTTP status codes.
func (h *Handler) pipelineError(w http.ResponseWriter, err error) {
	var (
		extractErr  *extract.Error
		providerErr *embed.ProviderError
		storeErr    *store.Error
	)
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, chunk.ErrEmptyInput),
		errors.As(err, &extractErr):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, rag.ErrNoDocuments):
		h.jsonError(w, "No relevant documents found. Please upload documents first.", http.StatusNotFound)
	case errors.As(err, &providerErr):
		h.jsonError(w, err.Error(), http.StatusBadGateway)
	case errors.As(err, &storeErr):
		h.log.Errorw("store failure", "error", err)
		h.jsonError(w, "storage failure", http.StatusInternalServerError)
	default:
		h.log.Errorw("unexpected failure", "error", err)
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": message})
}
