package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pketo/docchat/internal/config"
)

func TestNewAzureProvider_RequiresEndpointAndDeployment(t *testing.T) {
	if _, err := NewAzureProvider(AzureConfig{Deployment: "embed"}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := NewAzureProvider(AzureConfig{Endpoint: "https://example.openai.azure.com"}); err == nil {
		t.Error("expected error without deployment")
	}
}

func TestNewAzureProvider_Defaults(t *testing.T) {
	provider, err := NewAzureProvider(AzureConfig{
		APIKey:     "test-key",
		Endpoint:   "https://example.openai.azure.com/",
		Deployment: "text-embedding-3-small",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.config.APIVersion != defaultAzureAPIVersion {
		t.Errorf("expected API version %s, got %s", defaultAzureAPIVersion, provider.config.APIVersion)
	}
	// Model falls back to the deployment name
	if provider.Model() != "text-embedding-3-small" {
		t.Errorf("expected model from deployment, got %s", provider.Model())
	}
	if provider.Dimensions() != 1536 {
		t.Errorf("expected 1536 dimensions, got %d", provider.Dimensions())
	}
	if strings.HasSuffix(provider.config.Endpoint, "/") {
		t.Errorf("expected trailing slash trimmed, got %s", provider.config.Endpoint)
	}
	if !provider.Configured() {
		t.Error("expected Configured() true with an API key")
	}
}

func TestAzureProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/openai/deployments/my-deployment/embeddings"
		if r.URL.Path != wantPath {
			t.Errorf("expected path %s, got %s", wantPath, r.URL.Path)
		}
		if v := r.URL.Query().Get("api-version"); v != "2024-02-01" {
			t.Errorf("expected api-version 2024-02-01, got %s", v)
		}
		if key := r.Header.Get("api-key"); key != "test-key" {
			t.Errorf("expected api-key header, got %q", key)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("expected no Authorization header, got %q", auth)
		}

		// The deployment is in the URL; the body must not carry a model
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["model"]; ok {
			t.Error("expected model omitted from request body")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mockResponse{
			Object: "list",
			Data:   []responseEntry{{Object: "embedding", Index: 0, Embedding: mockVector(1536, 0.2)}},
		})
	}))
	defer server.Close()

	provider, err := NewAzureProvider(AzureConfig{
		APIKey:     "test-key",
		Endpoint:   server.URL,
		Deployment: "my-deployment",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	embedding, err := provider.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(embedding) != 1536 {
		t.Errorf("expected 1536 dimensions, got %d", len(embedding))
	}
}

func TestAzureProvider_EmbedEmpty(t *testing.T) {
	provider, _ := NewAzureProvider(AzureConfig{
		APIKey:     "test-key",
		Endpoint:   "https://example.openai.azure.com",
		Deployment: "embed",
	})

	if _, err := provider.Embed(context.Background(), ""); err != ErrEmptyText {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestAzureProvider_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&raw)

		resp := mockResponse{Object: "list"}
		for i := range raw.Input {
			resp.Data = append(resp.Data, responseEntry{
				Object:    "embedding",
				Index:     i,
				Embedding: mockVector(4, float64(i)),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewAzureProvider(AzureConfig{
		APIKey:     "test-key",
		Endpoint:   server.URL,
		Deployment: "embed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	embeddings, err := provider.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(embeddings))
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	p, err := New(config.EmbeddingConfig{Provider: "openai", APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*OpenAIProvider); !ok {
		t.Errorf("expected *OpenAIProvider, got %T", p)
	}

	p, err = New(config.EmbeddingConfig{
		Provider:        "azure",
		APIKey:          "test-key",
		AzureEndpoint:   "https://example.openai.azure.com",
		AzureDeployment: "embed",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*AzureProvider); !ok {
		t.Errorf("expected *AzureProvider, got %T", p)
	}

	if _, err := New(config.EmbeddingConfig{Provider: "cohere"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
