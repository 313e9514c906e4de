// Package embed produces embedding vectors via a pluggable provider.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/pketo/docchat/internal/config"
)

// Common errors for embedding providers.
var (
	ErrEmptyText       = errors.New("cannot embed empty text")
	ErrContextCanceled = errors.New("embedding operation canceled")
	ErrNotConfigured   = errors.New("embedding provider not configured")
)

// Provider is the capability every embedding backend implements. Callers
// depend only on this interface, never on a concrete backend.
type Provider interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model in use.
	Model() string

	// Dimensions returns the dimensionality of the produced vectors.
	Dimensions() int

	// Configured reports whether the provider has the credentials it
	// needs; it never touches the network.
	Configured() bool

	// Ping checks that the provider is reachable and authorized.
	Ping(ctx context.Context) error
}

// ProviderError wraps a provider call failure with its origin. Provider
// failures are retryable by the caller; the ingestion pipeline never
// persists partial results from a failed batch.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// New selects a provider implementation from configuration.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BaseURL:    cfg.BaseURL,
		}), nil
	case "azure":
		return NewAzureProvider(AzureConfig{
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.AzureEndpoint,
			APIVersion: cfg.AzureAPIVersion,
			Deployment: cfg.AzureDeployment,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
