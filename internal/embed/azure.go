package embed

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAzureAPIVersion = "2024-02-01"
	defaultAzureTimeout    = 60 * time.Second
	defaultAzureMaxRetries = 3
	defaultAzureRetryDelay = 1 * time.Second
)

// AzureConfig holds configuration for the Azure OpenAI embedding provider.
// A deployment is addressed by the endpoint/version/deployment triple; the
// model name is informational only.
type AzureConfig struct {
	APIKey        string
	Endpoint      string
	APIVersion    string
	Deployment    string
	Model         string
	Dimensions    int
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// AzureProvider implements Provider against an Azure OpenAI deployment.
type AzureProvider struct {
	config AzureConfig
	client *http.Client
}

// NewAzureProvider creates a new Azure OpenAI embedding provider.
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure: endpoint is required")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure: deployment is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAzureAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Deployment
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = modelDimensions[cfg.Model]
		if cfg.Dimensions == 0 {
			cfg.Dimensions = modelDimensions[defaultOpenAIModel]
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultAzureTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultAzureMaxRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultAzureRetryDelay
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &AzureProvider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Embed generates an embedding for a single text.
func (p *AzureProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	embeddings, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, NewProviderError("azure", "embed", fmt.Errorf("no embedding returned"))
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in input order.
func (p *AzureProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= openAIMaxBatchSize {
		return p.embedWithRetry(ctx, texts)
	}

	results := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatchSize {
		end := i + openAIMaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := p.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		copy(results[i:end], embeddings)
	}
	return results, nil
}

func (p *AzureProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	if p.config.APIKey == "" {
		return nil, NewProviderError("azure", "embed", ErrNotConfigured)
	}

	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, NewProviderError("azure", "embed", ErrContextCanceled)
			case <-time.After(p.config.RetryInterval * time.Duration(1<<uint(attempt-1))):
			}
		}

		// Azure resolves the model from the deployment in the URL.
		embeddings, err := doEmbedRequest(ctx, p.client, p.buildRequest, "", texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if err == ErrContextCanceled {
			return nil, NewProviderError("azure", "embed", err)
		}
		if strings.Contains(err.Error(), "rate_limit") || strings.Contains(err.Error(), "429") {
			continue
		}
		if strings.Contains(err.Error(), "invalid_api_key") || strings.Contains(err.Error(), "401") {
			return nil, NewProviderError("azure", "embed", err)
		}
	}

	return nil, NewProviderError("azure", "embed", lastErr)
}

// buildRequest creates the HTTP request for one batch against the
// deployment-scoped embeddings endpoint.
func (p *AzureProvider) buildRequest(ctx context.Context, body []byte) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		p.config.Endpoint, url.PathEscape(p.config.Deployment), url.QueryEscape(p.config.APIVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.config.APIKey)
	return req, nil
}

// Model returns the configured model name.
func (p *AzureProvider) Model() string {
	return p.config.Model
}

// Dimensions returns the embedding vector dimensions.
func (p *AzureProvider) Dimensions() int {
	return p.config.Dimensions
}

// Configured reports whether an API key is set. The endpoint and
// deployment are validated at construction time.
func (p *AzureProvider) Configured() bool {
	return p.config.APIKey != ""
}

// Ping verifies the deployment by embedding a trivial input.
func (p *AzureProvider) Ping(ctx context.Context) error {
	if p.config.APIKey == "" {
		return NewProviderError("azure", "ping", ErrNotConfigured)
	}
	if _, err := p.Embed(ctx, "ping"); err != nil {
		return NewProviderError("azure", "ping", err)
	}
	return nil
}
