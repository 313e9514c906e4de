package config

import (
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8001 {
		t.Errorf("expected port 8001, got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("expected openai provider, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected text-embedding-3-small, got %s", cfg.Embedding.Model)
	}
	if cfg.Chunking.ChunkSize != 1000 || cfg.Chunking.ChunkOverlap != 200 {
		t.Errorf("expected 1000/200 chunking, got %d/%d", cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("expected top_k 5, got %d", cfg.Retrieval.TopK)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"overlap equals chunk size", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }, true},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, true},
		{"azure without endpoint", func(c *Config) { c.Embedding.Provider = "azure" }, true},
		{"azure with endpoint", func(c *Config) {
			c.Embedding.Provider = "azure"
			c.Embedding.AzureEndpoint = "https://example.openai.azure.com"
		}, false},
		{"top_k zero", func(c *Config) { c.Retrieval.TopK = 0 }, true},
		{"top_k too large", func(c *Config) { c.Retrieval.TopK = 11 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
