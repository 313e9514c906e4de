// Package config loads the service configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultDBFile is the default SQLite database filename.
	DefaultDBFile = "docchat.db"
)

// Config holds the full application configuration.
type Config struct {
	// LogMode selects the logger preset: "dev" or "prod".
	LogMode string `mapstructure:"log_mode"`
	// DBPath is the path to the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	Server    ServerConfig    `mapstructure:"server"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowedOrigins is the CORS allowlist for browser frontends.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: "openai" or "azure".
	Provider string `mapstructure:"provider"`
	// Model is the embedding model name.
	Model string `mapstructure:"model"`
	// Dimensions is the embedding vector dimensionality.
	Dimensions int `mapstructure:"dimensions"`
	// APIKey authenticates against the provider (OPENAI_API_KEY also works).
	APIKey string `mapstructure:"api_key"`
	// BaseURL overrides the OpenAI API base URL.
	BaseURL string `mapstructure:"base_url"`

	// Azure settings, used when Provider is "azure".
	AzureEndpoint   string `mapstructure:"azure_endpoint"`
	AzureAPIVersion string `mapstructure:"azure_api_version"`
	AzureDeployment string `mapstructure:"azure_deployment"`
}

// ChatConfig holds answer-generation settings.
type ChatConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// AzureDeployment is the chat deployment name for the azure provider.
	AzureDeployment string `mapstructure:"azure_deployment"`
}

// ChunkingConfig holds text-splitting settings.
type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// RetrievalConfig holds similarity-search settings.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogMode: "dev",
		DBPath:  DefaultDBFile,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8001,
			AllowedOrigins: []string{
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:        "openai",
			Model:           "text-embedding-3-small",
			Dimensions:      1536,
			AzureAPIVersion: "2024-02-01",
		},
		Chat: ChatConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   500,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
	}
}

// Load reads configuration from config.yaml in the working directory (if
// present) and from DOCCHAT_*-prefixed environment variables.
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional env names used by the upstream SDKs.
	_ = v.BindEnv("embedding.api_key", "DOCCHAT_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.base_url", "DOCCHAT_EMBEDDING_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("embedding.azure_endpoint", "DOCCHAT_EMBEDDING_AZURE_ENDPOINT", "AZURE_OPENAI_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings the pipeline depends on.
func (c *Config) Validate() error {
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking: overlap (%d) must be smaller than chunk size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	switch c.Embedding.Provider {
	case "openai", "azure":
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "azure" && c.Embedding.AzureEndpoint == "" {
		return fmt.Errorf("embedding: azure provider requires an endpoint")
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 10 {
		return fmt.Errorf("retrieval: top_k must be between 1 and 10, got %d", c.Retrieval.TopK)
	}
	return nil
}
