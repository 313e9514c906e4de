package rag

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pketo/docchat/internal/config"
	"github.com/pketo/docchat/internal/search"
)

const systemPrompt = `You are a helpful assistant answering questions about the documents uploaded to this system.

- Answer clearly and concisely in a friendly, professional tone.
- Keep answers brief (2-4 sentences) and use bullet points for steps or lists.
- Never mention "context", "documents", "provided information", or reveal that you are using retrieved data.
- If the information given is not enough to answer, say so politely and suggest what the user could ask about instead.
- For greetings, respond warmly and offer to help.`

// Answerer generates an answer to a question from a ranked context.
type Answerer interface {
	Answer(ctx context.Context, question string, results []search.Result) (string, error)
}

// Generator produces answers with a chat-completion model. The client is
// configured once for either the OpenAI API or an Azure deployment.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewGenerator builds the chat client from configuration. The backend is
// selected by the embedding provider setting so both halves of the
// pipeline talk to the same vendor.
func NewGenerator(cfg *config.Config) (*Generator, error) {
	var clientCfg openai.ClientConfig
	switch cfg.Embedding.Provider {
	case "azure":
		if cfg.Embedding.AzureEndpoint == "" {
			return nil, fmt.Errorf("chat: azure endpoint is required")
		}
		deployment := cfg.Chat.AzureDeployment
		if deployment == "" {
			deployment = cfg.Chat.Model
		}
		clientCfg = openai.DefaultAzureConfig(cfg.Embedding.APIKey, cfg.Embedding.AzureEndpoint)
		if cfg.Embedding.AzureAPIVersion != "" {
			clientCfg.APIVersion = cfg.Embedding.AzureAPIVersion
		}
		clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	default:
		clientCfg = openai.DefaultConfig(cfg.Embedding.APIKey)
		if cfg.Embedding.BaseURL != "" {
			clientCfg.BaseURL = cfg.Embedding.BaseURL
		}
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Chat.Model,
		temperature: cfg.Chat.Temperature,
		maxTokens:   cfg.Chat.MaxTokens,
	}, nil
}

// Model returns the chat model name.
func (g *Generator) Model() string {
	return g.model
}

// Answer builds the labeled context from the ranked chunks and asks the
// model for an answer.
func (g *Generator) Answer(ctx context.Context, question string, results []search.Result) (string, error) {
	userMessage := fmt.Sprintf("Use this information to answer:\n%s\n\nUser question: %s\n\nYour response (be natural, helpful, and BRIEF):",
		BuildContext(results), question)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// BuildContext renders the ranked chunks as labeled source blocks
// separated by blank lines.
func BuildContext(results []search.Result) string {
	if len(results) == 0 {
		return "No relevant context found."
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source %d - %s (Relevance: %.2f)]:\n%s",
			i+1, r.Chunk.DocumentName, r.Score, r.Chunk.Text)
	}
	return strings.Join(blocks, "\n\n")
}
