package llm

import (
	"context"
	"fmt"

	"github.com/bonvision/receipt-processor/config"
)

// Client is the surface every model provider implements: text generation
// for extraction and embeddings for exemplar retrieval.
type Client interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// NewClient builds the configured model provider.
func NewClient(ctx context.Context, provider string, cfg *config.LLMConfig) (Client, error) {
	switch provider {
	case "ollama":
		return NewOllamaClient(cfg), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}
