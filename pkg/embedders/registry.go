package embedders

import (
	"context"
	"fmt"

	"github.com/aurelian-io/chronicle/pkg/config"
)

// Embedder turns query text into a vector for similarity search.
// The corpus side is embedded offline; at runtime only user queries
// (and fallback re-embeddings) pass through here.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	GetDimension() int

	GetModelName() string

	Close() error
}

// NewFromConfig builds the embedder named by the config type.
func NewFromConfig(cfg *config.EmbedderProviderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedderFromConfig(cfg)
	case "ollama":
		return NewOllamaEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s (supported: openai, ollama)", cfg.Type)
	}
}
