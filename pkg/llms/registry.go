package llms

import (
	"context"
	"fmt"

	"github.com/aurelian-io/chronicle/pkg/config"
	"github.com/aurelian-io/chronicle/pkg/registry"
)

// Provider is a plain-text completion interface. Tool use rides on the
// prompt text (Thought/Action/Observation), not on provider function
// calling, so the reasoning engine can stream and parse the raw output.
type Provider interface {
	// Generate performs a non-streaming request.
	// Returns the response text and the total token count when reported.
	Generate(ctx context.Context, messages []Message) (string, int, error)

	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	GetModelName() string

	GetTemperature() float64

	Close() error
}

type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// CreateFromConfig builds a provider and registers it under the given
// role name ("reasoning", "fast").
func (r *Registry) CreateFromConfig(role config.LLMRole, cfg *config.LLMProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config cannot be nil")
	}

	var provider Provider
	var err error

	switch cfg.Type {
	case "gemini":
		provider, err = NewGeminiProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s (supported: gemini)", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	if err := r.Register(string(role), provider); err != nil {
		return nil, fmt.Errorf("failed to register LLM: %w", err)
	}

	return provider, nil
}

func (r *Registry) GetProvider(role config.LLMRole) (Provider, error) {
	provider, exists := r.Get(string(role))
	if !exists {
		return nil, fmt.Errorf("LLM provider for role '%s' not found", role)
	}
	return provider, nil
}
