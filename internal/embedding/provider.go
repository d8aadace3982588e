package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmbedFailed wraps every network or provider-side failure so
	// callers can match the category without parsing messages.
	ErrEmbedFailed = errors.New("embedding request failed")

	ErrMissingAPIKey = errors.New("embedding api key is not configured")
)

// Config selects and parameterizes an embedding backend.
type Config struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// Provider converts text into fixed-dimension vectors. Vectors from
// different models are not comparable; callers must keep the model
// stable for a given store.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// New dispatches on the configured backend once, at construction. A
// missing credential for the selected backend fails here, not at first
// use. There is no fallback between backends.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		return NewOpenAIProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
