// Package llm wraps the reasoning backends (OpenAI, Anthropic, Ollama) used
// by the numeric verifier, the claim extractor and the settlement adjudicator.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/axiom/internal/model"
)

var (
	// ErrMalformedResponse marks a reply that is not the JSON shape we asked for
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrNoProvider is returned when no reasoning backend is configured or reachable
	ErrNoProvider = errors.New("no reasoning provider configured")

	// ErrNoEmbeddings is returned when a provider cannot produce embeddings
	ErrNoEmbeddings = errors.New("provider does not support embeddings")
)

// Provider defines the interface for reasoning backends
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends a single prompt and returns the model's reply
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CheckAvailable runs the provider's capability check once. It returns
// ErrNoProvider when p is nil or does not answer.
func CheckAvailable(ctx context.Context, p Provider) error {
	if p == nil {
		return ErrNoProvider
	}
	if !p.IsAvailable(ctx) {
		return fmt.Errorf("%w: %s is not reachable", ErrNoProvider, p.Name())
	}
	return nil
}

// Embedder is implemented by providers that can embed text
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionRequest contains the input for one completion
type CompletionRequest struct {
	// System is the system instruction
	System string

	// Prompt is the user message
	Prompt string

	// Model overrides the configured model (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// JSON asks the backend for a JSON object reply when it supports it
	JSON bool
}

// CompletionResponse contains the model's reply
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// EmbeddingModel is used by providers that implement Embedder
	EmbeddingModel string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   15,
		MaxTokens: 1000,
	}
}

// ConfigFromModel converts the application config into a provider config
func ConfigFromModel(cfg model.LLMConfig, embeddingModel string) Config {
	return Config{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		EmbeddingModel: embeddingModel,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		MaxTokens:      cfg.MaxTokens,
		HTTPProxy:      cfg.HTTPProxy,
		HTTPSProxy:     cfg.HTTPSProxy,
		NoProxy:        cfg.NoProxy,
	}
}

func maxTokens(req CompletionRequest, config Config) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if config.MaxTokens > 0 {
		return config.MaxTokens
	}
	return 1000
}
