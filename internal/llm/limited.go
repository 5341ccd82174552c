package llm

import (
	"context"

	"github.com/ppiankov/axiom/internal/worker"
)

// Limited wraps a Provider so every call first takes a token from a shared
// limiter keyed by the provider name.
type Limited struct {
	Provider
	limiter *worker.Limiter
}

// WithLimiter returns p rate-limited by limiter. A nil provider stays nil.
func WithLimiter(p Provider, limiter *worker.Limiter) Provider {
	if p == nil || limiter == nil {
		return p
	}
	return &Limited{Provider: p, limiter: limiter}
}

// Complete waits for a token and then delegates
func (l *Limited) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := l.limiter.Wait(ctx, l.Name()); err != nil {
		return nil, err
	}
	return l.Provider.Complete(ctx, req)
}

// Embed waits for a token on the "<name>:embeddings" key and then delegates
func (l *Limited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, ok := l.Provider.(Embedder)
	if !ok {
		return nil, ErrNoEmbeddings
	}
	if err := l.limiter.Wait(ctx, EmbeddingsKey(l.Name())); err != nil {
		return nil, err
	}
	return e.Embed(ctx, texts)
}

// EmbeddingsKey is the limiter key for the embedding calls of backend name
func EmbeddingsKey(name string) string {
	return name + ":embeddings"
}

// AsEmbedder returns p as an Embedder when the underlying backend supports it
func AsEmbedder(p Provider) (Embedder, bool) {
	if p == nil {
		return nil, false
	}
	if l, ok := p.(*Limited); ok {
		if _, ok := l.Provider.(Embedder); !ok {
			return nil, false
		}
		return l, true
	}
	e, ok := p.(Embedder)
	return e, ok
}
