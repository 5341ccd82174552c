package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/axiom/internal/cache"
	"github.com/ppiankov/axiom/internal/llm"
)

// Similarity scores a query against candidate texts. Scores are in [0, 1]
// and returned in candidate order.
type Similarity interface {
	Name() string
	Scores(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// LexicalSimilarity is word overlap divided by the larger word-set size.
// It is deterministic and needs no backend.
type LexicalSimilarity struct{}

// Name returns "lexical"
func (LexicalSimilarity) Name() string { return "lexical" }

// Scores never fails
func (LexicalSimilarity) Scores(_ context.Context, query string, candidates []string) ([]float64, error) {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = wordOverlap(query, c)
	}
	return out, nil
}

func wordOverlap(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	overlap := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(max(len(wa), len(wb)))
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// EmbeddingSimilarity is cosine similarity over backend embeddings. Vectors
// are cached by (model, text) so corpus entries are embedded once.
type EmbeddingSimilarity struct {
	embedder llm.Embedder
	cache    cache.Cache
	model    string
}

// NewEmbeddingSimilarity creates an embedding-backed similarity. c may be nil.
func NewEmbeddingSimilarity(embedder llm.Embedder, c cache.Cache, model string) *EmbeddingSimilarity {
	return &EmbeddingSimilarity{embedder: embedder, cache: c, model: model}
}

// Name returns "embedding"
func (s *EmbeddingSimilarity) Name() string { return "embedding" }

// Scores embeds the query and any uncached candidates in one backend call
func (s *EmbeddingSimilarity) Scores(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if s == nil || s.embedder == nil {
		return nil, ErrBackendUnavailable
	}

	texts := append([]string{query}, candidates...)
	vectors := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := s.cached(t); ok {
			vectors[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		embedded, err := s.embedder.Embed(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(embedded) != len(missing) {
			return nil, fmt.Errorf("%w: %d vectors for %d texts", llm.ErrMalformedResponse, len(embedded), len(missing))
		}
		for j, v := range embedded {
			vectors[missingIdx[j]] = v
			s.store(missing[j], v)
		}
	}

	out := make([]float64, len(candidates))
	for i := range candidates {
		out[i] = math.Max(0, cosine(vectors[0], vectors[i+1]))
	}
	return out, nil
}

func (s *EmbeddingSimilarity) key(text string) string {
	return cache.CacheKey("embedding", s.model, text)
}

func (s *EmbeddingSimilarity) cached(text string) ([]float32, bool) {
	if s.cache == nil {
		return nil, false
	}
	var v []float32
	if !cache.GetJSON(s.cache, s.key(text), &v) || len(v) == 0 {
		return nil, false
	}
	return v, true
}

func (s *EmbeddingSimilarity) store(text string, v []float32) {
	if s.cache == nil {
		return
	}
	_ = cache.SetJSON(s.cache, s.key(text), v, 0)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
