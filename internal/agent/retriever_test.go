package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/axiom/internal/cache"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetriever(opts ...RetrieverOption) *RetrieverAgent {
	return NewRetrieverAgent(model.DefaultConfig().Retrieval, opts...)
}

func TestRetriever_KnownHallucination(t *testing.T) {
	a, err := newRetriever().Assess(context.Background(),
		claim("CLM-001", "Acme Corp revenue grew 32% QoQ", model.ClaimKindNumeric), Context{})
	require.NoError(t, err)

	// verified-claim contradiction + pattern match; analyst note follows but is not counted
	assert.Equal(t, model.BelievesFalse, a.Position)
	assert.InDelta(t, 0.79, a.Confidence, 1e-9)
	assert.Equal(t, 1, a.CountFindings(model.FindingPattern))
	assert.Equal(t, 2, a.CountFindings(model.FindingContradiction))
	assert.Equal(t, "2 contradicting doc(s). 0 supporting.", a.Summary)

	for _, f := range a.Findings {
		if f.Kind == model.FindingPattern {
			assert.Equal(t, 0.95, f.Relevance)
			assert.Contains(t, f.Text, "inflated_growth")
		}
	}
}

func TestRetriever_Corroborated(t *testing.T) {
	a, err := newRetriever().Assess(context.Background(),
		claim("CLM-001", "NVIDIA Q4 FY2024 revenue was $22.1 billion", model.ClaimKindNumeric), Context{})
	require.NoError(t, err)

	assert.Equal(t, model.BelievesTrue, a.Position)
	assert.InDelta(t, 0.65, a.Confidence, 1e-9)
	require.Len(t, a.Findings, 1)
	assert.Equal(t, model.FindingSupports, a.Findings[0].Kind)
	assert.Equal(t, 0.99, a.Findings[0].Relevance)
}

func TestRetriever_UnknownCaseCitation(t *testing.T) {
	a, _ := newRetriever().Assess(context.Background(),
		claim("CLM-001", "Doe v. Roe (2015) held that hospitals owe no duty.", model.ClaimKindCaseCitation), Context{})

	assert.Equal(t, model.BelievesFalse, a.Position)
	assert.InDelta(t, 0.67, a.Confidence, 1e-9)
	require.Len(t, a.Findings, 1)
	assert.Equal(t, model.FindingNotFound, a.Findings[0].Kind)
	assert.Equal(t, 0.90, a.Findings[0].Relevance)
}

func TestRetriever_NothingSimilar(t *testing.T) {
	a, _ := newRetriever().Assess(context.Background(),
		claim("CLM-001", "The sky is blue today.", model.ClaimKindEntity), Context{})

	assert.Equal(t, model.BelievesFalse, a.Position)
	assert.Equal(t, 0.55, a.Confidence)
	require.Len(t, a.Findings, 1)
	assert.Equal(t, model.FindingFlag, a.Findings[0].Kind)
	assert.Equal(t, 0.50, a.Findings[0].Relevance)
	assert.Equal(t, "Insufficient evidence to corroborate claim.", a.Summary)
}

type failingSimilarity struct{ calls int }

func (s *failingSimilarity) Name() string { return "failing" }
func (s *failingSimilarity) Scores(context.Context, string, []string) ([]float64, error) {
	s.calls++
	return nil, errors.New("vector store unreachable")
}

type shortSimilarity struct{}

func (shortSimilarity) Name() string { return "short" }
func (shortSimilarity) Scores(context.Context, string, []string) ([]float64, error) {
	return []float64{0.9}, nil
}

func TestRetriever_FallbackIsIndistinguishable(t *testing.T) {
	c := claim("CLM-001", "Acme Corp revenue grew 32% QoQ", model.ClaimKindNumeric)
	want, _ := newRetriever().Assess(context.Background(), c, Context{})

	failing := &failingSimilarity{}
	for _, s := range []Similarity{failing, shortSimilarity{}} {
		got, err := newRetriever(WithSimilarity(s)).Assess(context.Background(), c, Context{})
		require.NoError(t, err)
		assert.Equal(t, want.Position, got.Position, s.Name())
		assert.Equal(t, want.Confidence, got.Confidence, s.Name())
		assert.Equal(t, want.Findings, got.Findings, s.Name())
		assert.Equal(t, want.Summary, got.Summary, s.Name())
	}
	assert.Equal(t, 1, failing.calls)
}

type fixedSimilarity map[int]float64

func (fixedSimilarity) Name() string { return "fixed" }
func (f fixedSimilarity) Scores(_ context.Context, _ string, candidates []string) ([]float64, error) {
	out := make([]float64, len(candidates))
	for i, v := range f {
		out[i] = v
	}
	return out, nil
}

func TestRetriever_PrimaryBackendUsesSameThresholds(t *testing.T) {
	// index 1 is the NVIDIA revenue entry; index 4 the first pattern at exactly its threshold
	r := newRetriever(WithSimilarity(fixedSimilarity{1: 0.9, 4: 0.35}))

	a, _ := r.Assess(context.Background(),
		claim("CLM-001", "NVIDIA revenue hit $22.3 billion", model.ClaimKindNumeric), Context{})

	assert.Equal(t, model.BelievesTrue, a.Position)
	require.Len(t, a.Findings, 1, "scores equal to a threshold do not count")
	assert.Equal(t, model.FindingSupports, a.Findings[0].Kind)
	assert.Equal(t, 0.99, a.Findings[0].Relevance)
	assert.Contains(t, a.Findings[0].Text, "similarity: 0.90")
}

func TestRetriever_FalseVerifiedEntryContradicts(t *testing.T) {
	corpus, err := LoadCorpus(filepath.Join("testdata", "corpus.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, corpus.Size())

	r := newRetriever(WithCorpus(corpus))
	a, _ := r.Assess(context.Background(),
		claim("CLM-001", "Acme Corp guided to 40% growth in Q3", model.ClaimKindNumeric), Context{})

	assert.Equal(t, model.BelievesFalse, a.Position)
	found := false
	for _, f := range a.Findings {
		if f.Kind == model.FindingContradiction && strings.Contains(f.Text, "guided to 40%") {
			found = true
		}
	}
	assert.True(t, found, "an entry recorded as false contradicts even when it agrees")
}

func TestLoadCorpus_Errors(t *testing.T) {
	_, err := LoadCorpus(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClaimsAgree(t *testing.T) {
	assert.True(t, claimsAgree("Revenue grew 7.9% QoQ", "Acme Corp revenue grew 7.6% QoQ in Q3 2024"))
	assert.False(t, claimsAgree("Revenue grew 32% QoQ", "Acme Corp revenue grew 7.6% QoQ in Q3 2024"))
	assert.True(t, claimsAgree("NVIDIA revenue hit $22.3 billion", "NVIDIA Q4 FY2024 revenue was $22.1 billion"))
	// no comparable units: word overlap decides
	assert.True(t, claimsAgree("the court ruled for the hospital", "the court ruled for the hospital again"))
	assert.False(t, claimsAgree("Revenue grew 5%", "NVIDIA revenue was $22.1 billion"))
}

func TestLexicalSimilarity(t *testing.T) {
	scores, err := LexicalSimilarity{}.Scores(context.Background(), "a b c", []string{"a b c", "a x", "", "A B"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1.0 / 3, 0, 2.0 / 3}, scores)
}

// mapEmbedder embeds by first letter so similar-looking texts collide
type mapEmbedder struct {
	calls  int
	inputs int
	fail   bool
}

func (m *mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	m.inputs += len(texts)
	if m.fail {
		return nil, errors.New("rate limited")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.HasPrefix(t, "A") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestEmbeddingSimilarity_CachesVectors(t *testing.T) {
	emb := &mapEmbedder{}
	sim := NewEmbeddingSimilarity(emb, cache.NewMemoryCache(time.Minute, time.Minute), "test-model")

	scores, err := sim.Scores(context.Background(), "Acme", []string{"Alpha", "Beta"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0}, scores, 1e-9)
	assert.Equal(t, 3, emb.inputs)

	_, err = sim.Scores(context.Background(), "Another", []string{"Alpha", "Beta"})
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, 4, emb.inputs, "only the new query is embedded")
}

func TestEmbeddingSimilarity_Unavailable(t *testing.T) {
	var sim *EmbeddingSimilarity
	_, err := sim.Scores(context.Background(), "q", []string{"x"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	_, err = NewEmbeddingSimilarity(&mapEmbedder{fail: true}, nil, "m").Scores(context.Background(), "q", []string{"x"})
	assert.Error(t, err)
}
