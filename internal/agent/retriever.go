package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/axiom/internal/extract"
	"github.com/ppiankov/axiom/internal/model"
	"go.uber.org/zap"
)

// RetrieverAgent compares the claim with three reference corpora: verified
// claims, the hallucination archive and analyst commentary.
//
// The primary similarity backend is optional. When it is missing or fails the
// lexical fallback runs with the same thresholds, so both paths produce the
// same findings shape.
type RetrieverAgent struct {
	corpus     *Corpus
	primary    Similarity
	fallback   Similarity
	thresholds model.Thresholds
	timeout    time.Duration
	logger     *zap.Logger
}

// RetrieverOption configures a RetrieverAgent
type RetrieverOption func(*RetrieverAgent)

// WithCorpus replaces the built-in corpus
func WithCorpus(c *Corpus) RetrieverOption {
	return func(r *RetrieverAgent) {
		if c != nil {
			r.corpus = c
		}
	}
}

// WithSimilarity sets the primary similarity backend
func WithSimilarity(s Similarity) RetrieverOption {
	return func(r *RetrieverAgent) { r.primary = s }
}

// WithRetrieverLogger sets the logger
func WithRetrieverLogger(l *zap.Logger) RetrieverOption {
	return func(r *RetrieverAgent) { r.logger = l }
}

// NewRetrieverAgent creates a retriever over the default corpus
func NewRetrieverAgent(cfg model.RetrievalConfig, opts ...RetrieverOption) *RetrieverAgent {
	r := &RetrieverAgent{
		corpus:     DefaultCorpus(),
		fallback:   LexicalSimilarity{},
		thresholds: cfg.Thresholds,
		timeout:    cfg.Timeout,
		logger:     zap.NewNop(),
	}
	if r.thresholds == (model.Thresholds{}) {
		r.thresholds = model.Thresholds{Verified: 0.30, Pattern: 0.35, Analyst: 0.25}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the registry name
func (r *RetrieverAgent) Name() string { return model.VerifierRetriever }

// Specialty describes the verifier
func (r *RetrieverAgent) Specialty() string { return "Semantic evidence retrieval" }

// Assess never returns an error: backend failures degrade to lexical overlap.
func (r *RetrieverAgent) Assess(ctx context.Context, claim model.Claim, _ Context) (model.AgentAssessment, error) {
	start := time.Now()

	scores := r.scores(ctx, claim)
	nv, np := len(r.corpus.Verified), len(r.corpus.Patterns)

	var findings []model.Finding
	supporting, contradicting := 0, 0

	for i, e := range r.corpus.Verified {
		sim := scores[i]
		if sim <= r.thresholds.Verified {
			continue
		}
		relevance := min(0.99, sim+0.2)
		if e.Verdict && claimsAgree(claim.Text, e.Text) {
			findings = append(findings, model.Finding{
				Kind:      model.FindingSupports,
				Text:      fmt.Sprintf("Nearest verified claim: '%s' (similarity: %.2f)", e.Text, sim),
				Source:    "Verified claims index",
				Relevance: relevance,
			})
			supporting++
		} else {
			findings = append(findings, model.Finding{
				Kind:      model.FindingContradiction,
				Text:      fmt.Sprintf("Contradicting verified claim: '%s' (similarity: %.2f)", e.Text, sim),
				Source:    "Verified claims index",
				Relevance: relevance,
			})
			contradicting++
		}
	}

	for i, e := range r.corpus.Patterns {
		sim := scores[nv+i]
		if sim <= r.thresholds.Pattern {
			continue
		}
		findings = append(findings, model.Finding{
			Kind:      model.FindingPattern,
			Text:      fmt.Sprintf("Hallucination pattern match: '%s' (pattern: %s)", e.Text, e.Pattern),
			Source:    "Hallucination archive",
			Relevance: min(0.95, sim+0.15),
		})
		contradicting++
	}

	// Analyst commentary follows the direction of the evidence so far and is not counted
	for i, e := range r.corpus.Analyst {
		sim := scores[nv+np+i]
		if sim <= r.thresholds.Analyst {
			continue
		}
		kind := model.FindingContradiction
		if supporting > contradicting {
			kind = model.FindingSupports
		}
		findings = append(findings, model.Finding{
			Kind:      kind,
			Text:      fmt.Sprintf("Analyst data: '%s'", e.Text),
			Source:    "Analyst reports index",
			Relevance: min(0.92, sim+0.15),
		})
	}

	if len(findings) == 0 {
		if claim.Kind == model.ClaimKindCaseCitation {
			findings = append(findings, model.Finding{
				Kind:      model.FindingNotFound,
				Text:      "No matching case law found in any indexed legal database.",
				Source:    "Case law index",
				Relevance: 0.90,
			})
			contradicting++
		} else {
			findings = append(findings, model.Finding{
				Kind:      model.FindingFlag,
				Text:      "No similar claims found in evidence index. Unable to corroborate.",
				Source:    "Full index",
				Relevance: 0.50,
			})
		}
	}

	switch {
	case contradicting > supporting:
		return newAssessment(r.Name(), claim, start, model.BelievesFalse,
			min(0.95, 0.55+float64(contradicting)*0.12),
			fmt.Sprintf("%d contradicting doc(s). %d supporting.", contradicting, supporting), findings), nil
	case supporting > 0:
		return newAssessment(r.Name(), claim, start, model.BelievesTrue,
			min(0.95, 0.55+float64(supporting)*0.10),
			fmt.Sprintf("%d corroborating source(s). %d contradicting.", supporting, contradicting), findings), nil
	default:
		return newAssessment(r.Name(), claim, start, model.BelievesFalse, 0.55,
			"Insufficient evidence to corroborate claim.", findings), nil
	}
}

// scores picks the backend once per call: primary if configured, lexical on
// any primary failure
func (r *RetrieverAgent) scores(ctx context.Context, claim model.Claim) []float64 {
	texts := r.corpus.texts()

	if r.primary != nil {
		pctx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		scores, err := r.primary.Scores(pctx, claim.Text, texts)
		if err == nil && len(scores) == len(texts) {
			return scores
		}
		if err == nil {
			err = fmt.Errorf("similarity backend returned %d scores for %d entries", len(scores), len(texts))
		}
		r.logger.Warn("similarity backend failed, using lexical overlap",
			zap.String("claim_id", claim.ID),
			zap.String("backend", r.primary.Name()),
			zap.Error(err))
	}

	scores, _ := r.fallback.Scores(ctx, claim.Text, texts)
	return scores
}

// claimsAgree compares the leading quantities that share a unit: within 15%
// agrees. Without comparable quantities the texts must overlap by more than
// half.
func claimsAgree(claimText, verifiedText string) bool {
	if a, b, ok := comparable(extract.Quantities(claimText), extract.Quantities(verifiedText)); ok {
		diff := a - b
		if diff < 0 {
			diff = -diff
		}
		return diff/max(b, 1) < 0.15
	}
	return wordOverlap(claimText, verifiedText) > 0.5
}

func comparable(as, bs []extract.Quantity) (float64, float64, bool) {
	for _, a := range as {
		for _, b := range bs {
			if a.Unit == b.Unit {
				return a.Value, b.Value, true
			}
		}
	}
	return 0, 0, false
}
