// Package settle produces the session-level settlement: evidence tallies, a
// confidence, a narrative summary and a recommendation for the caller.
package settle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/axiom/internal/llm"
	"github.com/ppiankov/axiom/internal/model"
	"go.uber.org/zap"
)

// OracleLocal names the deterministic tally-based generator
const OracleLocal = "local"

const adjudicationSystemPrompt = `You are the settlement adjudicator of a claim verification system.
Reason over the evidence from all verification agents. Decide how confident
the system should be in its overall action, summarize the decisive issues and
recommend what the caller should do with the response.
Respond with a JSON object:
{"confidence": 0.0-1.0, "summary": "two or three sentences", "recommendation": "one or two sentences"}`

// Adjudicator settles verification sessions. With a reasoning backend it asks
// the backend for the narrative first; the local generator is used when the
// backend is absent, fails or replies with something unusable.
type Adjudicator struct {
	reasoner llm.Provider
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Adjudicator
type Option func(*Adjudicator)

// WithReasoner enables external adjudication
func WithReasoner(p llm.Provider) Option {
	return func(a *Adjudicator) { a.reasoner = p }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Adjudicator) { a.logger = l }
}

// NewAdjudicator creates an adjudicator
func NewAdjudicator(cfg model.SettlementConfig, opts ...Option) *Adjudicator {
	a := &Adjudicator{
		timeout: cfg.Timeout,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Oracle returns the name reported when the external backend succeeds
func (a *Adjudicator) Oracle() string {
	if a.reasoner == nil {
		return OracleLocal
	}
	return a.reasoner.Name()
}

// Settle never fails. Evidence counts always come from the local tally so the
// shape is the same whichever path produced the narrative.
func (a *Adjudicator) Settle(ctx context.Context, sessionID string, verifications []model.ClaimVerification, overall model.Action) *model.Settlement {
	tally := Count(verifications)

	s := &model.Settlement{
		SessionID:     sessionID,
		Supporting:    tally.Supporting,
		Contradicting: tally.Contradicting,
		Neutral:       tally.Neutral,
		SettledAt:     a.now(),
	}

	if a.reasoner != nil {
		reply, err := a.external(ctx, sessionID, verifications, overall)
		if err == nil {
			s.Oracle = a.reasoner.Name()
			s.Confidence = reply.Confidence
			s.Summary = reply.Summary
			s.Recommendation = reply.Recommendation
			return s
		}
		a.logger.Warn("settlement backend failed, using local settlement",
			zap.String("session_id", sessionID),
			zap.String("backend", a.reasoner.Name()),
			zap.Error(err))
	}

	s.Oracle = OracleLocal
	s.Confidence, s.Summary = summarize(verifications, tally)
	s.Recommendation = recommend(verifications, overall)
	return s
}

// Tally buckets every finding of every assessment by stance
type Tally struct {
	Supporting    int
	Contradicting int
	Neutral       int
}

// Count tallies the findings of all verifications
func Count(verifications []model.ClaimVerification) Tally {
	var t Tally
	for _, v := range verifications {
		for _, as := range v.Assessments {
			for _, f := range as.Findings {
				switch f.Kind.Stance() {
				case model.StanceSupporting:
					t.Supporting++
				case model.StanceContradicting:
					t.Contradicting++
				default:
					t.Neutral++
				}
			}
		}
	}
	return t
}

func byVerdict(verifications []model.ClaimVerification) (trueClaims, falseClaims, uncertain []model.ClaimVerification) {
	for _, v := range verifications {
		switch v.Verdict {
		case model.VerdictTrue:
			trueClaims = append(trueClaims, v)
		case model.VerdictFalse:
			falseClaims = append(falseClaims, v)
		default:
			uncertain = append(uncertain, v)
		}
	}
	return trueClaims, falseClaims, uncertain
}

func summarize(verifications []model.ClaimVerification, t Tally) (float64, string) {
	trueClaims, falseClaims, uncertain := byVerdict(verifications)
	total := len(verifications)

	switch {
	case len(falseClaims) > 0 && len(trueClaims) == 0:
		return 0.95, fmt.Sprintf("No claim verified TRUE: %d of %d failed verification. Found %d piece(s) of contradicting evidence across all verifiers.",
			len(falseClaims), total, t.Contradicting)
	case len(falseClaims) > 0:
		return 0.90, fmt.Sprintf("%d of %d claims are FALSE. %d claim(s) verified TRUE. Failed claims: %s.",
			len(falseClaims), total, len(trueClaims), claimTexts(falseClaims, 50))
	case total > 0 && len(trueClaims) == total:
		return 0.97, fmt.Sprintf("All %d claims verified TRUE with %d corroborating finding(s) and %d contradicting.",
			total, t.Supporting, t.Contradicting)
	default:
		return 0.75, fmt.Sprintf("%d claim(s) require further review. %d verified, %d failed.",
			len(uncertain), len(trueClaims), len(falseClaims))
	}
}

func recommend(verifications []model.ClaimVerification, overall model.Action) string {
	_, falseClaims, uncertain := byVerdict(verifications)

	switch overall {
	case model.ActionBlock:
		if len(falseClaims) == 0 {
			return "Block output entirely."
		}
		return fmt.Sprintf("Block output entirely. Rewrite these claims with verified data: %s. Flag session for human review.",
			claimTexts(falseClaims, 60))
	case model.ActionRewrite:
		if len(uncertain) == 0 {
			return "Rewrite flagged claims with verified data before delivering to user."
		}
		return fmt.Sprintf("Rewrite flagged claims with verified data before delivering to user. %d claim(s) need manual verification.",
			len(uncertain))
	default:
		return "Allow output. All claims passed verification. No modifications needed."
	}
}

// claimTexts joins the first three claim texts, each clipped to n runes
func claimTexts(vs []model.ClaimVerification, n int) string {
	parts := make([]string, 0, 3)
	for i, v := range vs {
		if i == 3 {
			break
		}
		parts = append(parts, clip(v.Claim.Text, n))
	}
	return strings.Join(parts, "; ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type adjudicationReply struct {
	Confidence     *float64 `json:"confidence"`
	Summary        string   `json:"summary"`
	Recommendation string   `json:"recommendation"`
}

type externalReply struct {
	Confidence     float64
	Summary        string
	Recommendation string
}

type claimContext struct {
	Claim       string              `json:"claim"`
	Severity    model.Severity      `json:"severity"`
	RiskScore   float64             `json:"risk_score"`
	Verdict     model.Verdict       `json:"verdict"`
	Action      model.Action        `json:"action"`
	Assessments []assessmentContext `json:"assessments"`
}

type assessmentContext struct {
	Verifier      string         `json:"verifier"`
	Position      model.Position `json:"position"`
	Confidence    float64        `json:"confidence"`
	Summary       string         `json:"summary"`
	FindingsCount int            `json:"findings_count"`
	Contradicting int            `json:"contradicting_findings"`
}

func (a *Adjudicator) external(ctx context.Context, sessionID string, verifications []model.ClaimVerification, overall model.Action) (externalReply, error) {
	claims := make([]claimContext, 0, len(verifications))
	for _, v := range verifications {
		c := claimContext{
			Claim:     v.Claim.Text,
			Severity:  v.Claim.Severity,
			RiskScore: v.RiskScore,
			Verdict:   v.Verdict,
			Action:    v.Action,
		}
		for _, as := range v.Assessments {
			c.Assessments = append(c.Assessments, assessmentContext{
				Verifier:      as.Verifier,
				Position:      as.Position,
				Confidence:    as.Confidence,
				Summary:       as.Summary,
				FindingsCount: len(as.Findings),
				Contradicting: as.CountFindings(model.FindingContradiction, model.FindingNotFound, model.FindingInconsistency),
			})
		}
		claims = append(claims, c)
	}

	payload, err := json.Marshal(map[string]any{
		"session_id":     sessionID,
		"overall_action": overall,
		"claims":         claims,
	})
	if err != nil {
		return externalReply{}, err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.reasoner.Complete(ctx, llm.CompletionRequest{
		System: adjudicationSystemPrompt,
		Prompt: string(payload),
		JSON:   true,
	})
	if err != nil {
		return externalReply{}, err
	}

	var reply adjudicationReply
	if err := llm.DecodeJSON(resp.Text, &reply); err != nil {
		return externalReply{}, err
	}
	switch {
	case reply.Confidence == nil:
		return externalReply{}, fmt.Errorf("%w: missing confidence", llm.ErrMalformedResponse)
	case *reply.Confidence < 0 || *reply.Confidence > 1:
		return externalReply{}, fmt.Errorf("%w: confidence %v", llm.ErrMalformedResponse, *reply.Confidence)
	case strings.TrimSpace(reply.Summary) == "":
		return externalReply{}, fmt.Errorf("%w: empty summary", llm.ErrMalformedResponse)
	case strings.TrimSpace(reply.Recommendation) == "":
		return externalReply{}, fmt.Errorf("%w: empty recommendation", llm.ErrMalformedResponse)
	}

	return externalReply{
		Confidence:     *reply.Confidence,
		Summary:        reply.Summary,
		Recommendation: reply.Recommendation,
	}, nil
}
