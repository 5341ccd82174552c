// Package risk folds verifier assessments into per-claim verdicts and
// resolves the response-level action.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/axiom/internal/model"
)

const (
	// maxAllowThreshold caps the severity-adjusted allow floor
	maxAllowThreshold = 0.95
	// minThresholdGap keeps the rewrite floor below the allow floor
	minThresholdGap = 0.05
	// noEvidenceScore is reported when a claim has no assessments at all
	noEvidenceScore = 0.50
	// keyFindingLen truncates the key finding quoted in rationales
	keyFindingLen = 120
)

// severityMultipliers scale both thresholds; stricter for severe claims
var severityMultipliers = map[model.Severity]float64{
	model.SeverityCritical: 1.20,
	model.SeverityHigh:     1.10,
	model.SeverityMedium:   1.00,
	model.SeverityLow:      0.85,
}

// Aggregator combines assessments into a ClaimVerification using weighted,
// disagreement-aware consensus. It holds no mutable state and is safe for
// concurrent use.
type Aggregator struct {
	allow         float64
	rewrite       float64
	pull          float64
	weights       map[string]float64
	defaultWeight float64
}

// NewAggregator creates an aggregator from the risk configuration
func NewAggregator(cfg model.RiskConfig) *Aggregator {
	weights := make(map[string]float64, len(cfg.Weights))
	for name, w := range cfg.Weights {
		weights[name] = w
	}
	defaultWeight := cfg.DefaultWeight
	if defaultWeight <= 0 {
		defaultWeight = 0.8
	}
	return &Aggregator{
		allow:         cfg.AllowThreshold,
		rewrite:       cfg.RewriteThreshold,
		pull:          cfg.DisagreementPull,
		weights:       weights,
		defaultWeight: defaultWeight,
	}
}

// Weight returns the reliability weight of a verifier
func (a *Aggregator) Weight(verifier string) float64 {
	if w, ok := a.weights[verifier]; ok {
		return w
	}
	return a.defaultWeight
}

// Thresholds returns the severity-adjusted (allow, rewrite) floors.
func (a *Aggregator) Thresholds(sev model.Severity) (allow, rewrite float64) {
	mult, ok := severityMultipliers[sev]
	if !ok {
		mult = 1.0
	}
	allow = math.Min(a.allow*mult, maxAllowThreshold)
	rewrite = math.Min(a.rewrite*mult, allow-minThresholdGap)
	return allow, rewrite
}

// Aggregate folds the assessments collected for claim into a verification.
// Assessments that belong to another claim are ignored.
func (a *Aggregator) Aggregate(claim model.Claim, assessments []model.AgentAssessment) model.ClaimVerification {
	own := make([]model.AgentAssessment, 0, len(assessments))
	for _, as := range assessments {
		if as.ClaimID == claim.ID {
			own = append(own, as)
		}
	}

	if len(own) == 0 {
		return model.ClaimVerification{
			Claim:       claim,
			RiskScore:   noEvidenceScore,
			Verdict:     model.VerdictUncertain,
			Action:      model.ActionBlock,
			Rationale:   "No verifier assessments available; nothing can be trusted without evidence.",
			Assessments: own,
		}
	}

	score := a.Score(own)

	allow, rewrite := a.Thresholds(claim.Severity)
	verdict, action := model.VerdictFalse, model.ActionBlock
	switch {
	case score >= allow:
		verdict, action = model.VerdictTrue, model.ActionAllow
	case score >= rewrite:
		verdict, action = model.VerdictUncertain, model.ActionRewrite
	}

	return model.ClaimVerification{
		Claim:       claim,
		RiskScore:   score,
		Verdict:     verdict,
		Action:      action,
		Rationale:   rationale(own, score, verdict),
		Assessments: own,
	}
}

// Score computes the disagreement-corrected weighted truth probability,
// rounded to four decimals. The slice must not be empty.
func (a *Aggregator) Score(assessments []model.AgentAssessment) float64 {
	weightedSum, weightTotal := 0.0, 0.0
	trueCount, falseCount := 0, 0

	for _, as := range assessments {
		w := a.Weight(as.Verifier) * evidenceQuality(as)
		p := model.Clamp01(as.TruthProbability())
		weightedSum += p * w
		weightTotal += w

		if as.Position == model.BelievesFalse {
			falseCount++
		} else {
			trueCount++
		}
	}

	score := 0.5
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}

	if trueCount > 0 && falseCount > 0 {
		minority := float64(min(trueCount, falseCount)) / float64(len(assessments))
		penalty := minority * a.pull
		score = score*(1-penalty) + 0.5*penalty
	}

	return round4(model.Clamp01(score))
}

// evidenceQuality is 0.5 without findings, else 0.7-1.0 by mean relevance
func evidenceQuality(as model.AgentAssessment) float64 {
	mean, ok := as.MeanRelevance()
	if !ok {
		return 0.5
	}
	return 0.7 + 0.3*model.Clamp01(mean)
}

func rationale(assessments []model.AgentAssessment, score float64, verdict model.Verdict) string {
	var dissenters, supporters []model.AgentAssessment
	for _, as := range assessments {
		if as.Position == model.BelievesFalse {
			dissenters = append(dissenters, as)
		} else {
			supporters = append(supporters, as)
		}
	}
	total := len(assessments)
	pct := score * 100

	var parts []string
	switch verdict {
	case model.VerdictFalse:
		parts = append(parts, fmt.Sprintf("Claim scored %.0f%% factuality.", pct))
	case model.VerdictTrue:
		parts = append(parts, fmt.Sprintf("Claim verified with %.0f%% confidence.", pct))
		if len(supporters) > 0 {
			evidence := 0
			for _, as := range supporters {
				evidence += len(as.Findings)
			}
			parts = append(parts, fmt.Sprintf("%d/%d verifiers confirmed with %d supporting evidence items.", len(supporters), total, evidence))
		}
	default:
		parts = append(parts, fmt.Sprintf("Claim scored %.0f%%: insufficient confidence to allow or block.", pct))
	}

	if len(dissenters) > 0 {
		names := make([]string, len(dissenters))
		for i, as := range dissenters {
			names[i] = as.Verifier
		}
		parts = append(parts, fmt.Sprintf("%d/%d verifiers flagged issues (%s).", len(dissenters), total, strings.Join(names, ", ")))
		if top, ok := topFinding(dissenters); ok {
			parts = append(parts, "Key finding: "+truncate(top.Text, keyFindingLen))
		}
	}

	if verdict == model.VerdictUncertain {
		parts = append(parts, "Routed for human review with suggested rewrites.")
	}

	return strings.Join(parts, " ")
}

// topFinding picks the highest-relevance finding; the first one seen wins ties
func topFinding(assessments []model.AgentAssessment) (model.Finding, bool) {
	var best model.Finding
	found := false
	for _, as := range assessments {
		for _, f := range as.Findings {
			if !found || f.Relevance > best.Relevance {
				best = f
				found = true
			}
		}
	}
	return best, found
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
