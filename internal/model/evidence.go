package model

import (
	"math"
	"strings"
)

// Finding is one atomic piece of evidence produced by a verifier.
type Finding struct {
	Kind      FindingKind `json:"kind"`
	Text      string      `json:"text"`
	Source    string      `json:"source"`    // Provenance label (index, database, heuristic)
	Relevance float64     `json:"relevance"` // 0.0 - 1.0
}

// FindingKind classifies a finding
type FindingKind string

const (
	FindingConfirmed     FindingKind = "confirmed"
	FindingContradiction FindingKind = "contradiction"
	FindingSupports      FindingKind = "supports"
	FindingFlag          FindingKind = "flag"
	FindingInconsistency FindingKind = "inconsistency"
	FindingConsistent    FindingKind = "consistent"
	FindingPattern       FindingKind = "pattern"
	FindingNotFound      FindingKind = "not_found"
)

// Stance buckets finding kinds for settlement tallies.
type Stance string

const (
	StanceSupporting    Stance = "supporting"
	StanceContradicting Stance = "contradicting"
	StanceNeutral       Stance = "neutral"
)

// Stance returns the tally bucket of the finding kind.
func (k FindingKind) Stance() Stance {
	switch k {
	case FindingConfirmed, FindingSupports, FindingConsistent:
		return StanceSupporting
	case FindingContradiction, FindingNotFound, FindingInconsistency:
		return StanceContradicting
	default:
		return StanceNeutral
	}
}

// ParseFindingKind maps a free-form label from a reasoning backend onto a
// finding kind. The second return is false for unknown labels.
func ParseFindingKind(s string) (FindingKind, bool) {
	switch FindingKind(normalizeLabel(s)) {
	case FindingConfirmed:
		return FindingConfirmed, true
	case FindingContradiction:
		return FindingContradiction, true
	case FindingSupports:
		return FindingSupports, true
	case FindingFlag:
		return FindingFlag, true
	case FindingInconsistency:
		return FindingInconsistency, true
	case FindingConsistent:
		return FindingConsistent, true
	case FindingPattern:
		return FindingPattern, true
	case FindingNotFound:
		return FindingNotFound, true
	}
	return "", false
}

// Position is a verifier's stance on a claim.
type Position string

const (
	BelievesTrue  Position = "believes_true"
	BelievesFalse Position = "believes_false"
)

// ParsePosition accepts canonical names and the LONG/SHORT market labels
// ("LONG" = believes true).
func ParsePosition(s string) (Position, bool) {
	switch normalizeLabel(s) {
	case "believes_true", "long", "true":
		return BelievesTrue, true
	case "believes_false", "short", "false":
		return BelievesFalse, true
	}
	return "", false
}

// AgentAssessment is one verifier's verdict on one claim.
type AgentAssessment struct {
	Verifier   string    `json:"verifier"`
	ClaimID    string    `json:"claim_id"`
	Position   Position  `json:"position"`
	Confidence float64   `json:"confidence"` // 0.0 - 1.0
	Summary    string    `json:"summary"`
	Findings   []Finding `json:"findings"`
	LatencyMs  float64   `json:"latency_ms"`
}

// TruthProbability converts the assessment into P(claim is true).
func (a AgentAssessment) TruthProbability() float64 {
	if a.Position == BelievesFalse {
		return 1 - a.Confidence
	}
	return a.Confidence
}

// MeanRelevance returns the mean relevance of the findings and false when
// there are none.
func (a AgentAssessment) MeanRelevance() (float64, bool) {
	if len(a.Findings) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, f := range a.Findings {
		sum += f.Relevance
	}
	return sum / float64(len(a.Findings)), true
}

// CountFindings counts findings whose kind is one of kinds.
func (a AgentAssessment) CountFindings(kinds ...FindingKind) int {
	n := 0
	for _, f := range a.Findings {
		for _, k := range kinds {
			if f.Kind == k {
				n++
				break
			}
		}
	}
	return n
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
