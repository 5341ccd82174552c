package model

import (
	"fmt"
	"strings"
)

// Claim is a single factual assertion extracted from a response.
// Claims are created by the extractor and treated as read-only afterwards.
type Claim struct {
	ID         string    `json:"id"`                    // Unique within a session (e.g., "CLM-001")
	Text       string    `json:"text"`                  // The claim statement itself
	Kind       ClaimKind `json:"kind"`                  // What sort of fact is asserted
	Severity   Severity  `json:"severity"`              // Damage class if the claim is wrong
	SourceSpan string    `json:"source_span,omitempty"` // Original span in the response text
}

// ClaimKind categorizes the nature of the claim
type ClaimKind string

const (
	ClaimKindNumeric        ClaimKind = "numeric"         // Quantities, percentages, amounts
	ClaimKindEntity         ClaimKind = "entity"          // Statements about a named entity
	ClaimKindEvent          ClaimKind = "event"           // Something happened (announced, acquired, ...)
	ClaimKindCaseCitation   ClaimKind = "case_citation"   // A cited court decision
	ClaimKindLegalAssertion ClaimKind = "legal_assertion" // A statement about the state of the law
	ClaimKindQuote          ClaimKind = "quote"           // Attributed quotation
	ClaimKindCausal         ClaimKind = "causal"          // X caused Y
)

// ClaimKinds lists every valid claim kind in declaration order.
var ClaimKinds = []ClaimKind{
	ClaimKindNumeric,
	ClaimKindEntity,
	ClaimKindEvent,
	ClaimKindCaseCitation,
	ClaimKindLegalAssertion,
	ClaimKindQuote,
	ClaimKindCausal,
}

// ParseClaimKind accepts both the canonical names and the upper-case labels
// reasoning backends tend to produce (e.g., "CASE_LAW", "LEGAL").
func ParseClaimKind(s string) (ClaimKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric":
		return ClaimKindNumeric, nil
	case "entity":
		return ClaimKindEntity, nil
	case "event":
		return ClaimKindEvent, nil
	case "case_citation", "case_law", "case-citation", "citation":
		return ClaimKindCaseCitation, nil
	case "legal_assertion", "legal", "legal-assertion":
		return ClaimKindLegalAssertion, nil
	case "quote":
		return ClaimKindQuote, nil
	case "causal":
		return ClaimKindCausal, nil
	}
	return "", fmt.Errorf("unknown claim kind %q", s)
}

// Severity is the damage class of a claim if it turns out to be false.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities from low (0) to critical (3).
// Unknown values rank as medium.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}

// IsSevere reports whether a block on this claim must block the whole response.
func (s Severity) IsSevere() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ParseSeverity accepts canonical names plus "MED"/"MEDIUM" style labels.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium", "med":
		return SeverityMedium, nil
	case "low":
		return SeverityLow, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// OtherClaims returns every claim except the one with the given id,
// preserving order.
func OtherClaims(claims []Claim, id string) []Claim {
	others := make([]Claim, 0, len(claims))
	for _, c := range claims {
		if c.ID != id {
			others = append(others, c)
		}
	}
	return others
}
