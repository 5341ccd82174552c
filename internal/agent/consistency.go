package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/axiom/internal/extract"
	"github.com/ppiankov/axiom/internal/model"
)

var properNounRe = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)

var chainWords = []string{"extend", "built on", "following", "consistent with"}

var generalizationPhrases = []string{
	"consistently upheld",
	"universally recognized",
	"well-established across",
	"uniformly applied",
	"all circuits",
	"every jurisdiction",
}

// ConsistencyBot judges a claim against the other claims of the same
// response. Dependency checks only see assessments of claims that were scored
// earlier; claims later in the sequence have none yet.
type ConsistencyBot struct{}

// NewConsistencyBot creates a consistency verifier
func NewConsistencyBot() *ConsistencyBot {
	return &ConsistencyBot{}
}

// Name returns the registry name
func (c *ConsistencyBot) Name() string { return model.VerifierConsistency }

// Specialty describes the verifier
func (c *ConsistencyBot) Specialty() string { return "Cross-claim logical consistency analysis" }

// Assess is pure over its inputs and never fails
func (c *ConsistencyBot) Assess(_ context.Context, claim model.Claim, vc Context) (model.AgentAssessment, error) {
	start := time.Now()

	var findings []model.Finding
	findings = append(findings, c.dependencies(claim, vc)...)
	findings = append(findings, c.arithmetic(claim, vc.Siblings)...)
	if claim.Kind == model.ClaimKindCaseCitation {
		findings = append(findings, c.legalChain(claim, vc.Siblings)...)
	}
	if claim.Kind == model.ClaimKindLegalAssertion || vc.Domain == "legal" {
		findings = append(findings, c.generalizations(claim)...)
	}

	inconsistencies := 0
	flags := 0
	for _, f := range findings {
		switch f.Kind {
		case model.FindingInconsistency, model.FindingContradiction:
			inconsistencies++
		case model.FindingFlag:
			flags++
		}
	}

	// inconsistency > flag > clean
	switch {
	case inconsistencies > 0:
		return newAssessment(c.Name(), claim, start, model.BelievesFalse,
			min(0.95, 0.65+float64(inconsistencies)*0.12),
			fmt.Sprintf("Found %d cross-claim inconsistency(s).", inconsistencies), findings), nil
	case flags > 0:
		return newAssessment(c.Name(), claim, start, model.BelievesFalse,
			min(0.80, 0.50+float64(flags)*0.10),
			fmt.Sprintf("Found %d potential issue(s) requiring review.", flags), findings), nil
	default:
		findings = append(findings, model.Finding{
			Kind:      model.FindingConsistent,
			Text:      "Claim is logically consistent with all other extracted claims.",
			Source:    "Cross-claim consistency check",
			Relevance: 0.80,
		})
		return newAssessment(c.Name(), claim, start, model.BelievesTrue, 0.70,
			"No cross-claim contradictions detected.", findings), nil
	}
}

func (c *ConsistencyBot) dependencies(claim model.Claim, vc Context) []model.Finding {
	var findings []model.Finding

	for _, sib := range vc.Siblings {
		if sib.ID == claim.ID || !sharesEntity(claim.Text, sib.Text) {
			continue
		}

		prior := vc.PriorAssessments(sib.ID)
		falseCount := 0
		for _, a := range prior {
			if a.Position == model.BelievesFalse {
				falseCount++
			}
		}
		if len(prior) == 0 || falseCount*2 <= len(prior) {
			continue
		}

		findings = append(findings, model.Finding{
			Kind: model.FindingInconsistency,
			Text: fmt.Sprintf("This claim depends on %s ('%s') which %d/%d verifiers flagged as false. If that claim fails, this one is unreliable.",
				sib.ID, quote(sib.Text, 60), falseCount, len(prior)),
			Source:    "Cross-claim dependency analysis",
			Relevance: 0.90,
		})
	}

	return findings
}

func (c *ConsistencyBot) arithmetic(claim model.Claim, siblings []model.Claim) []model.Finding {
	if claim.Kind != model.ClaimKindNumeric {
		return nil
	}

	nums := extract.Quantities(claim.Text)
	if len(nums) == 0 {
		return nil
	}
	lower := strings.ToLower(claim.Text)

	var findings []model.Finding
	for _, sib := range siblings {
		if sib.ID == claim.ID || sib.Kind != model.ClaimKindNumeric || len(extract.Quantities(sib.Text)) == 0 {
			continue
		}
		sibLower := strings.ToLower(sib.Text)

		switch {
		case strings.Contains(lower, "margin") && strings.Contains(sibLower, "revenue"):
			findings = append(findings, model.Finding{
				Kind:      model.FindingFlag,
				Text:      fmt.Sprintf("Margin claim (%s) must reconcile arithmetically with revenue claim %s (%s).", claim.Text, sib.ID, sib.Text),
				Source:    "Cross-claim arithmetic validation",
				Relevance: 0.85,
			})
		case strings.Contains(lower, "revenue") && strings.Contains(sibLower, "margin"):
			findings = append(findings, model.Finding{
				Kind:      model.FindingFlag,
				Text:      fmt.Sprintf("Revenue figure of %s implies specific margin ranges. Checking against %s (%s).", nums[0].Raw, sib.ID, sib.Text),
				Source:    "Cross-claim arithmetic validation",
				Relevance: 0.85,
			})
		}
	}
	return findings
}

func (c *ConsistencyBot) legalChain(claim model.Claim, siblings []model.Claim) []model.Finding {
	lower := strings.ToLower(claim.Text)
	extends := false
	for _, w := range chainWords {
		if strings.Contains(lower, w) {
			extends = true
			break
		}
	}
	if !extends {
		return nil
	}

	var findings []model.Finding
	for _, sib := range siblings {
		if sib.ID == claim.ID || sib.Kind != model.ClaimKindCaseCitation {
			continue
		}
		findings = append(findings, model.Finding{
			Kind:      model.FindingInconsistency,
			Text:      fmt.Sprintf("This claim appears to extend %s. If %s is fabricated, this entire chain of authority is fictional.", sib.ID, sib.ID),
			Source:    "Cross-claim dependency analysis",
			Relevance: 0.92,
		})
	}
	return findings
}

func (c *ConsistencyBot) generalizations(claim model.Claim) []model.Finding {
	lower := strings.ToLower(claim.Text)
	for _, phrase := range generalizationPhrases {
		if strings.Contains(lower, phrase) {
			return []model.Finding{{
				Kind:      model.FindingFlag,
				Text:      fmt.Sprintf("Sweeping generalization detected ('%s'). Claims of universal legal consensus are almost always overstatements; circuit splits are common.", phrase),
				Source:    "Legal reasoning analysis",
				Relevance: 0.78,
			}}
		}
	}
	return nil
}

func sharesEntity(a, b string) bool {
	words := make(map[string]struct{})
	for _, w := range properNounRe.FindAllString(a, -1) {
		words[w] = struct{}{}
	}
	for _, w := range properNounRe.FindAllString(b, -1) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}
