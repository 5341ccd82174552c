package extract

import (
	"strings"

	"github.com/ppiankov/axiom/internal/model"
)

// LegalAdapter recognizes case citations and statements about the state of
// the law. Sweeping consensus language is a legal assertion even without a
// citation.
type LegalAdapter struct {
	rules         baseRules
	legalKeywords []string
}

// NewLegalAdapter creates a new legal adapter
func NewLegalAdapter() *LegalAdapter {
	return &LegalAdapter{
		rules: baseRules{events: eventKeywords},
		legalKeywords: []string{
			"consistently upheld", "consistently held", "universally recognized",
			"well-established", "well established", "settled law", "uniformly applied",
			"all circuits", "every jurisdiction", "courts have held",
			"under the law", "is legally", "statute", "immunity", "privilege",
		},
	}
}

// Name returns the adapter name
func (a *LegalAdapter) Name() string {
	return "legal"
}

// Handles legal domains
func (a *LegalAdapter) Handles(domain string) bool {
	switch domain {
	case "legal", "law", "compliance":
		return true
	}
	return false
}

// Classify puts case citations first, then legal assertions, then the shared
// rules
func (a *LegalAdapter) Classify(sentence string) (model.ClaimKind, model.Severity, bool) {
	if caseCitationRe.MatchString(sentence) {
		return model.ClaimKindCaseCitation, model.SeverityCritical, true
	}

	lower := strings.ToLower(sentence)
	for _, keyword := range a.legalKeywords {
		if strings.Contains(lower, keyword) {
			return model.ClaimKindLegalAssertion, model.SeverityHigh, true
		}
	}

	return a.rules.classify(sentence)
}
