package extract

import (
	"strings"

	"github.com/ppiankov/axiom/internal/model"
)

// FinanceAdapter adds reporting vocabulary to the shared rules: metric
// sentences with any figure are numeric, and rating or guidance changes are
// events.
type FinanceAdapter struct {
	rules   baseRules
	metrics []string
}

// NewFinanceAdapter creates a finance adapter
func NewFinanceAdapter() *FinanceAdapter {
	events := append([]string{"guided", "upgraded", "downgraded", "restated"}, eventKeywords...)
	return &FinanceAdapter{
		rules: baseRules{events: events},
		metrics: []string{
			"revenue", "earnings", "margin", "eps", "ebitda",
			"profit", "guidance", "dividend", "market cap",
		},
	}
}

// Name returns the adapter name
func (a *FinanceAdapter) Name() string {
	return "finance"
}

// Handles finance, markets and earnings domains
func (a *FinanceAdapter) Handles(domain string) bool {
	switch domain {
	case "finance", "financial", "markets", "earnings":
		return true
	}
	return false
}

// Classify applies the shared rules, then the metric vocabulary
func (a *FinanceAdapter) Classify(sentence string) (model.ClaimKind, model.Severity, bool) {
	if kind, severity, ok := a.rules.classify(sentence); ok && kind != model.ClaimKindEntity {
		return kind, severity, true
	}

	lower := strings.ToLower(sentence)
	if strings.ContainsAny(sentence, "0123456789") {
		for _, m := range a.metrics {
			if strings.Contains(lower, m) {
				return model.ClaimKindNumeric, model.SeverityMedium, true
			}
		}
	}

	return a.rules.classify(sentence)
}
