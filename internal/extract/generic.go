package extract

import "github.com/ppiankov/axiom/internal/model"

// GenericAdapter is the fallback adapter for unknown domains
type GenericAdapter struct {
	rules baseRules
}

// NewGenericAdapter creates a new generic adapter
func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{rules: baseRules{events: eventKeywords}}
}

// Name returns the adapter name
func (a *GenericAdapter) Name() string {
	return "generic"
}

// Handles always returns true (fallback adapter)
func (a *GenericAdapter) Handles(string) bool {
	return true
}

// Classify applies the shared rules
func (a *GenericAdapter) Classify(sentence string) (model.ClaimKind, model.Severity, bool) {
	return a.rules.classify(sentence)
}
