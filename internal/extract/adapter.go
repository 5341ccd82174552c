package extract

import (
	"regexp"
	"strings"

	"github.com/ppiankov/axiom/internal/model"
)

// Adapter classifies sentences for one domain
type Adapter interface {
	// Name returns the adapter name
	Name() string

	// Handles reports whether the adapter serves the domain tag
	Handles(domain string) bool

	// Classify returns the claim kind and severity of a sentence, or false
	// when the sentence is not a verifiable claim
	Classify(sentence string) (model.ClaimKind, model.Severity, bool)
}

// Registry picks the adapter for a domain tag
type Registry struct {
	adapters []Adapter
	generic  Adapter
}

// NewRegistry creates a registry with the finance and legal adapters and the
// generic fallback
func NewRegistry() *Registry {
	registry := &Registry{}

	registry.Register(NewFinanceAdapter())
	registry.Register(NewLegalAdapter())

	registry.generic = NewGenericAdapter()

	return registry
}

// Register adds an adapter. Earlier registrations win.
func (r *Registry) Register(adapter Adapter) {
	r.adapters = append(r.adapters, adapter)
}

// FindAdapter returns the first adapter that handles domain, or the generic one
func (r *Registry) FindAdapter(domain string) Adapter {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, adapter := range r.adapters {
		if adapter.Handles(domain) {
			return adapter
		}
	}
	return r.generic
}

// Names lists the registered adapters followed by the fallback
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters)+1)
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	return append(names, r.generic.Name())
}

var (
	caseCitationRe = regexp.MustCompile(`([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\s+v\.\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*(?:\s+(?:Corp|Inc|LLC|LLP|Hospital|Center|Medical|County)\.?)?)\s*\((\d{4})\)`)
	multiplierRe   = regexp.MustCompile(`\b\d+(?:\.\d+)?x\b`)
	properNounsRe  = regexp.MustCompile(`[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+`)
)

var eventKeywords = []string{"announced", "launched", "acquired", "merged", "filed", "settled", "signed", "approved"}

// baseRules is the shared classification: case citation, numeric, event,
// entity, in that order.
type baseRules struct {
	events []string
}

func (b baseRules) classify(sentence string) (model.ClaimKind, model.Severity, bool) {
	if caseCitationRe.MatchString(sentence) {
		return model.ClaimKindCaseCitation, model.SeverityCritical, true
	}

	if quantities := Quantities(sentence); hasMagnitude(quantities) || multiplierRe.MatchString(sentence) {
		severity := model.SeverityMedium
		for _, q := range quantities {
			if q.Unit == UnitPercent {
				if q.Value > 20 {
					severity = model.SeverityHigh
				}
				break
			}
		}
		for _, q := range quantities {
			if q.Unit == UnitBillion {
				severity = model.SeverityHigh
			}
		}
		return model.ClaimKindNumeric, severity, true
	}

	lower := strings.ToLower(sentence)
	for _, kw := range b.events {
		if strings.Contains(lower, kw) {
			return model.ClaimKindEvent, model.SeverityHigh, true
		}
	}

	if properNounsRe.MatchString(sentence) {
		return model.ClaimKindEntity, model.SeverityLow, true
	}

	return "", "", false
}

// hasMagnitude ignores plain grouped figures such as years or head counts
func hasMagnitude(qs []Quantity) bool {
	for _, q := range qs {
		if q.Unit != UnitNumber {
			return true
		}
	}
	return false
}
