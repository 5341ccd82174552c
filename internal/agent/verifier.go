// Package agent holds the verifier strategies. Each verifier assesses one claim
// at a time and reports a position, a confidence and the findings behind them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/axiom/internal/model"
)

// ErrBackendUnavailable is returned by a primary backend that is not configured
// or not reachable. Verifiers treat it like any other backend failure and take
// their local path.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Verifier assesses a single claim.
//
// Implementations must not mutate anything reachable from Context. An error
// return means "no assessment"; the orchestrator drops it from aggregation.
type Verifier interface {
	Name() string
	Assess(ctx context.Context, claim model.Claim, vc Context) (model.AgentAssessment, error)
}

// Describer is implemented by verifiers that can describe their specialty
type Describer interface {
	Specialty() string
}

// Prior is a read-only view of assessments for claims that already finished
// scoring.
type Prior interface {
	Assessments(claimID string) []model.AgentAssessment
}

// PriorMap is the simplest Prior. Callers must not modify it while it is shared.
type PriorMap map[string][]model.AgentAssessment

// Assessments returns the assessments recorded for claimID
func (m PriorMap) Assessments(claimID string) []model.AgentAssessment {
	return m[claimID]
}

// Context is what a verifier may see besides the claim itself
type Context struct {
	// Siblings are all other claims of the session in extraction order
	Siblings []model.Claim

	// Prior holds assessments of claims scored before this one
	Prior Prior

	// Domain tag of the response ("finance", "legal", ...)
	Domain string

	// GroundTruth is optional structured data (e.g. "actual_pct")
	GroundTruth map[string]float64
}

// PriorAssessments is nil-safe access to vc.Prior
func (vc Context) PriorAssessments(claimID string) []model.AgentAssessment {
	if vc.Prior == nil {
		return nil
	}
	return vc.Prior.Assessments(claimID)
}

// Registry maps verifier names to implementations, in registration order.
type Registry struct {
	verifiers []Verifier
	byName    map[string]Verifier
}

// NewRegistry registers verifiers. Names must be unique and non-empty.
func NewRegistry(verifiers ...Verifier) (*Registry, error) {
	r := &Registry{byName: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a verifier
func (r *Registry) Register(v Verifier) error {
	if v == nil || v.Name() == "" {
		return fmt.Errorf("register verifier: empty name")
	}
	if _, dup := r.byName[v.Name()]; dup {
		return fmt.Errorf("register verifier: duplicate name %q", v.Name())
	}
	r.verifiers = append(r.verifiers, v)
	r.byName[v.Name()] = v
	return nil
}

// Verifiers returns the registered verifiers in registration order
func (r *Registry) Verifiers() []Verifier {
	out := make([]Verifier, len(r.verifiers))
	copy(out, r.verifiers)
	return out
}

// Get looks up a verifier by name
func (r *Registry) Get(name string) (Verifier, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.verifiers))
	for i, v := range r.verifiers {
		names[i] = v.Name()
	}
	return names
}

// Len returns the number of registered verifiers
func (r *Registry) Len() int {
	return len(r.verifiers)
}

// newAssessment fills the common fields and stamps the latency since start
func newAssessment(name string, claim model.Claim, start time.Time, pos model.Position, confidence float64, summary string, findings []model.Finding) model.AgentAssessment {
	if findings == nil {
		findings = []model.Finding{}
	}
	return model.AgentAssessment{
		Verifier:   name,
		ClaimID:    claim.ID,
		Position:   pos,
		Confidence: model.Clamp01(confidence),
		Summary:    summary,
		Findings:   findings,
		LatencyMs:  math.Round(float64(time.Since(start).Microseconds())/100) / 10,
	}
}

func quote(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
