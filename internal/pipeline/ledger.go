package pipeline

import (
	"fmt"

	"github.com/ppiankov/axiom/internal/agent"
	"github.com/ppiankov/axiom/internal/model"
)

// Ledger is the append-only record of assessments for claims that finished
// scoring. Only the orchestrator goroutine writes to it; verifiers see
// snapshots.
type Ledger struct {
	entries map[string][]model.AgentAssessment
	order   []string
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string][]model.AgentAssessment)}
}

// Append records the assessments of a scored claim. A claim can be recorded
// once.
func (l *Ledger) Append(claimID string, assessments []model.AgentAssessment) error {
	if _, ok := l.entries[claimID]; ok {
		return fmt.Errorf("ledger: claim %s already recorded", claimID)
	}
	entry := make([]model.AgentAssessment, len(assessments))
	copy(entry, assessments)
	l.entries[claimID] = entry
	l.order = append(l.order, claimID)
	return nil
}

// Snapshot returns a copy that later appends do not affect
func (l *Ledger) Snapshot() agent.PriorMap {
	snap := make(agent.PriorMap, len(l.entries))
	for id, as := range l.entries {
		snap[id] = as
	}
	return snap
}

// ClaimIDs returns recorded claim ids in append order
func (l *Ledger) ClaimIDs() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Len returns the number of recorded claims
func (l *Ledger) Len() int {
	return len(l.order)
}
