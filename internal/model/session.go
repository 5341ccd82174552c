package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is the aggregated truth call for one claim
type Verdict string

const (
	VerdictTrue      Verdict = "true"
	VerdictFalse     Verdict = "false"
	VerdictUncertain Verdict = "uncertain"
)

// Action is the handling decision for a claim or a whole response.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionRewrite Action = "rewrite"
	ActionBlock   Action = "block"
)

// Rank orders actions by strictness: allow < rewrite < block.
func (a Action) Rank() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionRewrite:
		return 1
	default:
		return 2
	}
}

// Stricter returns the stricter of a and b.
func (a Action) Stricter(b Action) Action {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ClaimVerification is the aggregator's output for one claim.
// It is created once and never mutated.
type ClaimVerification struct {
	Claim       Claim             `json:"claim"`
	RiskScore   float64           `json:"risk_score"` // 1.0 = certainly true
	Verdict     Verdict           `json:"verdict"`
	Action      Action            `json:"action"`
	Rationale   string            `json:"rationale"`
	Assessments []AgentAssessment `json:"assessments"`
}

// Settlement is the session-level adjudication.
type Settlement struct {
	SessionID      string    `json:"session_id"`
	Oracle         string    `json:"oracle"` // Backend that produced the narrative ("local" for the tally generator)
	Confidence     float64   `json:"confidence"`
	Summary        string    `json:"summary"`
	Supporting     int       `json:"evidence_supporting"`
	Contradicting  int       `json:"evidence_contradicting"`
	Neutral        int       `json:"evidence_neutral"`
	Recommendation string    `json:"recommendation"`
	SettledAt      time.Time `json:"settled_at"`
}

// VerificationSession is the aggregate root of one pipeline run.
type VerificationSession struct {
	ID            string              `json:"id"`
	Prompt        string              `json:"prompt"`
	Response      string              `json:"response"`
	Domain        string              `json:"domain"`
	Claims        []Claim             `json:"claims"`
	Verifications []ClaimVerification `json:"verifications"`
	Settlement    *Settlement         `json:"settlement,omitempty"`
	OverallAction *Action             `json:"overall_action,omitempty"`
	Reason        string              `json:"reason,omitempty"` // Why the run terminated early, if it did
	CreatedAt     time.Time           `json:"created_at"`
}

// NewSession creates an empty session with a fresh id.
func NewSession(prompt, response, domain string) *VerificationSession {
	return &VerificationSession{
		ID:            NewSessionID(),
		Prompt:        prompt,
		Response:      response,
		Domain:        domain,
		Claims:        []Claim{},
		Verifications: []ClaimVerification{},
		CreatedAt:     time.Now().UTC(),
	}
}

// NewSessionID returns an id of the form "SES-1A2B3C4D".
func NewSessionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "SES-" + strings.ToUpper(id[:8])
}

// SetOverallAction records the response-level action.
func (s *VerificationSession) SetOverallAction(a Action) {
	s.OverallAction = &a
}

// Complete reports whether the session has been settled.
func (s *VerificationSession) Complete() bool {
	return s.Settlement != nil
}
