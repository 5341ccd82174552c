package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/axiom/internal/model"
)

// EventType names a progress event
type EventType string

const (
	EventSessionCreated  EventType = "session_created"
	EventClaimsExtracted EventType = "claims_extracted"
	EventAgentQuote      EventType = "agent_quote"
	EventRiskUpdate      EventType = "risk_update"
	EventSettlement      EventType = "settlement"
	EventAction          EventType = "action"
	EventError           EventType = "error"
)

// Event is one progress notification of a streaming run
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events in order. Returning an error stops the run.
type Sink func(Event) error

// SessionCreatedPayload opens the stream
type SessionCreatedPayload struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Domain   string `json:"domain"`
}

// ClaimsExtractedPayload lists the claims in processing order
type ClaimsExtractedPayload struct {
	Claims []model.Claim `json:"claims"`
}

// AgentQuotePayload reports one finished verifier call. Assessment is nil and
// Error set when the verifier was excluded.
type AgentQuotePayload struct {
	ClaimID    string                 `json:"claim_id"`
	Verifier   string                 `json:"verifier"`
	Assessment *model.AgentAssessment `json:"assessment,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// RiskUpdatePayload carries a scored claim
type RiskUpdatePayload struct {
	Verification model.ClaimVerification `json:"verification"`
}

// SettlementPayload closes a settled stream
type SettlementPayload struct {
	Settlement    model.Settlement `json:"settlement"`
	OverallAction model.Action     `json:"overall_action"`
}

// ActionPayload closes a stream that ended before verification
type ActionPayload struct {
	Action model.Action `json:"action"`
	Reason string       `json:"reason"`
}

// ErrorPayload describes a failure the session recovered from
type ErrorPayload struct {
	Message string `json:"message"`
}

func newEvent(t EventType, sessionID string, state State, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SessionID: sessionID,
		State:     state,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorEvent builds a standalone error event for failures outside a session,
// such as a malformed request on a stream
func ErrorEvent(message string) Event {
	return newEvent(EventError, "", "", ErrorPayload{Message: message})
}
