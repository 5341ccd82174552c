package settle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/axiom/internal/llm"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReasoner struct {
	reply string
	err   error
	req   llm.CompletionRequest
}

func (f *fakeReasoner) Name() string { return "oracle-x" }
func (f *fakeReasoner) IsAvailable(context.Context) bool { return f.err == nil }
func (f *fakeReasoner) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.reply}, nil
}

func verification(id, text string, verdict model.Verdict, kinds ...model.FindingKind) model.ClaimVerification {
	findings := make([]model.Finding, 0, len(kinds))
	for _, k := range kinds {
		findings = append(findings, model.Finding{Kind: k, Text: string(k), Relevance: 0.8})
	}
	return model.ClaimVerification{
		Claim:   model.Claim{ID: id, Text: text, Kind: model.ClaimKindNumeric, Severity: model.SeverityHigh},
		Verdict: verdict,
		Assessments: []model.AgentAssessment{{
			Verifier: model.VerifierNumeric,
			ClaimID:  id,
			Position: model.BelievesTrue,
			Findings: findings,
		}},
	}
}

func TestCount(t *testing.T) {
	vs := []model.ClaimVerification{
		verification("CLM-001", "a", model.VerdictTrue, model.FindingConfirmed, model.FindingSupports, model.FindingFlag),
		verification("CLM-002", "b", model.VerdictFalse, model.FindingNotFound, model.FindingInconsistency, model.FindingPattern, model.FindingConsistent),
	}
	assert.Equal(t, Tally{Supporting: 3, Contradicting: 2, Neutral: 2}, Count(vs))
}

func TestSettle_Local(t *testing.T) {
	tests := []struct {
		name           string
		verifications  []model.ClaimVerification
		overall        model.Action
		wantConfidence float64
		wantSummary    string
		wantRec        string
	}{
		{
			name: "only false",
			verifications: []model.ClaimVerification{
				verification("CLM-001", "Acme Corp revenue grew 32% QoQ", model.VerdictFalse, model.FindingContradiction),
				verification("CLM-002", "Harrison v. Mercy General Hospital (2019)", model.VerdictUncertain),
			},
			overall:        model.ActionBlock,
			wantConfidence: 0.95,
			wantSummary:    "No claim verified TRUE: 1 of 2 failed verification. Found 1 piece(s) of contradicting evidence across all verifiers.",
			wantRec:        "Block output entirely. Rewrite these claims with verified data: Acme Corp revenue grew 32% QoQ. Flag session for human review.",
		},
		{
			name: "mixed",
			verifications: []model.ClaimVerification{
				verification("CLM-001", "NVIDIA Q4 FY2024 revenue was $22.1 billion", model.VerdictTrue, model.FindingSupports),
				verification("CLM-002", "Acme Corp revenue grew 32% QoQ", model.VerdictFalse, model.FindingContradiction),
			},
			overall:        model.ActionRewrite,
			wantConfidence: 0.90,
			wantSummary:    "1 of 2 claims are FALSE. 1 claim(s) verified TRUE. Failed claims: Acme Corp revenue grew 32% QoQ.",
			wantRec:        "Rewrite flagged claims with verified data before delivering to user.",
		},
		{
			name: "all true",
			verifications: []model.ClaimVerification{
				verification("CLM-001", "a", model.VerdictTrue, model.FindingSupports, model.FindingConfirmed),
				verification("CLM-002", "b", model.VerdictTrue, model.FindingConsistent),
			},
			overall:        model.ActionAllow,
			wantConfidence: 0.97,
			wantSummary:    "All 2 claims verified TRUE with 3 corroborating finding(s) and 0 contradicting.",
			wantRec:        "Allow output. All claims passed verification. No modifications needed.",
		},
		{
			name: "uncertain",
			verifications: []model.ClaimVerification{
				verification("CLM-001", "a", model.VerdictTrue),
				verification("CLM-002", "b", model.VerdictUncertain),
			},
			overall:        model.ActionRewrite,
			wantConfidence: 0.75,
			wantSummary:    "1 claim(s) require further review. 1 verified, 0 failed.",
			wantRec:        "Rewrite flagged claims with verified data before delivering to user. 1 claim(s) need manual verification.",
		},
	}

	adj := NewAdjudicator(model.DefaultConfig().Settlement)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := adj.Settle(context.Background(), "SES-TEST", tt.verifications, tt.overall)
			require.NotNil(t, s)
			assert.Equal(t, OracleLocal, s.Oracle)
			assert.Equal(t, "SES-TEST", s.SessionID)
			assert.Equal(t, tt.wantConfidence, s.Confidence)
			assert.Equal(t, tt.wantSummary, s.Summary)
			assert.Equal(t, tt.wantRec, s.Recommendation)
			assert.False(t, s.SettledAt.IsZero())
		})
	}
}

func TestSettle_FailedClaimsListCapped(t *testing.T) {
	long := "Acme Corp revenue grew 32% QoQ while margins expanded to 45% in the third quarter"
	var vs []model.ClaimVerification
	for _, id := range []string{"CLM-001", "CLM-002", "CLM-003", "CLM-004"} {
		vs = append(vs, verification(id, long, model.VerdictFalse))
	}
	vs = append(vs, verification("CLM-005", "ok", model.VerdictTrue))

	s := NewAdjudicator(model.SettlementConfig{}).Settle(context.Background(), "SES-1", vs, model.ActionBlock)

	clipped := clip(long, 50)
	assert.Equal(t, "4 of 5 claims are FALSE. 1 claim(s) verified TRUE. Failed claims: "+
		clipped+"; "+clipped+"; "+clipped+".", s.Summary)
}

func TestSettle_External(t *testing.T) {
	r := &fakeReasoner{reply: "```json\n{\"confidence\": 0.88, \"summary\": \"Growth figure is fabricated.\", \"recommendation\": \"Block.\"}\n```"}
	vs := []model.ClaimVerification{
		verification("CLM-001", "Acme Corp revenue grew 32% QoQ", model.VerdictFalse, model.FindingContradiction, model.FindingFlag),
	}

	adj := NewAdjudicator(model.SettlementConfig{Timeout: time.Second}, WithReasoner(r))
	s := adj.Settle(context.Background(), "SES-EXT", vs, model.ActionBlock)

	assert.Equal(t, "oracle-x", s.Oracle)
	assert.Equal(t, "oracle-x", adj.Oracle())
	assert.Equal(t, 0.88, s.Confidence)
	assert.Equal(t, "Growth figure is fabricated.", s.Summary)
	assert.Equal(t, "Block.", s.Recommendation)
	assert.Equal(t, 1, s.Contradicting)
	assert.Equal(t, 1, s.Neutral)
	assert.True(t, r.req.JSON)
	assert.Contains(t, r.req.Prompt, "SES-EXT")
	assert.Contains(t, r.req.Prompt, "Acme Corp revenue grew 32% QoQ")
	assert.Contains(t, r.req.Prompt, `"findings_count":2`)
	assert.Contains(t, r.req.Prompt, `"contradicting_findings":1`)
}

func TestSettle_ExternalFallback(t *testing.T) {
	vs := []model.ClaimVerification{
		verification("CLM-001", "a", model.VerdictTrue, model.FindingSupports),
	}
	local := NewAdjudicator(model.SettlementConfig{}).Settle(context.Background(), "SES-2", vs, model.ActionAllow)

	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"transport error", "", errors.New("connection refused")},
		{"not json", "I think it is fine", nil},
		{"missing confidence", `{"summary": "s", "recommendation": "r"}`, nil},
		{"confidence out of range", `{"confidence": 1.4, "summary": "s", "recommendation": "r"}`, nil},
		{"empty summary", `{"confidence": 0.5, "summary": " ", "recommendation": "r"}`, nil},
		{"empty recommendation", `{"confidence": 0.5, "summary": "s"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := NewAdjudicator(model.SettlementConfig{}, WithReasoner(&fakeReasoner{reply: tt.reply, err: tt.err}))
			s := adj.Settle(context.Background(), "SES-2", vs, model.ActionAllow)

			assert.Equal(t, OracleLocal, s.Oracle)
			assert.Equal(t, local.Confidence, s.Confidence)
			assert.Equal(t, local.Summary, s.Summary)
			assert.Equal(t, local.Recommendation, s.Recommendation)
			assert.Equal(t, local.Supporting, s.Supporting)
		})
	}
}
