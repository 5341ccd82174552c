package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/axiom/internal/agent"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type assessFunc func(ctx context.Context, claim model.Claim, vc agent.Context) (model.AgentAssessment, error)

type funcVerifier struct {
	name  string
	fn    assessFunc
	calls atomic.Int32
}

func (f *funcVerifier) Name() string { return f.name }
func (f *funcVerifier) Assess(ctx context.Context, claim model.Claim, vc agent.Context) (model.AgentAssessment, error) {
	f.calls.Add(1)
	return f.fn(ctx, claim, vc)
}

func believes(pos model.Position, confidence float64) assessFunc {
	return func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		return model.AgentAssessment{
			Position:   pos,
			Confidence: confidence,
			Summary:    "fixed",
			Findings:   []model.Finding{{Kind: model.FindingConfirmed, Text: "ok", Relevance: 0.9}},
		}, nil
	}
}

func verifier(name string, fn assessFunc) *funcVerifier {
	return &funcVerifier{name: name, fn: fn}
}

type staticExtractor struct {
	claims []model.Claim
	err    error
}

func (e staticExtractor) Extract(context.Context, string, string) ([]model.Claim, error) {
	return e.claims, e.err
}

func claims(n int) []model.Claim {
	out := make([]model.Claim, n)
	for i := range out {
		out[i] = model.Claim{
			ID:       "",
			Text:     "Acme Corp claim",
			Kind:     model.ClaimKindEntity,
			Severity: model.SeverityMedium,
		}
	}
	return normalizeClaims(out)
}

func newTestPipeline(t *testing.T, extractor staticExtractor, verifiers ...agent.Verifier) *Pipeline {
	t.Helper()
	registry, err := agent.NewRegistry(verifiers...)
	require.NoError(t, err)
	return New(model.DefaultConfig(), registry, WithExtractor(extractor))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	failAt EventType
}

func (r *recorder) sink(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Type == r.failAt {
		return errors.New("client disconnected")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// counterValue reads one labelled counter from the metrics registry
func counterValue(t *testing.T, m *observability.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func referenceRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	cfg := model.DefaultConfig()
	registry, err := agent.NewRegistry(
		agent.NewNumericVerifier(cfg.Verifiers),
		agent.NewRetrieverAgent(cfg.Retrieval),
		agent.NewConsistencyBot(),
	)
	require.NoError(t, err)
	return registry
}

func TestRunStreaming_EndToEnd(t *testing.T) {
	metrics := observability.NewMetrics()
	p := New(model.DefaultConfig(), referenceRegistry(t), WithMetrics(metrics))

	req := Request{
		Prompt: "How did Acme do in Q3?",
		Response: "Acme Corp revenue grew 32% QoQ in Q3 2024. " +
			"NVIDIA Q4 FY2024 revenue was $22.1 billion. " +
			"Acme Corp margins expanded to 45%.",
		Domain: "finance",
	}

	rec := &recorder{}
	s, err := p.RunStreaming(context.Background(), req, rec.sink)
	require.NoError(t, err)

	require.Len(t, s.Claims, 3)
	require.Len(t, s.Verifications, 3)
	for i, v := range s.Verifications {
		assert.Equal(t, s.Claims[i].ID, v.Claim.ID, "verifications follow extraction order")
		assert.Len(t, v.Assessments, 3)
	}
	assert.Equal(t, model.VerdictFalse, s.Verifications[0].Verdict)
	require.NotNil(t, s.OverallAction)
	assert.Equal(t, model.ActionBlock, *s.OverallAction)
	require.NotNil(t, s.Settlement)
	assert.Equal(t, "local", s.Settlement.Oracle)
	assert.Equal(t, s.ID, s.Settlement.SessionID)
	assert.True(t, s.Complete())

	want := []EventType{EventSessionCreated, EventClaimsExtracted}
	for range s.Claims {
		want = append(want, EventAgentQuote, EventAgentQuote, EventAgentQuote, EventRiskUpdate)
	}
	want = append(want, EventSettlement)
	assert.Equal(t, want, rec.types())

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, StateSettled, last.State)
	assert.Equal(t, s.ID, last.SessionID)
	assert.Equal(t, StateClaimsExtracted, rec.events[1].State)

	assert.Equal(t, 1.0, counterValue(t, metrics, "axiom_sessions_total", map[string]string{"action": "block"}))
}

func TestRun_NoClaimsAllowsWithoutVerifying(t *testing.T) {
	v := verifier("V", believes(model.BelievesTrue, 0.9))
	p := newTestPipeline(t, staticExtractor{}, v)

	rec := &recorder{}
	s, err := p.RunStreaming(context.Background(), Request{Response: "hi"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, int32(0), v.calls.Load())
	require.NotNil(t, s.OverallAction)
	assert.Equal(t, model.ActionAllow, *s.OverallAction)
	assert.Equal(t, ReasonNoClaims, s.Reason)
	assert.Nil(t, s.Settlement)
	assert.Empty(t, s.Verifications)
	assert.Equal(t, []EventType{EventSessionCreated, EventClaimsExtracted, EventAction}, rec.types())
	assert.Equal(t, StateResolved, rec.events[2].State)
}

func TestRun_ExtractionFailureBlocks(t *testing.T) {
	v := verifier("V", believes(model.BelievesTrue, 0.9))
	p := newTestPipeline(t, staticExtractor{err: errors.New("backend exploded")}, v)

	rec := &recorder{}
	s, err := p.RunStreaming(context.Background(), Request{Response: "x"}, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, int32(0), v.calls.Load())
	assert.Equal(t, model.ActionBlock, *s.OverallAction)
	assert.Contains(t, s.Reason, "backend exploded")
	assert.Equal(t, []EventType{EventSessionCreated, EventError, EventAction}, rec.types())
}

func TestRun_FailedVerifiersAreExcluded(t *testing.T) {
	good := verifier("Good", believes(model.BelievesTrue, 0.9))
	failing := verifier("Failing", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		return model.AgentAssessment{}, errors.New("index offline")
	})
	panicking := verifier("Panicking", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		panic("boom")
	})
	invalid := verifier("Invalid", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		return model.AgentAssessment{Position: "maybe", Confidence: 0.5}, nil
	})

	metrics := observability.NewMetrics()
	registry, err := agent.NewRegistry(good, failing, panicking, invalid)
	require.NoError(t, err)
	p := New(model.DefaultConfig(), registry, WithExtractor(staticExtractor{claims: claims(2)}), WithMetrics(metrics))

	rec := &recorder{}
	s, err := p.RunStreaming(context.Background(), Request{}, rec.sink)
	require.NoError(t, err)

	for _, v := range s.Verifications {
		require.Len(t, v.Assessments, 1)
		assert.Equal(t, "Good", v.Assessments[0].Verifier)
		assert.Equal(t, v.Claim.ID, v.Assessments[0].ClaimID)
	}

	failed := map[string]string{}
	for _, e := range rec.events {
		if q, ok := e.Payload.(AgentQuotePayload); ok && q.Error != "" {
			failed[q.Verifier] = q.Error
			assert.Nil(t, q.Assessment)
		}
	}
	assert.Len(t, failed, 3)
	assert.Contains(t, failed["Panicking"], "panicked")
	assert.Contains(t, failed["Invalid"], "invalid position")
	assert.Equal(t, 2.0, counterValue(t, metrics, "axiom_verifier_failures_total", map[string]string{"verifier": "Panicking", "reason": "panic"}))
}

func TestRun_AllVerifiersFailGivesNoEvidenceVerdict(t *testing.T) {
	failing := verifier("Failing", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		return model.AgentAssessment{}, errors.New("down")
	})
	p := newTestPipeline(t, staticExtractor{claims: claims(1)}, failing)

	s, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)

	v := s.Verifications[0]
	assert.Equal(t, model.VerdictUncertain, v.Verdict)
	assert.Equal(t, model.ActionBlock, v.Action)
	assert.Equal(t, 0.50, v.RiskScore)
	assert.NotNil(t, s.Settlement)
}

func TestRun_NonFiniteAssessmentsAreExcluded(t *testing.T) {
	good := verifier("Good", believes(model.BelievesTrue, 0.9))
	nanConfidence := verifier("NaNConfidence", believes(model.BelievesTrue, math.NaN()))
	infRelevance := verifier("InfRelevance", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		return model.AgentAssessment{
			Position:   model.BelievesFalse,
			Confidence: 0.8,
			Findings:   []model.Finding{{Kind: model.FindingContradiction, Relevance: math.Inf(1)}},
		}, nil
	})
	outOfRange := verifier("OutOfRange", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		return model.AgentAssessment{
			Position:   model.BelievesTrue,
			Confidence: 1.7,
			Findings:   []model.Finding{{Kind: model.FindingSupports, Relevance: -0.3}},
		}, nil
	})

	metrics := observability.NewMetrics()
	registry, err := agent.NewRegistry(good, nanConfidence, infRelevance, outOfRange)
	require.NoError(t, err)
	p := New(model.DefaultConfig(), registry, WithExtractor(staticExtractor{claims: claims(1)}), WithMetrics(metrics))

	s, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)

	v := s.Verifications[0]
	require.Len(t, v.Assessments, 2)
	assert.Equal(t, "Good", v.Assessments[0].Verifier)
	assert.Equal(t, "OutOfRange", v.Assessments[1].Verifier)
	assert.Equal(t, 1.0, v.Assessments[1].Confidence)
	assert.Equal(t, 0.0, v.Assessments[1].Findings[0].Relevance)
	assert.False(t, math.IsNaN(v.RiskScore))
	assert.GreaterOrEqual(t, v.RiskScore, 0.0)
	assert.LessOrEqual(t, v.RiskScore, 1.0)

	for _, name := range []string{"NaNConfidence", "InfRelevance"} {
		assert.Equal(t, 1.0, counterValue(t, metrics, "axiom_verifier_failures_total", map[string]string{"verifier": name, "reason": "error"}))
	}

	_, err = json.Marshal(s)
	assert.NoError(t, err, "scored sessions must always serialize")
}

func TestRun_VerifierTimeout(t *testing.T) {
	slow := verifier("Slow", func(ctx context.Context, _ model.Claim, _ agent.Context) (model.AgentAssessment, error) {
		<-ctx.Done()
		return model.AgentAssessment{}, ctx.Err()
	})
	fast := verifier("Fast", believes(model.BelievesTrue, 0.9))

	registry, err := agent.NewRegistry(slow, fast)
	require.NoError(t, err)
	p := New(model.DefaultConfig(), registry,
		WithExtractor(staticExtractor{claims: claims(1)}),
		WithVerifierTimeout(20*time.Millisecond))

	s, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, s.Verifications[0].Assessments, 1)
	assert.Equal(t, "Fast", s.Verifications[0].Assessments[0].Verifier)
}

func TestRun_VerifiersOfOneClaimRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := func(ctx context.Context, _ model.Claim, _ agent.Context) (model.AgentAssessment, error) {
		arrived.Done()
		waited := make(chan struct{})
		go func() { arrived.Wait(); close(waited) }()
		select {
		case <-waited:
			return model.AgentAssessment{Position: model.BelievesTrue, Confidence: 0.9}, nil
		case <-ctx.Done():
			return model.AgentAssessment{}, ctx.Err()
		}
	}

	registry, err := agent.NewRegistry(verifier("A", barrier), verifier("B", barrier))
	require.NoError(t, err)
	p := New(model.DefaultConfig(), registry,
		WithExtractor(staticExtractor{claims: claims(1)}),
		WithVerifierTimeout(2*time.Second))

	s, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Len(t, s.Verifications[0].Assessments, 2, "both verifiers met at the barrier")
}

func TestRun_PriorOnlyHoldsEarlierClaims(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	spy := verifier("Spy", func(_ context.Context, claim model.Claim, vc agent.Context) (model.AgentAssessment, error) {
		var known []string
		for _, sib := range vc.Siblings {
			if len(vc.PriorAssessments(sib.ID)) > 0 {
				known = append(known, sib.ID)
			}
		}
		mu.Lock()
		seen[claim.ID] = known
		mu.Unlock()
		assert.Len(t, vc.Siblings, 2)
		return model.AgentAssessment{Position: model.BelievesFalse, Confidence: 0.6}, nil
	})

	p := newTestPipeline(t, staticExtractor{claims: claims(3)}, spy)
	_, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Empty(t, seen["CLM-001"])
	assert.Equal(t, []string{"CLM-001"}, seen["CLM-002"])
	assert.Equal(t, []string{"CLM-001", "CLM-002"}, seen["CLM-003"])
}

func TestRun_CancelStopsSchedulingClaims(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := verifier("Cancelling", func(context.Context, model.Claim, agent.Context) (model.AgentAssessment, error) {
		cancel()
		return model.AgentAssessment{Position: model.BelievesTrue, Confidence: 0.9}, nil
	})
	core, logs := observer.New(zap.WarnLevel)
	registry, err := agent.NewRegistry(v)
	require.NoError(t, err)
	p := New(model.DefaultConfig(), registry,
		WithExtractor(staticExtractor{claims: claims(3)}),
		WithLogger(zap.New(core)))

	s, err := p.Run(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), v.calls.Load())
	assert.Len(t, s.Verifications, 1, "the dispatched claim still completes")
	assert.Nil(t, s.Settlement)

	entries := logs.FilterMessage("session cancelled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, []interface{}{"CLM-001"}, fields["scored"])
	assert.Equal(t, "CLM-002", fields["next_claim"])
}

func TestRunStreaming_SubscriberGone(t *testing.T) {
	v := verifier("V", believes(model.BelievesTrue, 0.9))
	p := newTestPipeline(t, staticExtractor{claims: claims(2)}, v)

	rec := &recorder{failAt: EventClaimsExtracted}
	_, err := p.RunStreaming(context.Background(), Request{}, rec.sink)
	assert.ErrorIs(t, err, ErrSubscriberGone)
	assert.Equal(t, int32(0), v.calls.Load())

	rec = &recorder{failAt: EventAgentQuote}
	_, err = p.RunStreaming(context.Background(), Request{}, rec.sink)
	assert.ErrorIs(t, err, ErrSubscriberGone)
}

func TestStream(t *testing.T) {
	p := newTestPipeline(t, staticExtractor{claims: claims(2)},
		verifier("A", believes(model.BelievesTrue, 0.95)),
		verifier("B", believes(model.BelievesTrue, 0.9)))

	var types []EventType
	for e := range p.Stream(context.Background(), Request{}) {
		types = append(types, e.Type)
	}

	require.NotEmpty(t, types)
	assert.Equal(t, EventSessionCreated, types[0])
	assert.Equal(t, EventSettlement, types[len(types)-1])
	assert.Len(t, types, 2+2*3+1)
}

func TestStream_AbandonedByConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPipeline(t, staticExtractor{claims: claims(5)}, verifier("A", believes(model.BelievesTrue, 0.9)))

	events := p.Stream(ctx, Request{})
	first := <-events
	assert.Equal(t, EventSessionCreated, first.Type)
	cancel()

	// channel is closed once the run notices
	for range events {
	}
}

type capturingAdjudicator struct {
	overall model.Action
	count   int
}

func (c *capturingAdjudicator) Settle(_ context.Context, sessionID string, vs []model.ClaimVerification, overall model.Action) *model.Settlement {
	c.overall = overall
	c.count = len(vs)
	return &model.Settlement{SessionID: sessionID, Oracle: "capture"}
}

func TestRun_UsesAdjudicator(t *testing.T) {
	adj := &capturingAdjudicator{}
	registry, err := agent.NewRegistry(verifier("A", believes(model.BelievesTrue, 0.99)))
	require.NoError(t, err)
	p := New(model.DefaultConfig(), registry, WithExtractor(staticExtractor{claims: claims(2)}), WithAdjudicator(adj))

	s, err := p.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "capture", s.Settlement.Oracle)
	assert.Equal(t, 2, adj.count)
	assert.Equal(t, *s.OverallAction, adj.overall)
}

func TestNormalizeClaims(t *testing.T) {
	in := []model.Claim{
		{ID: "CLM-002", Text: "a"},
		{ID: "", Text: "b", Severity: model.SeverityHigh},
		{ID: "CLM-002", Text: "c"},
	}
	out := normalizeClaims(in)

	assert.Equal(t, "CLM-002", out[0].ID)
	assert.Equal(t, model.SeverityMedium, out[0].Severity)
	assert.Equal(t, "CLM-003", out[1].ID)
	assert.Equal(t, model.SeverityHigh, out[1].Severity)
	assert.Equal(t, "CLM-004", out[2].ID)
	assert.Equal(t, "", in[1].ID, "input is not modified")
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Append("CLM-001", []model.AgentAssessment{{Verifier: "A"}}))
	snap := l.Snapshot()

	require.NoError(t, l.Append("CLM-002", nil))
	assert.Error(t, l.Append("CLM-001", nil))

	assert.Len(t, snap, 1, "snapshots do not see later appends")
	assert.Len(t, snap.Assessments("CLM-001"), 1)
	assert.Equal(t, []string{"CLM-001", "CLM-002"}, l.ClaimIDs())
	assert.Equal(t, 2, l.Len())
}

func TestMachine(t *testing.T) {
	m := newMachine()
	for _, s := range []State{StateClaimsExtracted, StateVerifying, StateScored, StateVerifying, StateScored, StateResolved, StateSettled} {
		require.NoError(t, m.to(s))
	}
	assert.Error(t, m.to(StateVerifying))

	m = newMachine()
	assert.Error(t, m.to(StateScored))
}
