// Package pipeline drives a response through extraction, per-claim
// verification, risk aggregation, overall resolution and settlement.
//
// Claims are verified one at a time in extraction order. The verifiers of a
// claim run concurrently; the next claim starts only after the previous one
// is scored and recorded in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/axiom/internal/agent"
	"github.com/ppiankov/axiom/internal/extract"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/observability"
	"github.com/ppiankov/axiom/internal/risk"
	"github.com/ppiankov/axiom/internal/settle"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSubscriberGone is returned when the event sink stops accepting events
var ErrSubscriberGone = errors.New("event subscriber gone")

// ReasonNoClaims is the session reason when extraction finds nothing
const ReasonNoClaims = "No verifiable claims found in response."

// Adjudicator settles a resolved session
type Adjudicator interface {
	Settle(ctx context.Context, sessionID string, verifications []model.ClaimVerification, overall model.Action) *model.Settlement
}

// Request is one response to verify
type Request struct {
	Prompt      string             `json:"prompt"`
	Response    string             `json:"response"`
	Domain      string             `json:"domain"`
	GroundTruth map[string]float64 `json:"ground_truth,omitempty"`
}

// Pipeline orchestrates verification sessions. It is safe for concurrent use;
// each run keeps its own state.
type Pipeline struct {
	extractor       extract.Extractor
	registry        *agent.Registry
	aggregator      *risk.Aggregator
	adjudicator     Adjudicator
	verifierTimeout time.Duration
	metrics         *observability.Metrics
	logger          *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithExtractor replaces the rule extractor
func WithExtractor(e extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithAdjudicator replaces the local-only adjudicator
func WithAdjudicator(a Adjudicator) Option {
	return func(p *Pipeline) { p.adjudicator = a }
}

// WithMetrics records engine metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithVerifierTimeout overrides the per-verifier budget
func WithVerifierTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.verifierTimeout = d }
}

// New creates a pipeline over the registered verifiers
func New(cfg *model.Config, registry *agent.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:       extract.NewRuleExtractor(),
		registry:        registry,
		aggregator:      risk.NewAggregator(cfg.Risk),
		adjudicator:     settle.NewAdjudicator(cfg.Settlement),
		verifierTimeout: cfg.Verifiers.Timeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the verifier registry
func (p *Pipeline) Registry() *agent.Registry {
	return p.registry
}

// Extract runs only the extraction step
func (p *Pipeline) Extract(ctx context.Context, response, domain string) ([]model.Claim, error) {
	claims, err := p.extractor.Extract(ctx, response, domain)
	if err != nil {
		return nil, err
	}
	return normalizeClaims(claims), nil
}

// Run verifies the response to completion. On cancellation it returns the
// partial session together with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.VerificationSession, error) {
	return p.RunStreaming(ctx, req, nil)
}

// Stream runs the pipeline in the background and delivers its events on the
// returned channel, which is closed when the run ends. Cancel ctx to abandon
// the stream.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		_, err := p.RunStreaming(ctx, req, func(e Event) error {
			select {
			case events <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			p.logger.Debug("stream ended early", zap.Error(err))
		}
	}()
	return events
}

// RunStreaming verifies the response and hands every progress event to sink
// before moving on. A nil sink runs silently. The only error returns are
// cancellation and ErrSubscriberGone; every other failure is absorbed into
// the session.
func (p *Pipeline) RunStreaming(ctx context.Context, req Request, sink Sink) (*model.VerificationSession, error) {
	r := &run{
		p:       p,
		req:     req,
		session: model.NewSession(req.Prompt, req.Response, req.Domain),
		machine: newMachine(),
		sink:    sink,
		start:   time.Now(),
	}
	r.logger = p.logger.With(zap.String("session_id", r.session.ID))
	return r.execute(ctx)
}

// run is the state of one session
type run struct {
	p       *Pipeline
	req     Request
	session *model.VerificationSession
	machine *machine
	sink    Sink
	start   time.Time
	logger  *zap.Logger
}

func (r *run) emit(t EventType, payload any) error {
	if r.sink == nil {
		return nil
	}
	if err := r.sink(newEvent(t, r.session.ID, r.machine.state, payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscriberGone, err)
	}
	return nil
}

func (r *run) transition(next State) {
	if err := r.machine.to(next); err != nil {
		panic(err)
	}
}

func (r *run) finish(action model.Action) {
	r.session.SetOverallAction(action)
	r.p.metrics.SessionFinished(string(action), time.Since(r.start))
}

func (r *run) execute(ctx context.Context) (*model.VerificationSession, error) {
	s := r.session

	if err := r.emit(EventSessionCreated, SessionCreatedPayload{
		Prompt:   r.req.Prompt,
		Response: r.req.Response,
		Domain:   r.req.Domain,
	}); err != nil {
		return s, err
	}

	claims, err := r.p.extractor.Extract(ctx, r.req.Response, r.req.Domain)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s, ctxErr
		}
		return s, r.extractionFailed(err)
	}
	claims = normalizeClaims(claims)
	s.Claims = claims

	r.transition(StateClaimsExtracted)
	if err := r.emit(EventClaimsExtracted, ClaimsExtractedPayload{Claims: claims}); err != nil {
		return s, err
	}

	if len(claims) == 0 {
		s.Reason = ReasonNoClaims
		r.transition(StateResolved)
		r.finish(model.ActionAllow)
		r.logger.Info("no claims extracted, allowing response")
		return s, r.emit(EventAction, ActionPayload{Action: model.ActionAllow, Reason: s.Reason})
	}

	ledger := NewLedger()
	for _, claim := range claims {
		if err := ctx.Err(); err != nil {
			s.Reason = "cancelled before claim " + claim.ID
			r.logger.Warn("session cancelled",
				zap.Strings("scored", ledger.ClaimIDs()),
				zap.String("next_claim", claim.ID),
				zap.Error(err))
			return s, err
		}

		r.transition(StateVerifying)
		vc := agent.Context{
			Siblings:    model.OtherClaims(claims, claim.ID),
			Prior:       ledger.Snapshot(),
			Domain:      r.req.Domain,
			GroundTruth: r.req.GroundTruth,
		}

		assessments, err := r.verify(ctx, claim, vc)
		if err != nil {
			return s, err
		}

		v := r.p.aggregator.Aggregate(claim, assessments)
		if err := ledger.Append(claim.ID, v.Assessments); err != nil {
			return s, err
		}
		s.Verifications = append(s.Verifications, v)
		r.p.metrics.ClaimScored(string(v.Verdict), string(v.Action), v.RiskScore)
		r.logger.Debug("claim scored",
			zap.String("claim_id", claim.ID),
			zap.Float64("risk_score", v.RiskScore),
			zap.String("verdict", string(v.Verdict)),
			zap.String("action", string(v.Action)))

		r.transition(StateScored)
		if err := r.emit(EventRiskUpdate, RiskUpdatePayload{Verification: v}); err != nil {
			return s, err
		}
	}

	overall := risk.OverallAction(s.Verifications)
	r.transition(StateResolved)
	r.finish(overall)

	settlement := r.p.adjudicator.Settle(ctx, s.ID, s.Verifications, overall)
	s.Settlement = settlement
	r.transition(StateSettled)
	r.p.metrics.Settled(settlement.Oracle)

	r.logger.Info("session settled",
		zap.Int("claims", ledger.Len()),
		zap.String("action", string(overall)),
		zap.String("oracle", settlement.Oracle),
		zap.Duration("elapsed", time.Since(r.start)))

	return s, r.emit(EventSettlement, SettlementPayload{Settlement: *settlement, OverallAction: overall})
}

// extractionFailed blocks the session: nothing was verified
func (r *run) extractionFailed(err error) error {
	s := r.session
	s.Reason = "claim extraction failed: " + err.Error()
	r.logger.Warn("claim extraction failed, blocking response", zap.Error(err))

	r.transition(StateResolved)
	r.finish(model.ActionBlock)

	if err := r.emit(EventError, ErrorPayload{Message: s.Reason}); err != nil {
		return err
	}
	return r.emit(EventAction, ActionPayload{Action: model.ActionBlock, Reason: s.Reason})
}

// outcome of one verifier call
type outcome struct {
	index      int
	verifier   string
	assessment model.AgentAssessment
	err        error
	reason     string // error, timeout, panic
	elapsed    time.Duration
}

// verify fans the claim out to every verifier and waits for all of them.
// Quotes are emitted in completion order; the returned assessments are in
// registry order so aggregation does not depend on timing.
func (r *run) verify(ctx context.Context, claim model.Claim, vc agent.Context) ([]model.AgentAssessment, error) {
	verifiers := r.p.registry.Verifiers()
	results := make(chan outcome, len(verifiers))

	// Dispatched calls finish under their own budget even if the caller cancels
	vctx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, v := range verifiers {
		i, v := i, v
		g.Go(func() error {
			results <- r.p.assess(vctx, i, v, claim, vc)
			return nil
		})
	}

	ordered := make([]*model.AgentAssessment, len(verifiers))
	var sinkErr error
	for range verifiers {
		o := <-results

		quote := AgentQuotePayload{ClaimID: claim.ID, Verifier: o.verifier}
		if o.err != nil {
			quote.Error = o.err.Error()
			r.p.metrics.VerifierFailed(o.verifier, o.reason)
			r.logger.Warn("verifier failed, excluding from aggregation",
				zap.String("claim_id", claim.ID),
				zap.String("verifier", o.verifier),
				zap.String("reason", o.reason),
				zap.Error(o.err))
		} else {
			a := o.assessment
			ordered[o.index] = &a
			quote.Assessment = &a
			r.p.metrics.VerifierFinished(o.verifier, o.elapsed)
		}

		if sinkErr == nil {
			sinkErr = r.emit(EventAgentQuote, quote)
		}
	}
	_ = g.Wait()

	if sinkErr != nil {
		return nil, sinkErr
	}

	assessments := make([]model.AgentAssessment, 0, len(verifiers))
	for _, a := range ordered {
		if a != nil {
			assessments = append(assessments, *a)
		}
	}
	return assessments, nil
}

// assess calls one verifier under its timeout, converting panics, errors and
// malformed results into an excluded outcome
func (p *Pipeline) assess(ctx context.Context, index int, v agent.Verifier, claim model.Claim, vc agent.Context) outcome {
	name := v.Name()
	start := time.Now()

	if p.verifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.verifierTimeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("verifier panicked: %v", rec), reason: "panic"}
			}
		}()
		a, err := v.Assess(ctx, claim, vc)
		if err != nil {
			done <- outcome{err: err, reason: "error"}
			return
		}
		done <- outcome{assessment: a}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: fmt.Errorf("verifier timed out after %s: %w", p.verifierTimeout, ctx.Err()), reason: "timeout"}
	}

	o.index = index
	o.verifier = name
	o.elapsed = time.Since(start)
	if o.err != nil {
		return o
	}

	a, err := sanitize(o.assessment)
	if err != nil {
		o.err = err
		o.reason = "error"
		return o
	}
	a.Verifier = name
	a.ClaimID = claim.ID
	o.assessment = a
	return o
}

// sanitize rejects assessments that cannot be scored and bounds the rest to
// [0, 1]. The verifier's findings slice is copied, never modified.
func sanitize(a model.AgentAssessment) (model.AgentAssessment, error) {
	if a.Position != model.BelievesTrue && a.Position != model.BelievesFalse {
		return a, fmt.Errorf("verifier returned invalid position %q", a.Position)
	}
	if !isFinite(a.Confidence) {
		return a, fmt.Errorf("verifier returned non-finite confidence %v", a.Confidence)
	}
	a.Confidence = model.Clamp01(a.Confidence)

	findings := make([]model.Finding, len(a.Findings))
	for i, f := range a.Findings {
		if !isFinite(f.Relevance) {
			return a, fmt.Errorf("verifier returned non-finite relevance %v for finding %d", f.Relevance, i)
		}
		f.Relevance = model.Clamp01(f.Relevance)
		findings[i] = f
	}
	a.Findings = findings
	return a, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// normalizeClaims gives every claim a unique non-empty id and a severity
func normalizeClaims(claims []model.Claim) []model.Claim {
	out := make([]model.Claim, len(claims))
	seen := make(map[string]bool, len(claims))
	for i, c := range claims {
		if c.ID == "" || seen[c.ID] {
			for n := i + 1; ; n++ {
				c.ID = extract.ClaimID(n)
				if !seen[c.ID] {
					break
				}
			}
		}
		if c.Severity == "" {
			c.Severity = model.SeverityMedium
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}
