package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/axiom/internal/llm"
	"github.com/ppiankov/axiom/internal/model"
	"go.uber.org/zap"
)

const extractionSystemPrompt = `You are a claim extraction engine. Given an AI-generated response, extract every verifiable factual claim.
Focus on claims that can be checked against external sources, are specific
rather than vague opinion, and are asserted rather than hedged.
Respond with a JSON object:
{"claims": [{"text": "the claim as a short declarative sentence",
             "type": "NUMERIC|ENTITY|EVENT|CASE_LAW|LEGAL|QUOTE|CAUSAL",
             "severity": "CRITICAL|HIGH|MED|LOW",
             "source_text": "exact span from the response"}]}`

// LLMExtractor asks a reasoning backend for claims and falls back to the rule
// extractor on any failure, so Extract only fails when the rules do.
type LLMExtractor struct {
	provider llm.Provider
	fallback Extractor
	timeout  time.Duration
	logger   *zap.Logger
}

// LLMOption configures an LLMExtractor
type LLMOption func(*LLMExtractor)

// WithFallback replaces the rule extractor used on failure
func WithFallback(e Extractor) LLMOption {
	return func(x *LLMExtractor) { x.fallback = e }
}

// WithTimeout bounds the backend call
func WithTimeout(d time.Duration) LLMOption {
	return func(x *LLMExtractor) { x.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) LLMOption {
	return func(x *LLMExtractor) { x.logger = l }
}

// NewLLMExtractor creates an extractor backed by provider
func NewLLMExtractor(provider llm.Provider, opts ...LLMOption) *LLMExtractor {
	x := &LLMExtractor{
		provider: provider,
		fallback: NewRuleExtractor(),
		timeout:  30 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract returns backend claims, or rule claims when the backend fails
func (x *LLMExtractor) Extract(ctx context.Context, response, domain string) ([]model.Claim, error) {
	if x.provider == nil {
		return x.fallback.Extract(ctx, response, domain)
	}

	claims, err := x.ask(ctx, response, domain)
	if err == nil {
		return claims, nil
	}
	x.logger.Warn("claim extraction backend failed, using rules",
		zap.String("backend", x.provider.Name()),
		zap.Error(err))

	return x.fallback.Extract(ctx, response, domain)
}

type extractedClaim struct {
	Text       string `json:"text"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	SourceText string `json:"source_text"`
}

func (x *LLMExtractor) ask(ctx context.Context, response, domain string) ([]model.Claim, error) {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	text, err := PlainText(response)
	if err != nil {
		return nil, err
	}

	resp, err := x.provider.Complete(ctx, llm.CompletionRequest{
		System: extractionSystemPrompt,
		Prompt: fmt.Sprintf("Domain: %s\n\nText to analyze:\n%s", domain, text),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	items, err := decodeClaims(resp.Text)
	if err != nil {
		return nil, err
	}

	claims := make([]model.Claim, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			return nil, fmt.Errorf("%w: claim %d has no text", llm.ErrMalformedResponse, i+1)
		}

		kind := model.ClaimKindNumeric
		if item.Type != "" {
			if kind, err = model.ParseClaimKind(item.Type); err != nil {
				return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
			}
		}
		severity := model.SeverityMedium
		if item.Severity != "" {
			if severity, err = model.ParseSeverity(item.Severity); err != nil {
				return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
			}
		}
		span := item.SourceText
		if span == "" {
			span = item.Text
		}

		claims = append(claims, model.Claim{
			ID:         ClaimID(i + 1),
			Text:       strings.TrimSpace(item.Text),
			Kind:       kind,
			Severity:   severity,
			SourceSpan: span,
		})
	}
	return claims, nil
}

// decodeClaims accepts {"claims": [...]} or a bare array
func decodeClaims(text string) ([]extractedClaim, error) {
	var wrapped struct {
		Claims *[]extractedClaim `json:"claims"`
	}
	if err := llm.DecodeJSON(text, &wrapped); err == nil && wrapped.Claims != nil {
		return *wrapped.Claims, nil
	}

	var items []extractedClaim
	if err := llm.DecodeJSON(text, &items); err != nil {
		return nil, err
	}
	return items, nil
}

var (
	_ Extractor = (*RuleExtractor)(nil)
	_ Extractor = (*LLMExtractor)(nil)
)
