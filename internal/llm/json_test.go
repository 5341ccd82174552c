package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/axiom/internal/worker"
)

func TestDecodeJSON(t *testing.T) {
	type reply struct {
		Position   string  `json:"position"`
		Confidence float64 `json:"confidence"`
	}

	tests := []struct {
		name    string
		input   string
		want    reply
		wantErr bool
	}{
		{"plain", `{"position":"believes_true","confidence":0.8}`, reply{"believes_true", 0.8}, false},
		{"fenced", "```json\n{\"position\":\"believes_false\",\"confidence\":0.9}\n```", reply{"believes_false", 0.9}, false},
		{"prose around", `Here you go: {"position":"believes_true","confidence":0.5} hope it helps`, reply{"believes_true", 0.5}, false},
		{"no json", "I cannot answer that.", reply{}, true},
		{"truncated", `{"position": "believes_tr`, reply{}, true},
		{"wrong type", `{"confidence": "high"}`, reply{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got reply
			err := DecodeJSON(tt.input, &got)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON_Array(t *testing.T) {
	var got []int
	if err := DecodeJSON("```\n[1, 2, 3]\n```", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 elements, got %v", got)
	}
}

type countingProvider struct {
	calls int32
}

func (p *countingProvider) Name() string { return "counting" }
func (p *countingProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *countingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	atomic.AddInt32(&p.calls, 1)
	return &CompletionResponse{Text: "ok"}, nil
}

func TestWithLimiter(t *testing.T) {
	if WithLimiter(nil, worker.NewLimiter(1, 1)) != nil {
		t.Fatal("nil provider should stay nil")
	}

	inner := &countingProvider{}
	p := WithLimiter(inner, worker.NewLimiter(0.01, 1))

	if _, err := p.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Complete(ctx, CompletionRequest{}); err == nil {
		t.Fatal("expected limiter error on cancelled context")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 delegated call, got %d", inner.calls)
	}

	if _, ok := AsEmbedder(p); ok {
		t.Error("counting provider does not embed")
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{})
	if err != nil || p != nil {
		t.Fatalf("empty provider should be (nil, nil), got (%v, %v)", p, err)
	}

	if _, err := NewProvider(Config{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	p, err = NewProvider(Config{Provider: "OpenAI", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := AsEmbedder(p); !ok {
		t.Error("openai provider should embed")
	}
}
