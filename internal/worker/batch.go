package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/axiom/internal/model"
	"gopkg.in/yaml.v3"
)

// ErrEmptyResponse is returned for batch items with nothing to verify
var ErrEmptyResponse = errors.New("batch item has empty response")

// BatchItem is one prompt/response pair in a batch request file
type BatchItem struct {
	ID          string             `yaml:"id" json:"id"`
	Prompt      string             `yaml:"prompt" json:"prompt"`
	Response    string             `yaml:"response" json:"response"`
	Domain      string             `yaml:"domain,omitempty" json:"domain,omitempty"`
	GroundTruth map[string]float64 `yaml:"ground_truth,omitempty" json:"ground_truth,omitempty"`
}

type batchFile struct {
	Items []BatchItem `yaml:"items"`
}

// Verifier runs the verification pipeline for one batch item
type Verifier interface {
	VerifyItem(ctx context.Context, item BatchItem) (*model.VerificationSession, error)
}

// VerifierFunc adapts a function to the Verifier interface
type VerifierFunc func(ctx context.Context, item BatchItem) (*model.VerificationSession, error)

// VerifyItem calls f
func (f VerifierFunc) VerifyItem(ctx context.Context, item BatchItem) (*model.VerificationSession, error) {
	return f(ctx, item)
}

// VerifyJob wraps one batch item for the pool
type VerifyJob struct {
	Index    int
	Item     BatchItem
	Verifier Verifier
}

// Execute executes the verification job. A cancelled job does not call the
// verifier.
func (j *VerifyJob) Execute(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return &VerifyResult{Index: j.Index, Item: j.Item, Error: err}
	}
	session, err := j.Verifier.VerifyItem(ctx, j.Item)
	return &VerifyResult{
		Index:   j.Index,
		Item:    j.Item,
		Session: session,
		Error:   err,
	}
}

// VerifyResult represents the result of a verification job
type VerifyResult struct {
	Index   int
	Item    BatchItem
	Session *model.VerificationSession
	Error   error
}

// GetError returns the error from the verification result
func (r *VerifyResult) GetError() error {
	return r.Error
}

// BatchProcessor verifies many items concurrently
type BatchProcessor struct {
	verifier    Verifier
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(verifier Verifier, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		verifier:    verifier,
		concurrency: concurrency,
	}
}

// Process verifies items concurrently. Results are returned in input order.
func (b *BatchProcessor) Process(ctx context.Context, items []BatchItem) []*VerifyResult {
	out := make([]*VerifyResult, len(items))
	if len(items) == 0 {
		return out
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, item := range items {
		if !pool.Submit(&VerifyJob{Index: i, Item: item, Verifier: b.verifier}) {
			break
		}
	}

	// A cancelled batch does not start the items still queued
	var results []Result
	if ctx.Err() != nil {
		results = pool.Shutdown()
	} else {
		results = pool.Wait()
	}

	for _, result := range results {
		r := result.(*VerifyResult)
		out[r.Index] = r
	}

	for i, r := range out {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out[i] = &VerifyResult{Index: i, Item: items[i], Error: err}
		}
	}

	return out
}

// ProcessFile reads a batch request file and verifies its items
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*VerifyResult, error) {
	items, err := ReadBatchFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}

	return b.Process(ctx, items), nil
}

// ReadBatchFile reads batch items from a YAML (or JSON) file. The document may
// be a bare list or a mapping with an "items" key. Items without an ID get
// ITEM-001, ITEM-002, ... in file order.
func ReadBatchFile(filePath string) ([]BatchItem, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return ParseBatch(data)
}

// ParseBatch decodes batch items from YAML bytes
func ParseBatch(data []byte) ([]BatchItem, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var items []BatchItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		var wrapped batchFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse batch: %w", err)
		}
		items = wrapped.Items
	}

	seen := make(map[string]bool, len(items))
	for i := range items {
		if strings.TrimSpace(items[i].Response) == "" {
			return nil, fmt.Errorf("item %d: %w", i+1, ErrEmptyResponse)
		}
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("ITEM-%03d", i+1)
		}
		if seen[items[i].ID] {
			return nil, fmt.Errorf("item %d: duplicate id %q", i+1, items[i].ID)
		}
		seen[items[i].ID] = true
	}

	return items, nil
}
