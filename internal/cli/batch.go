package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/pipeline"
	"github.com/ppiankov/axiom/internal/worker"
	"github.com/spf13/cobra"
)

var (
	batchConcurrency int
	batchOutputDir   string
	batchTimeout     time.Duration
	batchFailOn      string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Verify many responses from a YAML file",
	Long: `Batch verifies independent responses concurrently. Each session still
processes its own claims strictly in order.

The file is a YAML list (or a mapping with an "items" key) of:

  - id: q3-summary            # optional, defaults to ITEM-001, ...
    prompt: Summarize Acme Q3
    response: Acme Corp revenue grew 32% QoQ in Q3 2024.
    domain: finance           # optional
    ground_truth:             # optional
      actual_pct: 12.5

Example:
  axiom batch requests.yaml --concurrency 8 --output sessions/`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "number of concurrent sessions (default from config)")
	batchCmd.Flags().StringVarP(&batchOutputDir, "output", "o", "", "write one <id>.json session per item to this directory")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "overall batch timeout")
	batchCmd.Flags().StringVar(&batchFailOn, "fail-on", "", "exit non-zero when any item is at least this strict (rewrite, block)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	failOn, err := parseFailOn(batchFailOn)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchConcurrency <= 0 {
		batchConcurrency = cfg.Concurrency.BatchWorkers
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "\n%s\n  Axiom Batch Verification\n%s\n\n", rule, rule)
	fmt.Fprintf(errOut, "  Input file:   %s\n", file)
	fmt.Fprintf(errOut, "  Workers:      %d\n", batchConcurrency)
	if batchOutputDir != "" {
		fmt.Fprintf(errOut, "  Output dir:   %s\n", batchOutputDir)
		if err := os.MkdirAll(batchOutputDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	fmt.Fprintln(errOut)

	processor := worker.NewBatchProcessor(sessionVerifier(eng.pipeline, cfg), batchConcurrency)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	counts := map[model.Action]int{}
	failures := 0
	worst := model.ActionAllow
	for _, r := range results {
		if r.Error != nil {
			failures++
			fmt.Fprintf(errOut, "✗ %s: %v\n", r.Item.ID, r.Error)
			continue
		}
		action := model.ActionAllow
		if r.Session.OverallAction != nil {
			action = *r.Session.OverallAction
		}
		counts[action]++
		worst = worst.Stricter(action)
		fmt.Fprintf(errOut, "✓ %-20s %-8s %d claim(s)  %s\n", r.Item.ID, action, len(r.Session.Claims), r.Session.ID)

		if batchOutputDir != "" {
			if err := writeSession(batchOutputDir, r.Item.ID, r.Session); err != nil {
				fmt.Fprintf(errOut, "✗ %s: %v\n", r.Item.ID, err)
			}
		}
	}

	fmt.Fprintf(errOut, "\n%s\n  Batch Complete\n%s\n\n", rule, rule)
	fmt.Fprintf(errOut, "  Total:     %d\n", len(results))
	fmt.Fprintf(errOut, "  Allow:     %d\n", counts[model.ActionAllow])
	fmt.Fprintf(errOut, "  Rewrite:   %d\n", counts[model.ActionRewrite])
	fmt.Fprintf(errOut, "  Block:     %d\n", counts[model.ActionBlock])
	fmt.Fprintf(errOut, "  Failures:  %d\n\n", failures)

	if failures > 0 {
		return fmt.Errorf("%d of %d item(s) failed", failures, len(results))
	}
	if failOn != "" && len(results) > 0 && worst.Rank() >= failOn.Rank() {
		return fmt.Errorf("%w: strictest action %s", errActionThreshold, worst)
	}
	return nil
}

// sessionVerifier adapts the pipeline to the batch processor
func sessionVerifier(p *pipeline.Pipeline, cfg *model.Config) worker.Verifier {
	return worker.VerifierFunc(func(ctx context.Context, item worker.BatchItem) (*model.VerificationSession, error) {
		return p.Run(ctx, pipeline.Request{
			Prompt:      item.Prompt,
			Response:    item.Response,
			Domain:      domainOrDefault(item.Domain, cfg),
			GroundTruth: item.GroundTruth,
		})
	})
}

func writeSession(dir, id string, s *model.VerificationSession) (err error) {
	path := filepath.Join(dir, sanitizeFilename(id)+".json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close session file: %w", closeErr)
		}
	}()
	return writeJSON(f, s)
}

// sanitizeFilename makes an item id safe to use as a file name
func sanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		case ' ':
			return '-'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		s = "item"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
