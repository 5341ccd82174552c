package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/pipeline"
	"github.com/ppiankov/axiom/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errActionThreshold is returned when --fail-on is reached
var errActionThreshold = errors.New("response did not pass verification")

var (
	verifyResponse    string
	verifyFile        string
	verifyURL         string
	verifyPrompt      string
	verifyDomain      string
	verifyGroundTruth map[string]string
	verifyJSON        bool
	verifyStream      bool
	verifyFailOn      string
	verifyTimeout     time.Duration
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the factual claims of one AI response",
	Long: `Verify extracts the claims of a response, runs every verifier on each
claim, scores them and prints the action for the whole response.

The response comes from exactly one of --response, --file (- for stdin)
or --url.

Example:
  axiom verify --response "Acme Corp revenue grew 32% QoQ in Q3 2024."
  axiom verify --file answer.txt --domain legal --json
  axiom verify --url https://example.com/report --stream
  axiom verify --file answer.txt --ground-truth actual_pct=12.5 --fail-on rewrite`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyResponse, "response", "", "response text to verify")
	verifyCmd.Flags().StringVarP(&verifyFile, "file", "f", "", "read the response from a file (- for stdin)")
	verifyCmd.Flags().StringVar(&verifyURL, "url", "", "fetch the response from a URL")
	verifyCmd.Flags().StringVarP(&verifyPrompt, "prompt", "p", "", "prompt that produced the response")
	verifyCmd.Flags().StringVarP(&verifyDomain, "domain", "d", "", "domain tag (finance, legal, ...; default from config)")
	verifyCmd.Flags().StringToStringVar(&verifyGroundTruth, "ground-truth", nil, "structured ground truth, e.g. actual_pct=12.5")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the session as JSON")
	verifyCmd.Flags().BoolVar(&verifyStream, "stream", false, "print progress events as JSON lines")
	verifyCmd.Flags().StringVar(&verifyFailOn, "fail-on", "", "exit non-zero when the action is at least this strict (rewrite, block)")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 2*time.Minute, "overall verification timeout")
}

func runVerify(cmd *cobra.Command, args []string) error {
	failOn, err := parseFailOn(verifyFailOn)
	if err != nil {
		return err
	}
	groundTruth, err := parseGroundTruth(verifyGroundTruth)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
	defer cancel()

	src := responseSource{text: verifyResponse, file: verifyFile, url: verifyURL}
	response, err := src.read(ctx, cfg, cmd.InOrStdin())
	if err != nil {
		return err
	}

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}

	req := pipeline.Request{
		Prompt:      verifyPrompt,
		Response:    response,
		Domain:      domainOrDefault(verifyDomain, cfg),
		GroundTruth: groundTruth,
	}

	out := cmd.OutOrStdout()
	var sink pipeline.Sink
	if verifyStream {
		enc := json.NewEncoder(out)
		sink = func(e pipeline.Event) error { return enc.Encode(e) }
	}

	session, err := eng.pipeline.RunStreaming(ctx, req, sink)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	logger.Debug("verification complete",
		zap.String("session_id", session.ID),
		zap.Int("claims", len(session.Claims)),
	)

	switch {
	case verifyStream:
	case verifyJSON:
		if err := writeJSON(out, session); err != nil {
			return err
		}
	default:
		printReport(out, session)
	}

	return checkFailOn(session, failOn)
}

// responseSource names where a response comes from; exactly one field is set
type responseSource struct {
	text string
	file string
	url  string
}

func (src responseSource) read(ctx context.Context, cfg *model.Config, stdin io.Reader) (string, error) {
	set := 0
	for _, s := range []string{src.text, src.file, src.url} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return "", errors.New("exactly one of --response, --file or --url is required")
	}

	switch {
	case src.text != "":
		return src.text, nil
	case src.file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case src.file != "":
		data, err := os.ReadFile(src.file)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return string(data), nil
	default:
		fetcher := source.NewFetcher(cfg.Fetch, cfg.LLM.HTTPProxy, cfg.LLM.HTTPSProxy, cfg.LLM.NoProxy)
		doc, err := fetcher.FetchWithRetry(ctx, src.url)
		if err != nil {
			return "", err
		}
		logger.Debug("fetched response",
			zap.String("url", doc.FinalURL),
			zap.String("subject", doc.Subject),
			zap.Int("bytes", len(doc.Body)),
		)
		return doc.Body, nil
	}
}

func domainOrDefault(domain string, cfg *model.Config) string {
	if d := strings.TrimSpace(domain); d != "" {
		return d
	}
	return cfg.Extraction.DefaultDomain
}

func parseGroundTruth(in map[string]string) (map[string]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("ground truth %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func parseFailOn(s string) (model.Action, error) {
	switch model.Action(strings.ToLower(s)) {
	case "":
		return "", nil
	case model.ActionRewrite:
		return model.ActionRewrite, nil
	case model.ActionBlock:
		return model.ActionBlock, nil
	}
	return "", fmt.Errorf("--fail-on must be rewrite or block, got %q", s)
}

func checkFailOn(s *model.VerificationSession, failOn model.Action) error {
	if failOn == "" || s.OverallAction == nil {
		return nil
	}
	if s.OverallAction.Rank() >= failOn.Rank() {
		return fmt.Errorf("%w: action %s", errActionThreshold, *s.OverallAction)
	}
	return nil
}
