package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/axiom/internal/model"
)

const rule = "═══════════════════════════════════════════════════════════"

// printReport writes a human-readable summary of a session
func printReport(w io.Writer, s *model.VerificationSession) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Axiom Verification  %s\n", s.ID)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	if s.Prompt != "" {
		fmt.Fprintf(w, "  Prompt:  %s\n", oneLine(s.Prompt, 80))
	}
	fmt.Fprintf(w, "  Domain:  %s\n", s.Domain)
	fmt.Fprintf(w, "  Claims:  %d\n", len(s.Claims))
	fmt.Fprintln(w)

	for _, v := range s.Verifications {
		fmt.Fprintf(w, "  %s [%s/%s] %s\n", v.Claim.ID, v.Claim.Kind, v.Claim.Severity, oneLine(v.Claim.Text, 70))
		fmt.Fprintf(w, "    verdict: %-9s  score: %.2f  action: %s\n", v.Verdict, v.RiskScore, v.Action)
		for _, a := range v.Assessments {
			fmt.Fprintf(w, "    - %-16s %-14s %.2f  %s\n", a.Verifier, a.Position, a.Confidence, oneLine(a.Summary, 60))
		}
		fmt.Fprintf(w, "    %s\n\n", v.Rationale)
	}

	if s.Reason != "" {
		fmt.Fprintf(w, "  %s\n\n", s.Reason)
	}

	if st := s.Settlement; st != nil {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "  Settlement (%s, confidence %.2f)\n", st.Oracle, st.Confidence)
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "  %s\n", st.Summary)
		fmt.Fprintf(w, "  Evidence: %d supporting, %d contradicting, %d neutral\n",
			st.Supporting, st.Contradicting, st.Neutral)
		fmt.Fprintf(w, "  %s\n\n", st.Recommendation)
	}

	if s.OverallAction != nil {
		fmt.Fprintf(w, "  ACTION: %s\n", strings.ToUpper(string(*s.OverallAction)))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
