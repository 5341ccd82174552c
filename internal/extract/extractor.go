package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/axiom/internal/model"
	"golang.org/x/net/html"
)

// Extractor turns a response text into an ordered list of claims. An empty
// list is a valid result.
type Extractor interface {
	Extract(ctx context.Context, response, domain string) ([]model.Claim, error)
}

// minSentenceLen is the shortest sentence considered a claim
const minSentenceLen = 15

// RuleExtractor classifies sentences with the domain adapter chosen by the
// domain tag.
type RuleExtractor struct {
	registry *Registry
}

// NewRuleExtractor creates a rule extractor with the built-in adapters
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{registry: NewRegistry()}
}

// NewRuleExtractorWithRegistry uses a caller-supplied adapter registry
func NewRuleExtractorWithRegistry(r *Registry) *RuleExtractor {
	return &RuleExtractor{registry: r}
}

// Extract never fails on plain text; malformed markup is an error
func (e *RuleExtractor) Extract(_ context.Context, response, domain string) ([]model.Claim, error) {
	text, err := PlainText(response)
	if err != nil {
		return nil, err
	}

	adapter := e.registry.FindAdapter(domain)

	claims := []model.Claim{}
	seen := make(map[string]bool)
	for _, sentence := range SplitSentences(text) {
		if len(sentence) < minSentenceLen {
			continue
		}
		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}

		kind, severity, ok := adapter.Classify(sentence)
		if !ok {
			continue
		}
		seen[key] = true
		claims = append(claims, model.Claim{
			ID:         ClaimID(len(claims) + 1),
			Text:       sentence,
			Kind:       kind,
			Severity:   severity,
			SourceSpan: sentence,
		})
	}

	return claims, nil
}

// ClaimID formats the n-th (1-based) claim id
func ClaimID(n int) string {
	return fmt.Sprintf("CLM-%03d", n)
}

// PlainText returns the visible text of an HTML response. Text without markup
// is returned unchanged.
func PlainText(response string) (string, error) {
	if !looksLikeMarkup(response) {
		return response, nil
	}
	doc, err := html.Parse(strings.NewReader(response))
	if err != nil {
		return "", fmt.Errorf("failed to parse markup: %w", err)
	}
	return visibleText(doc), nil
}

func looksLikeMarkup(s string) bool {
	i := strings.IndexByte(s, '<')
	if i < 0 || i+1 >= len(s) {
		return false
	}
	c := s[i+1]
	return c == '/' || c == '!' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// visibleText collects text nodes, skipping scripts and styles
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

// abbreviations end with a period but do not end a sentence
var abbreviations = map[string]bool{
	"v.": true, "vs.": true, "inc.": true, "corp.": true, "co.": true,
	"ltd.": true, "no.": true, "mr.": true, "mrs.": true, "ms.": true,
	"dr.": true, "st.": true, "e.g.": true, "i.e.": true, "u.s.": true,
	"approx.": true, "fig.": true, "jr.": true,
}

// SplitSentences splits after '.', '!' or '?' when followed by whitespace,
// except after common abbreviations and single-letter initials.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !isSpace(runes[i+1]) {
			continue
		}
		if r == '.' && endsWithAbbreviation(current.String()) {
			continue
		}
		flush()
	}
	flush()

	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\r' || r == '\t'
}

func endsWithAbbreviation(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	last = strings.TrimLeft(last, "(\"'")
	if abbreviations[last] {
		return true
	}
	// Initials such as "J." in "J. Smith"
	return len(last) == 2 && last[0] >= 'a' && last[0] <= 'z'
}
