package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Corpus is the reference evidence the retriever compares claims against
type Corpus struct {
	Verified []VerifiedEntry `yaml:"verified"`
	Patterns []PatternEntry  `yaml:"patterns"`
	Analyst  []AnalystEntry  `yaml:"analyst"`
}

// VerifiedEntry is a previously verified claim
type VerifiedEntry struct {
	Text    string `yaml:"text"`
	Verdict bool   `yaml:"verdict"`
	Domain  string `yaml:"domain,omitempty"`
}

// PatternEntry is a known hallucination from the archive
type PatternEntry struct {
	Text    string `yaml:"text"`
	Pattern string `yaml:"pattern"` // inflated_growth, phantom_citation, ...
	Domain  string `yaml:"domain,omitempty"`
}

// AnalystEntry is analyst-style commentary
type AnalystEntry struct {
	Text   string `yaml:"text"`
	Domain string `yaml:"domain,omitempty"`
}

// Size returns the total number of entries
func (c *Corpus) Size() int {
	return len(c.Verified) + len(c.Patterns) + len(c.Analyst)
}

// texts returns all entry texts: verified, then patterns, then analyst
func (c *Corpus) texts() []string {
	out := make([]string, 0, c.Size())
	for _, e := range c.Verified {
		out = append(out, e.Text)
	}
	for _, e := range c.Patterns {
		out = append(out, e.Text)
	}
	for _, e := range c.Analyst {
		out = append(out, e.Text)
	}
	return out
}

// LoadCorpus reads a corpus from a YAML file
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}

	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	if c.Size() == 0 {
		return nil, fmt.Errorf("corpus %s is empty", path)
	}
	return &c, nil
}

// DefaultCorpus returns the built-in reference corpus
func DefaultCorpus() *Corpus {
	return &Corpus{
		Verified: []VerifiedEntry{
			{Text: "Acme Corp revenue grew 7.6% QoQ in Q3 2024", Verdict: true, Domain: "finance"},
			{Text: "NVIDIA Q4 FY2024 revenue was $22.1 billion", Verdict: true, Domain: "finance"},
			{Text: "NVIDIA data center revenue grew 409% year-over-year", Verdict: true, Domain: "finance"},
			{Text: "Acme Corp operating margins were approximately 30.8% in Q3", Verdict: true, Domain: "finance"},
		},
		Patterns: []PatternEntry{
			{Text: "Acme Corp revenue grew 32% QoQ", Pattern: "inflated_growth", Domain: "finance"},
			{Text: "Harrison v. Mercy General Hospital (2019)", Pattern: "phantom_citation", Domain: "legal"},
			{Text: "Thompson v. Regional Medical Center (2021)", Pattern: "phantom_citation", Domain: "legal"},
			{Text: "Smith v. County Hospital (2020) established absolute privilege", Pattern: "phantom_citation", Domain: "legal"},
		},
		Analyst: []AnalystEntry{
			{Text: "Analyst consensus for Acme Corp Q3 growth: 6-9% QoQ", Domain: "finance"},
			{Text: "14 sell-side analysts modeled Acme growth below 15%", Domain: "finance"},
			{Text: "NVIDIA Q4 beat consensus of $20.4B by 8.3%", Domain: "finance"},
		},
	}
}
