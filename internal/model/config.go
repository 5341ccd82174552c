package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Verifier names as registered by the reference strategies.
const (
	VerifierNumeric     = "NumericVerifier"
	VerifierRetriever   = "RetrieverAgent"
	VerifierConsistency = "ConsistencyBot"
)

// Config is the complete axiom configuration
type Config struct {
	Risk        RiskConfig        `yaml:"risk" mapstructure:"risk"`
	Verifiers   VerifierConfig    `yaml:"verifiers" mapstructure:"verifiers"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" mapstructure:"retrieval"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Settlement  SettlementConfig  `yaml:"settlement" mapstructure:"settlement"`
	Extraction  ExtractionConfig  `yaml:"extraction" mapstructure:"extraction"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
}

// RiskConfig drives the risk aggregator
type RiskConfig struct {
	AllowThreshold   float64            `yaml:"allow_threshold" mapstructure:"allow_threshold"`     // Minimum score to allow (before severity adjustment)
	RewriteThreshold float64            `yaml:"rewrite_threshold" mapstructure:"rewrite_threshold"` // Minimum score to rewrite instead of block
	DisagreementPull float64            `yaml:"disagreement_pull" mapstructure:"disagreement_pull"` // Pull toward 0.5 at a 50/50 split is half of this
	DefaultWeight    float64            `yaml:"default_weight" mapstructure:"default_weight"`       // Reliability weight for unlisted verifiers
	Weights          map[string]float64 `yaml:"weights" mapstructure:"weights"`                     // Reliability weight per verifier name
}

// VerifierConfig holds settings shared by the reference verifiers
type VerifierConfig struct {
	Timeout              time.Duration `yaml:"timeout" mapstructure:"timeout"`                               // Budget for one verifier call
	AnomalyPercent       float64       `yaml:"anomaly_percent" mapstructure:"anomaly_percent"`               // Percentages above this are flagged
	GroundTruthTolerance float64       `yaml:"ground_truth_tolerance" mapstructure:"ground_truth_tolerance"` // Allowed delta (points) against ground truth
	UseReasoning         bool          `yaml:"use_reasoning" mapstructure:"use_reasoning"`                   // Let the numeric verifier consult the LLM backend
}

// RetrievalConfig configures the evidence-retrieval verifier
type RetrievalConfig struct {
	CorpusFile     string        `yaml:"corpus_file,omitempty" mapstructure:"corpus_file"` // YAML corpus; built-in corpus when empty
	UseEmbeddings  bool          `yaml:"use_embeddings" mapstructure:"use_embeddings"`
	EmbeddingModel string        `yaml:"embedding_model" mapstructure:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Thresholds     Thresholds    `yaml:"thresholds" mapstructure:"thresholds"`
}

// Thresholds are per-corpus similarity cut-offs
type Thresholds struct {
	Verified float64 `yaml:"verified" mapstructure:"verified"`
	Pattern  float64 `yaml:"pattern" mapstructure:"pattern"`
	Analyst  float64 `yaml:"analyst" mapstructure:"analyst"`
}

// LLMConfig configures the reasoning backend
type LLMConfig struct {
	Provider                   string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" (disabled)
	Model                      string  `yaml:"model" mapstructure:"model"`
	APIKey                     string  `yaml:"-" mapstructure:"-"` // From environment only
	BaseURL                    string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout                    int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens                  int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond          float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst                      int     `yaml:"burst" mapstructure:"burst"`
	EmbeddingRequestsPerSecond float64 `yaml:"embedding_requests_per_second" mapstructure:"embedding_requests_per_second"` // Separate "<provider>:embeddings" budget; 0 shares the chat rate
	HTTPProxy                  string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy                 string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy                    string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// SettlementConfig configures the settlement adjudicator
type SettlementConfig struct {
	UseReasoning bool          `yaml:"use_reasoning" mapstructure:"use_reasoning"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ExtractionConfig configures claim extraction
type ExtractionConfig struct {
	UseLLM        bool   `yaml:"use_llm" mapstructure:"use_llm"`
	DefaultDomain string `yaml:"default_domain" mapstructure:"default_domain"`
}

// ServerConfig configures the HTTP/WebSocket surface
type ServerConfig struct {
	Addr              string        `yaml:"addr" mapstructure:"addr"`
	SessionTTL        time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // Per client IP; 0 disables
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// CacheConfig configures the embedding cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// FetchConfig configures loading responses from URLs
type FetchConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // Per host; 0 disables
}

// ConcurrencyConfig bounds parallel work outside a single session
type ConcurrencyConfig struct {
	BatchWorkers int `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Risk: RiskConfig{
			AllowThreshold:   0.80,
			RewriteThreshold: 0.40,
			DisagreementPull: 0.15,
			DefaultWeight:    0.8,
			Weights: map[string]float64{
				VerifierNumeric:     1.0,
				VerifierRetriever:   0.9,
				VerifierConsistency: 0.8,
			},
		},
		Verifiers: VerifierConfig{
			Timeout:              20 * time.Second,
			AnomalyPercent:       25,
			GroundTruthTolerance: 5,
			UseReasoning:         true,
		},
		Retrieval: RetrievalConfig{
			UseEmbeddings:  false,
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        10 * time.Second,
			Thresholds: Thresholds{
				Verified: 0.30,
				Pattern:  0.35,
				Analyst:  0.25,
			},
		},
		LLM: LLMConfig{
			Provider:                   "", // Disabled by default
			Timeout:                    15,
			MaxTokens:                  1000,
			RequestsPerSecond:          2,
			Burst:                      4,
			EmbeddingRequestsPerSecond: 5,
		},
		Settlement: SettlementConfig{
			UseReasoning: true,
			Timeout:      20 * time.Second,
		},
		Extraction: ExtractionConfig{
			UseLLM:        false,
			DefaultDomain: "finance",
		},
		Server: ServerConfig{
			Addr:       ":8000",
			SessionTTL: time.Hour,
			Burst:      10,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".axiom-cache",
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Fetch: FetchConfig{
			Timeout:           30 * time.Second,
			UserAgent:         "Axiom/0.1 (+https://github.com/ppiankov/axiom)",
			MaxBodyBytes:      2_000_000,
			MaxRetries:        3,
			RequestsPerSecond: 1,
		},
		Concurrency: ConcurrencyConfig{
			BatchWorkers: 4,
		},
	}
}

// Validate checks the invariants the engine relies on.
func (c *Config) Validate() error {
	r := c.Risk
	if r.AllowThreshold < 0 || r.AllowThreshold > 1 {
		return fmt.Errorf("%w: allow_threshold %.2f outside [0,1]", ErrInvalidConfig, r.AllowThreshold)
	}
	if r.RewriteThreshold < 0 || r.RewriteThreshold > 1 {
		return fmt.Errorf("%w: rewrite_threshold %.2f outside [0,1]", ErrInvalidConfig, r.RewriteThreshold)
	}
	if r.RewriteThreshold >= r.AllowThreshold {
		return fmt.Errorf("%w: rewrite_threshold %.2f must be below allow_threshold %.2f", ErrInvalidConfig, r.RewriteThreshold, r.AllowThreshold)
	}
	if r.DisagreementPull <= 0 || r.DisagreementPull > 1 {
		return fmt.Errorf("%w: disagreement_pull %.2f outside (0,1]", ErrInvalidConfig, r.DisagreementPull)
	}
	for name, w := range r.Weights {
		if w <= 0 {
			return fmt.Errorf("%w: weight for %s must be positive", ErrInvalidConfig, name)
		}
	}
	if r.DefaultWeight <= 0 {
		return fmt.Errorf("%w: default_weight must be positive", ErrInvalidConfig)
	}
	if c.Verifiers.Timeout <= 0 {
		return fmt.Errorf("%w: verifiers.timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
