package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/axiom/internal/agent"
	"github.com/ppiankov/axiom/internal/cache"
	"github.com/ppiankov/axiom/internal/extract"
	"github.com/ppiankov/axiom/internal/llm"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/observability"
	"github.com/ppiankov/axiom/internal/pipeline"
	"github.com/ppiankov/axiom/internal/settle"
	"github.com/ppiankov/axiom/internal/worker"
	"go.uber.org/zap"
)

// engine is the fully wired verification stack
type engine struct {
	cfg      *model.Config
	provider llm.Provider
	metrics  *observability.Metrics
	pipeline *pipeline.Pipeline
}

// buildEngine wires the reasoning backend, verifiers, extractor and
// adjudicator from configuration. Without a backend, or when the configured
// one does not answer its capability check, every component runs on its local
// rules.
func buildEngine(ctx context.Context, cfg *model.Config, log *zap.Logger) (*engine, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.Retrieval.EmbeddingModel))
	if err != nil {
		return nil, fmt.Errorf("init reasoning backend: %w", err)
	}
	if provider != nil {
		if err := checkBackend(ctx, provider, cfg.LLM.Timeout); err != nil {
			log.Warn("reasoning backend unavailable, using local rules", zap.Error(err))
			provider = nil
		}
	}
	if provider != nil {
		provider = llm.WithLimiter(provider, newBackendLimiter(cfg.LLM, provider.Name()))
		log.Debug("reasoning backend enabled", zap.String("provider", provider.Name()), zap.String("model", cfg.LLM.Model))
	}

	numericOpts := []agent.NumericOption{agent.WithNumericLogger(log.Named("numeric"))}
	if provider != nil && cfg.Verifiers.UseReasoning {
		numericOpts = append(numericOpts, agent.WithReasoner(provider))
	}

	retrieverOpts := []agent.RetrieverOption{agent.WithRetrieverLogger(log.Named("retriever"))}
	if cfg.Retrieval.CorpusFile != "" {
		corpus, err := agent.LoadCorpus(cfg.Retrieval.CorpusFile)
		if err != nil {
			return nil, err
		}
		retrieverOpts = append(retrieverOpts, agent.WithCorpus(corpus))
	}
	if cfg.Retrieval.UseEmbeddings {
		if embedder, ok := llm.AsEmbedder(provider); ok {
			var c cache.Cache
			if cfg.Cache.Enabled {
				c = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
			}
			retrieverOpts = append(retrieverOpts, agent.WithSimilarity(agent.NewEmbeddingSimilarity(embedder, c, cfg.Retrieval.EmbeddingModel)))
		} else {
			log.Warn("embeddings requested but the backend cannot embed; using lexical similarity")
		}
	}

	registry, err := agent.NewRegistry(
		agent.NewNumericVerifier(cfg.Verifiers, numericOpts...),
		agent.NewRetrieverAgent(cfg.Retrieval, retrieverOpts...),
		agent.NewConsistencyBot(),
	)
	if err != nil {
		return nil, err
	}

	settleOpts := []settle.Option{settle.WithLogger(log.Named("settle"))}
	if provider != nil && cfg.Settlement.UseReasoning {
		settleOpts = append(settleOpts, settle.WithReasoner(provider))
	}

	var extractor extract.Extractor = extract.NewRuleExtractor()
	if provider != nil && cfg.Extraction.UseLLM {
		extractor = extract.NewLLMExtractor(provider,
			extract.WithFallback(extractor),
			extract.WithLogger(log.Named("extract")),
		)
	}

	metrics := observability.NewMetrics()
	p := pipeline.New(cfg, registry,
		pipeline.WithExtractor(extractor),
		pipeline.WithAdjudicator(settle.NewAdjudicator(cfg.Settlement, settleOpts...)),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(log.Named("pipeline")),
	)

	return &engine{cfg: cfg, provider: provider, metrics: metrics, pipeline: p}, nil
}

func checkBackend(ctx context.Context, p llm.Provider, timeoutSeconds int) error {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return llm.CheckAvailable(ctx, p)
}

// newBackendLimiter returns the shared limiter for the named backend. Embedding
// calls get their own budget when llm.embedding_requests_per_second is set.
func newBackendLimiter(cfg model.LLMConfig, name string) *worker.Limiter {
	limiter := worker.NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	if cfg.EmbeddingRequestsPerSecond > 0 {
		limiter.SetRate(llm.EmbeddingsKey(name), cfg.EmbeddingRequestsPerSecond, cfg.Burst)
	}
	return limiter
}
