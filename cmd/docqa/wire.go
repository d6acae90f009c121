package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	embopenai "docqa/internal/embedding/openai"
	"docqa/internal/grounding"
	"docqa/internal/indexer"
	llmopenai "docqa/internal/llm/openai"
	"docqa/internal/logger"
	"docqa/internal/metrics"
	"docqa/internal/rerank"
	"docqa/internal/retriever"
	"docqa/internal/service"
	"docqa/internal/session"
	"docqa/internal/session/filestore"
	"docqa/internal/session/redisstore"
)

// app holds the assembled components for one command invocation.
type app struct {
	cfg      *config.AppConfig
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    session.Store
	indexer  *indexer.Indexer
	embedder domain.Embedder
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

func newApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	reg := prometheus.NewRegistry()
	a := &app{cfg: cfg, registry: reg, metrics: metrics.New(reg)}

	var err error
	if a.embedder, err = newEmbedder(cfg.Embedder); err != nil {
		return nil, err
	}
	if a.store, err = newStore(ctx, cfg.Store); err != nil {
		return nil, err
	}
	ch, err := newChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	a.indexer = indexer.New(ch, a.embedder, a.store,
		indexer.WithConcurrency(cfg.Embedder.Concurrency),
		indexer.WithMetrics(a.metrics),
		indexer.WithLogger(logger.WithComponent("indexer")),
	)
	return a, nil
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		return embopenai.NewClient(embopenai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Dimension:  cfg.OpenAI.Dimension,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	opts := []chunker.Option{chunker.WithMaxChunks(cfg.MaxChunks)}
	switch cfg.LengthUnit {
	case "chars", "":
	case "tokens":
		fn, err := chunker.TokenLength()
		if err != nil {
			return nil, err
		}
		opts = append(opts, chunker.WithLengthFunc(fn))
	default:
		return nil, fmt.Errorf("unknown chunk length unit: %s", cfg.LengthUnit)
	}
	return chunker.NewRecursiveChunker(cfg.Size, cfg.Overlap, opts...), nil
}

func newStore(ctx context.Context, cfg config.StoreConfig) (session.Store, error) {
	ttl := time.Duration(cfg.TTLSecs) * time.Second
	switch cfg.Type {
	case "file", "":
		return filestore.New(cfg.Dir, filestore.WithTTL(ttl), filestore.WithLogger(logger.WithComponent("filestore")))
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis store config missing")
		}
		return redisstore.Dial(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      ttl,
		})
	default:
		return nil, fmt.Errorf("unknown session store: %s", cfg.Type)
	}
}

// service assembles the query path, which needs the language model.
func (a *app) service() (*service.Service, error) {
	llm, err := llmopenai.NewClient(llmopenai.Config{
		Provider:   a.cfg.LLM.Provider,
		BaseURL:    a.cfg.LLM.BaseURL,
		APIKeyEnv:  a.cfg.LLM.APIKeyEnv,
		APIVersion: a.cfg.LLM.APIVersion,
		Model:      a.cfg.LLM.Model,
		Timeout:    time.Duration(a.cfg.LLM.TimeoutSecs) * time.Second,
		MaxRetries: a.cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("llm init failed: %w", err)
	}

	var sim grounding.Similarity
	switch a.cfg.Grounder.Similarity {
	case "token", "":
		sim = grounding.TokenSimilarity{}
	case "embedding":
		sim = grounding.EmbeddingSimilarity{Embedder: a.embedder}
	default:
		return nil, fmt.Errorf("unknown grounder similarity: %s", a.cfg.Grounder.Similarity)
	}

	opts := []service.Option{
		service.WithTopK(a.cfg.Retriever.K),
		service.WithHighlightCandidates(a.cfg.Grounder.HighlightCandidates),
	}
	if a.cfg.Reranker.Enabled {
		opts = append(opts, service.WithReranker(rerank.New(llm, a.metrics)))
	}
	return service.New(a.indexer, retriever.New(a.embedder, a.metrics), llm, grounding.New(sim, a.metrics), opts...), nil
}

func (a *app) close() {
	if rs, ok := a.store.(*redisstore.Store); ok {
		_ = rs.Close()
	}
}
