// Package app assembles the agent and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"policyrag/internal/cache"
	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/embedding/hashing"
	"policyrag/internal/embedding/openai"
	"policyrag/internal/generator"
	"policyrag/internal/ingest"
	"policyrag/internal/llm/extractive"
	"policyrag/internal/llm/ollama"
	llmopenai "policyrag/internal/llm/openai"
	"policyrag/internal/metrics"
	"policyrag/internal/retrieval"
	"policyrag/internal/router"
	"policyrag/internal/service"
	"policyrag/internal/vectorstore"
	"policyrag/internal/vectorstore/bleve"
	"policyrag/internal/vectorstore/memory"
	"policyrag/internal/vectorstore/qdrant"
	"policyrag/internal/vectorstore/sqlite"
)

// App is a fully wired agent plus the resources it owns.
type App struct {
	Config  *config.AppConfig
	Router  *router.Router
	Agent   *service.Agent
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	closers []func() error
}

// Build creates every component named by cfg. The caller must Close the App.
func Build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	a.Router = router.New(cfg.Router.Rules)

	emb, err := NewEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	engine, err := NewEngine(cfg.VectorStore, emb)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, engine.Close)

	store, err := retrieval.Open(ctx, engine, a.Router, cfg.VectorStore.Collections, logger.Named("retrieval"))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	rc, err := a.newCache(ctx, cfg.Cache)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	model, err := NewModel(cfg.LLM, cfg.LLM.Model)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	gen := generator.New(model, domain.GenerateOptions{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger.Named("generator"))

	ch, err := NewChunker(cfg.Ingest.Chunker)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	in := ingest.New(a.Router, router.DefaultHeaders(), ch, logger.Named("ingest"))

	llmCfg := cfg.LLM
	a.Agent = service.New(in, store, rc, gen, service.Options{
		Limit:    cfg.Retrieval.Limit,
		Cite:     cfg.Retrieval.Cite,
		Models:   cfg.LLM.Models,
		NewModel: func(name string) (domain.Model, error) { return NewModel(llmCfg, name) },
		Metrics:  a.Metrics,
		Logger:   logger.Named("agent"),
	})
	logger.Info("agent ready",
		zap.String("embedder", emb.Name()),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("cache", cfg.Cache.Type),
		zap.String("model", model.Info().Name),
	)
	return a, nil
}

// Close releases the engine and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewEmbedder selects the embedder implementation.
func NewEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("%w: openai embedder config missing", domain.ErrConfig)
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    config.Seconds(cfg.OpenAI.TimeoutSecs),
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai embedder: %v", domain.ErrConfig, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfig, cfg.Type)
	}
}

// NewEngine selects the collection engine.
func NewEngine(cfg config.VectorStoreConfig, emb domain.Embedder) (vectorstore.Engine, error) {
	switch cfg.Type {
	case "memory", "":
		return memory.NewEngine(emb), nil
	case "sqlite":
		e, err := sqlite.Open(cfg.SQLite.Path, emb)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRetrieval, err)
		}
		return e, nil
	case "bleve":
		return bleve.NewEngine(cfg.Bleve.Path), nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("%w: qdrant config missing", domain.ErrConfig)
		}
		return qdrant.NewEngine(qdrant.Config{
			URL:     cfg.Qdrant.URL,
			APIKey:  cfg.Qdrant.APIKey,
			Timeout: config.Seconds(cfg.Qdrant.TimeoutSecs),
		}, emb), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrConfig, cfg.Type)
	}
}

func (a *App) newCache(ctx context.Context, cfg config.CacheConfig) (domain.ResponseCache, error) {
	switch cfg.Type {
	case "file", "":
		return cache.NewFile(cfg.Dir, cfg.MaxEntries)
	case "memory":
		return cache.NewMemory(cfg.MaxEntries), nil
	case "none":
		return cache.Nop{}, nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("%w: redis config missing", domain.ErrConfig)
		}
		r, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      config.Seconds(cfg.Redis.TTLSecs),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		if err := r.Ping(ctx); err != nil {
			a.Logger.Warn("redis cache unreachable, answers will not be cached",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache %q", domain.ErrConfig, cfg.Type)
	}
}

// NewModel builds a model of the configured provider. An empty name selects
// the provider's default model.
func NewModel(cfg config.LLMConfig, name string) (domain.Model, error) {
	switch cfg.Provider {
	case "extractive", "":
		if name != "" && name != extractive.Name {
			return nil, fmt.Errorf("%w: extractive provider has no model %q", domain.ErrConfig, name)
		}
		return extractive.New(0), nil
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   name,
			Timeout: config.Seconds(cfg.TimeoutSecs),
		}), nil
	case "openai":
		m, err := llmopenai.New(llmopenai.Config{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     name,
			Timeout:   config.Seconds(cfg.TimeoutSecs),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", domain.ErrConfig, cfg.Provider)
	}
}

// NewChunker selects how documents without a policy header are split.
func NewChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "paragraph", "":
		return chunker.NewParagraphChunker(), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("%w: unknown chunker %q", domain.ErrConfig, cfg.Type)
	}
}
