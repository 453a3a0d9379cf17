package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/chatweb/pkg/config"
	"github.com/xhad/chatweb/pkg/llm"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/processor"
	"github.com/xhad/chatweb/pkg/rag"
	"github.com/xhad/chatweb/pkg/scraper"
	"github.com/xhad/chatweb/pkg/store"
	"go.uber.org/zap"
)

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	session *rag.Session
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.log.Warn("failed to close store", zap.Error(err))
	}
	a.log.Sync()
}

// setup loads the configuration and wires every pipeline stage into a
// session. onPage is called for each fetched page.
func setup(ctx context.Context, opts *rootOptions, onPage func(url string)) (*app, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if verrs := cfg.Validate(); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	fetcher := scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:          cfg.Scraper.MaxDepth,
		RateLimit:         cfg.Scraper.RateLimit,
		IgnorePatterns:    cfg.Scraper.IgnorePatterns,
		AllowedExtensions: cfg.Scraper.AllowedExtensions,
		Languages:         cfg.Scraper.Languages,
		UserAgent:         cfg.Scraper.UserAgent,
		Timeout:           cfg.Timeout,
		OnProgress:        onPage,
		Logger:            log,
	})

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:       cfg.Embedding.Provider,
		Model:          cfg.Embedding.Model,
		BaseURL:        cfg.Embedding.BaseURL,
		APIKey:         cfg.Embedding.APIKey,
		Dimension:      cfg.Embedding.Dimension,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxInputTokens: cfg.Embedding.MaxInputTokens,
		CacheTTL:       cfg.Embedding.CacheTTL,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	generator, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Timeout,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	index, err := store.Open(ctx, store.Options{
		Backend:     cfg.Store.Backend,
		PersistDir:  cfg.Store.PersistDir,
		Collection:  cfg.Store.Collection,
		DatabaseURL: cfg.Store.DatabaseURL,
		BatchSize:   cfg.Store.BatchSize,
		Dimension:   cfg.Embedding.Dimension,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	session, err := rag.NewSession(rag.Options{
		Fetcher:     fetcher,
		Chunker:     chunker,
		Embedder:    embedder,
		Store:       index,
		Generator:   generator,
		TopK:        cfg.Retriever.TopK,
		MaxDistance: cfg.Retriever.MaxDistance,
		Timeout:     cfg.Timeout,
		Logger:      log,
	})
	if err != nil {
		index.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, session: session}, nil
}
