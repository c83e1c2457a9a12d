// Package app builds the askql object graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/askql/internal/chat"
	"github.com/kalambet/askql/internal/composer"
	"github.com/kalambet/askql/internal/config"
	"github.com/kalambet/askql/internal/engine"
	"github.com/kalambet/askql/internal/ingest"
	"github.com/kalambet/askql/internal/retrieval"
	"github.com/kalambet/askql/internal/sqlexec"
	"github.com/kalambet/askql/internal/sqlgen"
	"github.com/kalambet/askql/internal/storage"
)

// App owns every long-lived component. Close releases them in reverse order.
type App struct {
	Config    config.Config
	Engine    engine.Engine
	Embedder  *retrieval.Embedder
	Store     retrieval.TrainingStore
	Model     sqlgen.PromptModel
	Service   *sqlgen.Service
	Processor *ingest.BatchProcessor
	Trainer   *ingest.Trainer

	sqlite *storage.Store
	runner *sqlexec.Runner
	logger *slog.Logger
}

// New wires the embedder, the configured vector backend, the chat model,
// the SQL service and the batch processor. Nothing is contacted except the
// relational backend and the SQL database when they are configured.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	a.Engine = engine.NewOllamaEngine(cfg.Ollama.BaseURL)

	embedOpts := []retrieval.EmbedderOption{retrieval.WithEmbedderLogger(logger)}
	if n := cfg.Ollama.EmbedRateLimit; n > 0 {
		embedOpts = append(embedOpts, retrieval.WithRateLimit(time.Second/time.Duration(n), n))
	}
	a.Embedder = retrieval.NewEmbedder(a.Engine, cfg.Ollama.EmbedModel, cfg.Embedding.Dimension, embedOpts...)

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	model, err := newPromptModel(cfg.Chat, a.Engine, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Model = model

	comp := composer.New(cfg.Chat.Dialect, cfg.Chat.MaxPromptTokens)
	comp.Language = cfg.Chat.Language

	svcOpts := []sqlgen.Option{
		sqlgen.WithLogger(logger),
		sqlgen.WithLimits(sqlgen.Limits{
			SQL:           cfg.Retrieval.NResultsSQL,
			DDL:           cfg.Retrieval.NResultsDDL,
			Documentation: cfg.Retrieval.NResultsDocumentation,
		}),
	}
	if cfg.SQL.DatabaseURL != "" {
		runner, err := sqlexec.Open(ctx, cfg.SQL.DatabaseURL, sqlexec.WithLogger(logger))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to sql database: %w", err)
		}
		a.runner = runner
		svcOpts = append(svcOpts, sqlgen.WithRunner(runner))
	}
	a.Service = sqlgen.NewService(a.Store, a.Model, comp, svcOpts...)

	a.Processor = ingest.NewBatchProcessor(a.Store, ingest.Config{
		Enabled:   cfg.Batch.Enabled,
		BatchSize: cfg.Batch.Size,
		Workers:   cfg.Batch.Workers,
	}, ingest.WithLogger(logger))
	a.Trainer = ingest.NewTrainer(a.Processor, a.Service, logger)

	logger.Info("askql ready",
		"backend", cfg.Store.Backend,
		"embed_model", cfg.Ollama.EmbedModel,
		"chat_provider", cfg.Chat.Provider,
		"batch", cfg.Batch.Enabled)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (retrieval.TrainingStore, error) {
	switch a.Config.Store.Backend {
	case config.BackendSQLite:
		db, err := storage.Open(a.Config.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.sqlite = db
		return retrieval.NewSQLiteStore(db.DB(), a.Embedder, a.logger), nil
	case config.BackendPGVector:
		s, err := retrieval.NewPGStore(ctx, a.Config.Store.PGURL, a.Embedder, retrieval.WithPGLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("opening pgvector store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalid, a.Config.Store.Backend)
}

func newPromptModel(cfg config.ChatConfig, e engine.Engine, logger *slog.Logger) (sqlgen.PromptModel, error) {
	if strings.EqualFold(cfg.Provider, chat.ProviderOllama) {
		return chat.NewEngineModel(e, cfg.Model, cfg.Temperature), nil
	}
	if cfg.APIKey == "" {
		logger.Warn("chat api key is empty; set ASKQL_CHAT_API_KEY", "provider", cfg.Provider)
	}
	c, err := chat.NewClient(cfg.Provider, cfg.APIKey, cfg.Model, cfg.Temperature,
		chat.WithBaseURL(cfg.BaseURL), chat.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return c, nil
}

// EnsureReady verifies the embedding service and models, writing progress
// to w. The chat model is checked only when it is served by the engine. The
// measured embedding length becomes the embedder's working dimension.
func (a *App) EnsureReady(ctx context.Context, w io.Writer) error {
	opts := engine.ReadyOptions{
		EmbedModel: a.Config.Ollama.EmbedModel,
		Dimension:  a.Config.Embedding.Dimension,
	}
	if strings.EqualFold(a.Config.Chat.Provider, chat.ProviderOllama) {
		opts.ChatModel = a.Config.Chat.Model
	}
	dim, err := engine.EnsureReady(ctx, a.Engine, opts, w)
	if err != nil {
		return err
	}
	a.Embedder.Observe(dim)
	return nil
}

// Close flushes pending training items and releases every resource.
func (a *App) Close() error {
	var errs []error
	if a.Processor != nil {
		a.Processor.Shutdown()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing training store: %w", err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage: %w", err))
		}
	}
	if a.runner != nil {
		if err := a.runner.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sql runner: %w", err))
		}
	}
	return errors.Join(errs...)
}
