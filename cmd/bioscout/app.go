package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"bioscout/internal/async"
	"bioscout/internal/chunker"
	"bioscout/internal/config"
	"bioscout/internal/domain"
	"bioscout/internal/embedding"
	"bioscout/internal/embedding/hugot"
	"bioscout/internal/embedding/lexical"
	"bioscout/internal/embedding/openai"
	"bioscout/internal/service"
	storemem "bioscout/internal/store/memory"
	"bioscout/internal/store/sqlite"
	"bioscout/internal/summarizer"
	"bioscout/internal/vectorstore/memory"
	"bioscout/internal/vectorstore/pgvector"
	"bioscout/internal/vectorstore/qdrant"
)

// app holds the assembled components for one command invocation.
type app struct {
	store      domain.DataStore
	service    *service.RAGService
	dispatcher *async.Dispatcher
	closers    []func() error
}

func openApp(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	provider, err := openEmbedder(cfg, a)
	if err != nil {
		return nil, err
	}
	emb := embedding.NewBatcher(provider, cfg.Embedder.BatchSize, cfg.Embedder.Timeout())

	index, err := openIndex(ctx, cfg, emb.Dimension(), a)
	if err != nil {
		return nil, err
	}

	synthOpts := []summarizer.Option{
		summarizer.WithMaxSentences(cfg.Synthesizer.MaxSentences),
		summarizer.WithMaxFollowUps(cfg.Synthesizer.MaxFollowUps),
	}
	if cfg.Synthesizer.Seed != 0 {
		synthOpts = append(synthOpts, summarizer.WithSeed(cfg.Synthesizer.Seed))
	}
	synth := summarizer.NewExtractive(synthOpts...)

	a.dispatcher = async.NewDispatcher(logger)
	a.service = service.NewRAGService(store, index,
		chunker.NewRecursiveChunker(cfg.Chunker.MaxSize, cfg.Chunker.Overlap), emb, synth,
		service.WithLogger(logger),
		service.WithTopK(cfg.QA.TopK),
		service.WithMinScore(cfg.QA.MinScore),
		service.WithDispatcher(a.dispatcher))

	// A memory index starts empty on every run.
	if cfg.Index.Type == "memory" {
		if _, err := a.service.IngestCorpus(ctx, false); err != nil && !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

// Close waits for pending interaction writes, then releases resources in reverse order.
func (a *app) Close() error {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStore(cfg *config.AppConfig) (domain.DataStore, error) {
	switch cfg.Store.Type {
	case "memory":
		return storemem.NewStore(), nil
	case "sqlite", "":
		dir := ""
		if cfg.Store.SQLite != nil {
			dir = cfg.Store.SQLite.DataDir
		}
		store, err := sqlite.NewStore(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, goerr.Wrap(domain.ErrInvalidInput, "unknown store", goerr.V("type", cfg.Store.Type))
	}
}

func openEmbedder(cfg *config.AppConfig, a *app) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "lexical", "":
		return lexical.NewEmbedder(cfg.Embedder.Dimension), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		if oc == nil {
			return nil, goerr.Wrap(domain.ErrInvalidInput, "openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Dimension: cfg.Embedder.Dimension,
			Timeout:   secs(oc.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "hugot":
		hc := cfg.Embedder.Hugot
		if hc == nil {
			hc = &config.HugotEmbedderConfig{}
		}
		e, err := hugot.NewEmbedder(hugot.Config{ModelName: hc.ModelName, ModelDir: hc.ModelDir, Dimension: cfg.Embedder.Dimension})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	default:
		return nil, goerr.Wrap(domain.ErrInvalidInput, "unknown embedder", goerr.V("type", cfg.Embedder.Type))
	}
}

func openIndex(ctx context.Context, cfg *config.AppConfig, dimension int, a *app) (domain.DocumentIndex, error) {
	switch cfg.Index.Type {
	case "memory", "":
		return memory.NewIndex(), nil
	case "qdrant":
		qc := cfg.Index.Qdrant
		if qc == nil {
			return nil, goerr.Wrap(domain.ErrInvalidInput, "qdrant config missing")
		}
		return qdrant.NewIndex(qdrant.Config{
			URL:        qc.URL,
			APIKey:     qc.APIKey,
			Collection: qc.Collection,
			Dimension:  dimension,
			Timeout:    secs(qc.TimeoutSecs),
		}), nil
	case "pgvector":
		pc := cfg.Index.PGVector
		if pc == nil {
			return nil, goerr.Wrap(domain.ErrInvalidInput, "pgvector config missing")
		}
		dsn := os.Getenv(pc.DSNEnv)
		if dsn == "" {
			return nil, goerr.Wrap(domain.ErrInvalidInput, "pgvector DSN is not set", goerr.V("env", pc.DSNEnv))
		}
		idx, err := pgvector.NewIndex(ctx, pgvector.Config{DSN: dsn, Table: pc.Table, Dimension: dimension})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		return idx, nil
	default:
		return nil, goerr.Wrap(domain.ErrInvalidInput, "unknown index", goerr.V("type", cfg.Index.Type))
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
