package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"docrag/internal/answer"
	"docrag/internal/chunker"
	"docrag/internal/chunkstore/jsonl"
	"docrag/internal/chunkstore/memory"
	"docrag/internal/chunkstore/sqlite"
	"docrag/internal/completion/anthropic"
	"docrag/internal/completion/extractive"
	"docrag/internal/completion/gemini"
	copenai "docrag/internal/completion/openai"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding/hash"
	"docrag/internal/embedding/openai"
	"docrag/internal/extract"
	"docrag/internal/retriever"
	"docrag/internal/retriever/qdrant"
	"docrag/internal/service"
	"docrag/internal/vectorstore"
)

// app holds the assembled components and what must be closed on exit.
type app struct {
	cfg        *config.AppConfig
	store      domain.ChunkStore
	vectors    *vectorstore.Store
	extractors *extract.Registry
	svc        *service.Service
	closers    []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func prefixed(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func build(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ch, err := newChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	vs, err := vectorstore.Open(ctx, store, emb,
		vectorstore.WithBatchSize(cfg.Embedder.BatchSize),
		vectorstore.WithConcurrency(cfg.Embedder.Concurrency),
		vectorstore.WithLogger(prefixed("[vectors] ")),
	)
	if err != nil {
		return nil, err
	}
	a.vectors = vs

	var searcher domain.Searcher
	switch cfg.Retriever.Type {
	case "linear":
		searcher = retriever.NewLinear(vs)
	case "qdrant":
		q, err := qdrant.Dial(qdrant.Config{
			Addr:       cfg.Retriever.Qdrant.Addr,
			Collection: cfg.Retriever.Qdrant.Collection,
		}, vs, qdrant.WithLogger(prefixed("[qdrant] ")))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		searcher = q
	default:
		return nil, fmt.Errorf("%w: unknown retriever %s", domain.ErrInvalidConfig, cfg.Retriever.Type)
	}

	comp, err := newCompleter(cfg)
	if err != nil {
		return nil, err
	}
	orch := answer.New(vs, searcher, comp, answer.Config{
		TopK:            cfg.Retriever.TopK,
		MaxContextChars: cfg.Answer.MaxContextChars,
	}, prefixed("[answer] "))

	a.extractors = extract.NewRegistry()
	a.svc = service.New(a.extractors, ch, store, vs, orch,
		service.WithLogger(prefixed("[ingest] ")),
		service.WithWorkers(cfg.Ingest.Workers),
		service.WithTopK(cfg.Retriever.TopK),
	)
	ok = true
	return a, nil
}

func newChunker(cfg config.ChunkerConfig) (*chunker.Chunker, error) {
	var tok domain.Tokenizer
	if chunker.Strategy(cfg.Strategy) == chunker.TokenWindow {
		t, err := chunker.NewTiktoken(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		tok = t
	}
	return chunker.New(chunker.Config{
		Strategy:   chunker.Strategy(cfg.Strategy),
		Size:       cfg.Size,
		Overlap:    cfg.Overlap,
		Separators: cfg.Separators,
	}, tok)
}

func newStore(cfg config.StoreConfig) (domain.ChunkStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "jsonl":
		return jsonl.Open(cfg.Path, jsonl.WithLogger(prefixed("[store] ")))
	case "sqlite":
		return sqlite.Open(cfg.Path, sqlite.WithLogger(prefixed("[store] ")))
	default:
		return nil, fmt.Errorf("%w: unknown store %s", domain.ErrInvalidConfig, cfg.Type)
	}
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hash":
		return hash.NewEmbedder(cfg.Dimension), nil
	case "openai":
		o := cfg.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKeyEnv:  o.APIKeyEnv,
			Model:      o.Model,
			Timeout:    secs(o.TimeoutSecs),
			MaxRetries: o.MaxRetries,
			Dimensions: o.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %s", domain.ErrInvalidConfig, cfg.Type)
	}
}

func newCompleter(cfg *config.AppConfig) (domain.Completer, error) {
	c := cfg.Completer
	switch c.Type {
	case "extractive":
		return extractive.New(cfg.Answer.MaxSentences), nil
	case "openai":
		return copenai.New(copenai.Config{
			BaseURL:   c.OpenAI.BaseURL,
			APIKeyEnv: c.OpenAI.APIKeyEnv,
			Model:     c.OpenAI.Model,
			Timeout:   secs(c.OpenAI.TimeoutSecs),
			MaxTokens: c.OpenAI.MaxTokens,
		})
	case "anthropic":
		return anthropic.New(anthropic.Config{
			BaseURL:   c.Anthropic.BaseURL,
			APIKeyEnv: c.Anthropic.APIKeyEnv,
			Model:     c.Anthropic.Model,
			MaxTokens: c.Anthropic.MaxTokens,
			Timeout:   secs(c.Anthropic.TimeoutSecs),
		})
	case "gemini":
		return gemini.New(gemini.Config{
			Endpoint:  c.Gemini.Endpoint,
			APIKeyEnv: c.Gemini.APIKeyEnv,
			Model:     c.Gemini.Model,
			Timeout:   secs(c.Gemini.TimeoutSecs),
		})
	default:
		return nil, fmt.Errorf("%w: unknown completer %s", domain.ErrInvalidConfig, c.Type)
	}
}
