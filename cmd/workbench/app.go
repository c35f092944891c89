package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/workbench/internal/api"
	"github.com/kalambet/workbench/internal/config"
	"github.com/kalambet/workbench/internal/engine"
	"github.com/kalambet/workbench/internal/ingest"
	"github.com/kalambet/workbench/internal/loader"
	"github.com/kalambet/workbench/internal/rag"
	"github.com/kalambet/workbench/internal/retrieval"
	"github.com/kalambet/workbench/internal/splitter"
	"github.com/kalambet/workbench/internal/storage"
	"github.com/kalambet/workbench/internal/sweep"
	"github.com/kalambet/workbench/internal/tracing"
)

// app owns every long-lived component. Close releases them in reverse order.
type app struct {
	cfg       config.Config
	store     *storage.Store
	vectors   retrieval.VectorStore
	recorder  *tracing.Recorder
	chat      engine.Engine
	retriever *retrieval.Retriever
	pipeline  *ingest.Pipeline
	worker    *ingest.Worker
	sweeper   *sweep.Sweeper
	answerer  *rag.Answerer

	stopBackground context.CancelFunc
	background     sync.WaitGroup
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newApp connects to the configured providers and stores. Readiness output
// (model checks and pulls) is written to progress.
func newApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a.vectors, err = openVectorStore(ctx, cfg, a.store)
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.LLM.OpenAIBaseURL,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		OllamaBaseURL:   cfg.Ollama.BaseURL,
		Dimensions:      cfg.Embedding.Dimensions,
	}
	chat, err := engine.New(cfg.LLM.Provider, opts)
	if err != nil {
		return nil, fmt.Errorf("creating chat engine: %w", err)
	}
	embed, err := engine.New(cfg.Embedding.Provider, opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedding engine: %w", err)
	}

	if err := engine.EnsureReady(ctx, chat, []string{cfg.LLM.Model}, progress); err != nil {
		return nil, err
	}
	if err := engine.EnsureReady(ctx, embed, []string{cfg.Embedding.Model}, progress); err != nil {
		return nil, err
	}

	if cfg.Tracing.Enabled() {
		a.recorder = tracing.NewRecorder(cfg.Tracing.Endpoint, cfg.Tracing.APIKey, cfg.Tracing.Project)
		chat = engine.Traced(chat, cfg.LLM.Provider, a.recorder)
		embed = engine.Traced(embed, cfg.Embedding.Provider, a.recorder)
		slog.Info("tracing LLM calls", "endpoint", cfg.Tracing.Endpoint, "project", cfg.Tracing.Project)
	}
	a.chat = chat

	embedder := retrieval.NewEmbedder(embed, cfg.Embedding.Model, retrieval.EmbedderOptions{
		Dimensions: cfg.Embedding.Dimensions,
		RateLimit:  cfg.Embedding.RateLimit,
	})
	a.retriever = retrieval.NewRetriever(embedder, a.vectors)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	translator := loader.NewLLMTranslator(chat, cfg.LLM.Model)
	a.pipeline = ingest.NewPipeline(
		a.vectors,
		embedder,
		loader.NewWebLoader(httpClient),
		loader.NewYouTubeLoader(httpClient, "", translator),
		splitter.New(cfg.Splitter.ChunkSize, cfg.Splitter.ChunkOverlap),
		cfg.KB.TemporaryTTL,
	)
	a.worker = ingest.NewWorker(a.store, a.pipeline, 500*time.Millisecond)
	a.sweeper = sweep.New(a.vectors, a.store, cfg.KB.SweepInterval)
	a.answerer = rag.NewAnswerer(a.retriever, rag.NewComposer(cfg.RAG.MaxContextTokens), chat, cfg.LLM.Model, cfg.Retrieval.TopK)
	if cfg.RAG.Rerank {
		a.answerer.WithReranker(rag.NewLLMReranker(chat, cfg.LLM.Model, cfg.RAG.RerankTimeout, cfg.RAG.RerankThreshold))
	}

	ready = true
	return a, nil
}

func openVectorStore(ctx context.Context, cfg config.Config, store *storage.Store) (retrieval.VectorStore, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return retrieval.NewSQLiteStore(store.DB()), nil
	case config.BackendMongo:
		ms, err := retrieval.NewMongoStore(ctx, retrieval.MongoOptions{
			URI:         cfg.Store.MongoURI,
			Database:    cfg.Store.Database,
			Collection:  cfg.Store.Collection,
			VectorIndex: cfg.Store.VectorIndex,
			Dimensions:  cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			ms.Close()
			return nil, fmt.Errorf("creating mongo indexes: %w", err)
		}
		if err := ms.EnsureSearchIndex(ctx); err != nil {
			slog.Warn("vector search index not created; make sure it exists in Atlas", "index", cfg.Store.VectorIndex, "error", err)
		}
		return ms, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// deps exposes the app to the HTTP and MCP surfaces.
func (a *app) deps() api.Deps {
	return api.Deps{
		Ingester:      a.pipeline,
		Asker:         a.answerer,
		Retriever:     a.retriever,
		Sources:       a.vectors,
		Sweeper:       a.sweeper,
		Jobs:          a.store,
		Token:         a.cfg.Server.APIToken,
		SessionSecret: []byte(a.cfg.Server.SessionSecret),
	}
}

// runBackground starts the ingest worker and the sweeper. Both stop with ctx
// or when the app is closed.
func (a *app) runBackground(ctx context.Context) {
	if n, err := a.store.RequeueStaleJobs(); err != nil {
		slog.Warn("requeueing stale jobs", "error", err)
	} else if n > 0 {
		slog.Info("requeued jobs interrupted by a previous shutdown", "count", n)
	}
	ctx, a.stopBackground = context.WithCancel(ctx)
	a.background.Go(func() { a.worker.Run(ctx) })
	a.background.Go(func() { a.sweeper.Run(ctx) })
}

// Close stops the background loops, waits for them, then releases the stores.
func (a *app) Close() error {
	if a.stopBackground != nil {
		a.stopBackground()
	}
	a.background.Wait()

	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
