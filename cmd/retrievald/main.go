package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studypath/retrieval/internal/compressor"
	"github.com/studypath/retrieval/internal/config"
	"github.com/studypath/retrieval/internal/embedder"
	"github.com/studypath/retrieval/internal/llm"
	"github.com/studypath/retrieval/internal/reranker"
	"github.com/studypath/retrieval/internal/rewriter"
	"github.com/studypath/retrieval/internal/semcache"
	"github.com/studypath/retrieval/internal/server"
	"github.com/studypath/retrieval/internal/service"
	"github.com/studypath/retrieval/internal/validator"
	"github.com/studypath/retrieval/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting retrieval service",
		"http_port", cfg.HTTPPort,
		"vector_backend", cfg.VectorBackend,
		"environment", cfg.Environment,
	)

	// Embedder: one instance shared by the store, the cache, and the
	// pipeline, so everything compares vectors from the same model.
	embed := buildEmbedder(cfg)
	slog.Info("initialized embedder", "model", embed.ModelName())

	// Vector store
	store, err := buildStore(ctx, cfg, embed)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()
	slog.Info("opened vector store", "backend", cfg.VectorBackend)

	// LLM chain: Ollama first, then an OpenAI-compatible provider when
	// an API key is configured.
	llmClient := buildLLM(cfg)

	// Semantic cache; degrades to a passthrough when Redis is absent.
	cache := buildCache(ctx, cfg, embed)

	rerank := reranker.Select(cfg.RerankStrategy, cfg.RerankURL, cfg.RerankAPIKey, llmClient, slog.Default())

	svcOpts := []service.Option{
		service.WithCache(cache),
		service.WithReranker(rerank),
		service.WithRRFK(cfg.RRFK),
		service.WithDefaultTopK(cfg.DefaultTopK),
		service.WithDefaultMinRelevance(cfg.DefaultMinRelevance),
	}
	if llmClient != nil {
		svcOpts = append(svcOpts, service.WithRewriter(rewriter.New(llmClient,
			rewriter.WithModel(cfg.OllamaLLMModel),
			rewriter.WithThreshold(cfg.RewriteThreshold),
		)))
		if cfg.CompressorEnabled {
			svcOpts = append(svcOpts, service.WithCompressor(compressor.New(llmClient,
				compressor.WithModel(cfg.OllamaLLMModel),
			)))
		}
	}
	retrievalSvc := service.NewRetrievalService(store, embed, svcOpts...)

	urlValidator := validator.New(
		validator.WithConcurrency(cfg.ValidatorConcurrency),
		validator.WithTimeout(cfg.ValidatorTimeout),
	)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Service:        retrievalSvc,
		Validator:      urlValidator,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func buildEmbedder(cfg *config.Config) embedder.Embedder {
	if cfg.EmbeddingProvider == "openai" && cfg.OpenAIAPIKey != "" {
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIEmbeddingModel,
		})
	}
	return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
}

func buildStore(ctx context.Context, cfg *config.Config, embed embedder.Embedder) (vectorstore.VectorStore, error) {
	metric := vectorstore.DistanceMetric(cfg.DistanceMetric)
	switch cfg.VectorBackend {
	case "qdrant":
		return vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, embed)
	default:
		return vectorstore.NewSQLiteStore(vectorstore.SQLiteConfig{
			DataDir: cfg.DataDir,
			Metric:  metric,
		}, embed)
	}
}

func buildLLM(cfg *config.Config) llm.LLM {
	var clients []llm.LLM
	clients = append(clients, llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	))
	if cfg.OpenAIAPIKey != "" {
		clients = append(clients, llm.NewOpenAIClient(cfg.OpenAIAPIKey,
			llm.WithOpenAIBaseURL(cfg.OpenAIBaseURL),
			llm.WithOpenAIModel(cfg.OpenAILLMModel),
		))
	}
	chain := llm.NewChain(clients...)
	slog.Info("initialized LLM chain", "providers", chain.Len())
	return chain
}

func buildCache(ctx context.Context, cfg *config.Config, embed embedder.Embedder) *semcache.Cache {
	if cfg.RedisURL == "" {
		slog.Info("semantic cache disabled, no redis url configured")
		return semcache.New(nil, nil)
	}
	kv, err := semcache.NewRedisKV(ctx, cfg.RedisURL)
	if err != nil {
		slog.Warn("semantic cache disabled, redis unreachable", "error", err)
		return semcache.New(nil, nil)
	}
	slog.Info("connected to redis semantic cache")
	return semcache.New(kv, embed,
		semcache.WithThreshold(cfg.CacheThreshold),
		semcache.WithTTL(cfg.CacheTTL),
	)
}

// Ensure interfaces are satisfied at compile time
var (
	_ vectorstore.VectorStore = (*vectorstore.SQLiteStore)(nil)
	_ vectorstore.VectorStore = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder       = (*embedder.OllamaEmbedder)(nil)
	_ embedder.Embedder       = (*embedder.OpenAIEmbedder)(nil)
	_ llm.LLM                 = (*llm.OllamaClient)(nil)
	_ llm.LLM                 = (*llm.OpenAIClient)(nil)
	_ llm.LLM                 = (*llm.Chain)(nil)
)
