package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/guchanghao1/zhianjian-system/internal"
	"github.com/guchanghao1/zhianjian-system/internal/agent"
	"github.com/guchanghao1/zhianjian-system/internal/ai"
	"github.com/guchanghao1/zhianjian-system/internal/ai/dashscope"
	"github.com/guchanghao1/zhianjian-system/internal/ai/mock"
	"github.com/guchanghao1/zhianjian-system/internal/analyzer"
	"github.com/guchanghao1/zhianjian-system/internal/cache"
	"github.com/guchanghao1/zhianjian-system/internal/knowledge"
	"github.com/guchanghao1/zhianjian-system/internal/middleware"
	"github.com/guchanghao1/zhianjian-system/internal/report"
	"github.com/guchanghao1/zhianjian-system/internal/server"
	"github.com/guchanghao1/zhianjian-system/internal/storage"
	"github.com/guchanghao1/zhianjian-system/internal/stream"
	"github.com/guchanghao1/zhianjian-system/internal/tools"
)

func run() error {
	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Shared memo cache for analysis, retrieval, and report sections
	memo := cache.New(cfg.CacheMaxEntries)

	// ==========================================================================
	// AI provider
	// ==========================================================================

	var provider ai.Provider
	var completer agent.ChatCompleter

	switch cfg.AIProvider {
	case "dashscope":
		ds, err := dashscope.New(dashscope.Config{
			APIKey:      cfg.DashscopeAPIKey,
			BaseURL:     cfg.DashscopeURL,
			ChatModel:   cfg.ChatModel,
			VisionModel: cfg.VisionModel,
			ProviderConfig: ai.ProviderConfig{
				MaxRetries:     cfg.AIMaxRetries,
				RetryBaseDelay: cfg.AIRetryDelay,
				RequestTimeout: cfg.AITimeout,
			},
		}, logger)
		if err != nil {
			return fmt.Errorf("dashscope provider initialization failed: %w", err)
		}
		provider = ds

		clientCfg := openai.DefaultConfig(cfg.DashscopeAPIKey)
		clientCfg.BaseURL = cfg.DashscopeURL
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
		completer = openai.NewClientWithConfig(clientCfg)
	default:
		provider = mock.New(logger)
		completer = &mock.Completer{}
		logger.Warn("Running with mock AI provider, responses are canned")
	}

	// ==========================================================================
	// Pipeline components
	// ==========================================================================

	imageAnalyzer := analyzer.New(provider, memo, logger, cfg.MaxImageSize)

	vectorStore, err := knowledge.NewWeaviateStore(cfg.WeaviateHost, cfg.WeaviateScheme, knowledge.CollectionName)
	if err != nil {
		return fmt.Errorf("weaviate client initialization failed: %w", err)
	}
	retriever := knowledge.NewRetriever(vectorStore, memo, logger, knowledge.Config{
		RetrievalK:   cfg.RetrievalK,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})

	composer := report.NewComposer(provider, memo, logger)
	exporter := report.NewPDFExporter(cfg.OutputDir, "", logger)

	toolbox := tools.New(imageAnalyzer, retriever, composer, exporter, logger)

	assistant := agent.New(completer, cfg.ChatModel, toolbox.Definitions(), logger, 0)
	streamer := stream.New(assistant, logger, stream.Config{
		MaxRetries: cfg.StreamMaxRetries,
		RetryDelay: cfg.StreamRetryDelay,
		MinChunk:   cfg.StreamMinChunk,
		MaxChunk:   cfg.StreamMaxChunk,
	})

	// ==========================================================================
	// Storage
	// ==========================================================================

	var store storage.Storage
	switch cfg.StorageProvider {
	case storage.ProviderS3:
		store, err = storage.NewS3Storage(storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			BucketName:      cfg.S3BucketName,
			PublicURL:       cfg.S3PublicURL,
		}, logger)
	default:
		store, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	exporter.SetArchive(store)

	// ==========================================================================
	// Router
	// ==========================================================================

	srv := server.New(streamer, retriever, store, logger, server.Config{
		UploadDir:    cfg.UploadDir,
		MaxImageSize: cfg.MaxImageSize,
	})

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	metricsAuth := middleware.MetricsAuth(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth(promhttp.Handler()))

	handler := middleware.RequestLogging(logger)(middleware.HTTPMetrics(mux))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", httpServer.Addr, "env", cfg.Env, "ai_provider", cfg.AIProvider)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
