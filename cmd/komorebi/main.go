// Command komorebi starts the chunk ingestion and summarization service:
// HTTP capture/query API, SSE event feed, background worker pool, and MCP
// tool aggregation.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/earchibald/komorebi-sub001/pkg/api"
	"github.com/earchibald/komorebi-sub001/pkg/bulkops"
	"github.com/earchibald/komorebi-sub001/pkg/capture"
	"github.com/earchibald/komorebi-sub001/pkg/compactor"
	"github.com/earchibald/komorebi-sub001/pkg/config"
	"github.com/earchibald/komorebi-sub001/pkg/entities"
	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/llmclient"
	"github.com/earchibald/komorebi-sub001/pkg/mcp"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/queue"
	"github.com/earchibald/komorebi-sub001/pkg/similarity"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	logger := slog.Default().With("component", "cmd.komorebi")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewPostgresRepository(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect storage: %v", err)
	}
	defer repo.Close()
	logger.Info("connected to storage")

	bus := events.NewBus(events.DefaultBufferSize)

	llmCfg := llmclient.Config{
		Host:           cfg.LLM.Host,
		Model:          cfg.LLM.Model,
		Timeout:        cfg.LLM.Timeout,
		MaxConnections: cfg.LLM.MaxConnections,
	}
	llm := llmclient.NewClient(llmCfg)

	mcpFile, err := config.LoadMCPServersFile(cfg.MCP.ConfigPath)
	if err != nil {
		logger.Warn("loading mcp servers file failed, continuing with no MCP servers", "error", err)
		mcpFile = config.MCPServersFile{}
	}
	registry := config.NewMCPServerRegistry(mcpFile)

	mcpClient := mcp.NewClient(registry)
	mcpClient.Initialize(ctx, registry.ServerIDs())
	defer mcpClient.Close()

	healthMonitor := mcp.NewHealthMonitor(mcpClient, bus)
	healthMonitor.Start(ctx, registry.ServerIDs())
	defer healthMonitor.Stop()

	extractor := entities.NewExtractor(repo, llm, bus)

	compactorCfg := compactor.Config{
		ContextThresholdBytes: cfg.Compactor.ContextThresholdBytes,
		MaxDepth:              cfg.Compactor.MaxDepth,
	}
	compact := compactor.NewCompactor(repo, llm, bus, compactorCfg)

	pipeline := &processingPipeline{compactor: compact, extractor: extractor, chunks: repo, logger: logger}

	pool := queue.NewWorkerPool(queue.Config{
		WorkerCount: cfg.Queue.WorkerCount,
		Capacity:    cfg.Queue.Capacity,
	}, pipeline, repo)
	pool.Start(ctx)
	defer pool.Stop()

	captureSvc := capture.New(repo, bus, pool, cfg.Capture.MaxContentBytes)
	bulkSvc := bulkops.New(repo, bus)
	mcpSvc := mcp.NewService(mcpClient, registry, captureSvc)
	finder := similarity.NewFinder(repo)

	router := api.NewRouter(api.Deps{
		Repo:      repo,
		Capture:   captureSvc,
		Bulk:      bulkSvc,
		MCP:       mcpSvc,
		Health:    healthMonitor,
		LLM:       llm,
		Bus:       bus,
		QueuePool: pool,
		Finder:    finder,
	})

	srv := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "port", httpPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}

// processingPipeline adapts compactor.Compactor and entities.Extractor into
// a single queue.Processor: the compactor runs synchronously (its return
// value is the worker's observable outcome), entity extraction runs
// non-blocking afterward so a slow extraction never delays the worker from
// picking up the next chunk.
type processingPipeline struct {
	compactor *compactor.Compactor
	extractor *entities.Extractor
	chunks    storage.ChunkRepository
	logger    *slog.Logger
}

func (p *processingPipeline) ProcessChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	chunk, err := p.compactor.ProcessChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	go func() {
		extractCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := p.extractor.Extract(extractCtx, chunk); err != nil {
			p.logger.Error("entity extraction failed", "chunk_id", chunk.ID, "error", err)
		}
	}()

	return chunk, nil
}
