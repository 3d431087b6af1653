// Atlas server — the cognitive core behind the conversational agent. Serves
// the HTTP API, runs the background scheduler, and owns the memory graph.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-agent/atlas/pkg/api"
	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/contextbuilder"
	"github.com/atlas-agent/atlas/pkg/database"
	"github.com/atlas-agent/atlas/pkg/episodes"
	"github.com/atlas-agent/atlas/pkg/executor"
	"github.com/atlas-agent/atlas/pkg/extractor"
	"github.com/atlas-agent/atlas/pkg/graph"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/memory"
	"github.com/atlas-agent/atlas/pkg/orchestrator"
	"github.com/atlas-agent/atlas/pkg/scheduler"
	"github.com/atlas-agent/atlas/pkg/semcache"
	"github.com/atlas-agent/atlas/pkg/services"
	"github.com/atlas-agent/atlas/pkg/synthesizer"
	"github.com/atlas-agent/atlas/pkg/vector"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Flags.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	// 2. Database and graph store
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	store := graph.NewStore(dbClient.DB)
	vectors := vector.NewPostgresStore(dbClient.DB)
	slog.Info("Connected to PostgreSQL")

	// 3. Semantic cache (optional; the pipeline degrades without it)
	var cache *semcache.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		cache = semcache.New(rdb, cfg.Context.CacheTTL, cfg.Context.CacheSimilarityThreshold)
		slog.Info("Semantic cache enabled", "addr", addr)
	} else {
		slog.Warn("REDIS_ADDR not set, semantic cache disabled")
	}

	// 4. LLM router and predicate catalog
	router := llm.NewRouter(cfg.Models, llm.NewHTTPCaller())
	cat := catalog.Load(cfg.CatalogPath)

	embedModel := ""
	if refs := cfg.Models.Governance("embedder"); len(refs) > 0 {
		embedModel = refs[0].Model
	}

	// 5. Pipeline components
	engine := memory.NewEngine(store, cfg.Memory)
	gate := memory.NewGate(cfg.Memory, store)
	extr := extractor.New(router, cat, cfg.Memory)
	builder := contextbuilder.New(store, vectors, router, cfg.Context, cfg.Flags)
	orch := orchestrator.New(router, store)
	exec := executor.New(router, store, engine, cache, cat, nil)
	synth := synthesizer.New(router, store)
	cutter := episodes.NewCutter(store, cfg.Memory.EpisodeWindow)
	worker := episodes.NewWorker(store, router, vectors, cfg.Memory, embedModel)
	consolidator := episodes.NewConsolidator(store, worker, vectors, cfg.Memory)

	// 6. Services
	chatService := services.NewChatService(services.ChatDeps{
		Graph:       store,
		Builder:     builder,
		Planner:     orch,
		Executor:    exec,
		Synthesizer: synth,
		Extractor:   extr,
		Gate:        gate,
		Engine:      engine,
		Embedder:    router,
		Cutter:      cutter,
		Cache:       cache,
		Flags:       cfg.Flags,
		Memory:      cfg.Memory,
	})
	userService := services.NewUserService(store, cfg.Flags)
	memoryService := services.NewMemoryService(store, engine, vectors, cache, cat)
	slog.Info("Services initialized")

	// 7. Scheduler
	coordinator := scheduler.NewCoordinator(store, cfg.Scheduler)
	coordinator.Register(
		&scheduler.HeartbeatJob{DB: dbClient, Every: cfg.Scheduler.HeartbeatInterval},
		&scheduler.DecayJob{Facts: store, Cfg: cfg.Memory, Every: cfg.Scheduler.DecayInterval},
		&scheduler.MaintenanceJob{Store: store, Cfg: cfg.Scheduler},
		&scheduler.EpisodeJob{Worker: worker, Every: cfg.Scheduler.EpisodeWorkerInterval},
		&scheduler.ConsolidationJob{Consolidator: consolidator, Every: cfg.Scheduler.ConsolidationInterval},
		&scheduler.DueScannerJob{Store: store, Cfg: cfg.Scheduler},
		&scheduler.ObserverJob{Store: store, Cfg: cfg.Scheduler, DefaultMode: cfg.Flags.DefaultMemoryMode},
	)
	coordinator.Start()
	slog.Info("Scheduler started", "holder", coordinator.Holder())

	// 8. HTTP server
	apiServer := api.NewServer(chatService, userService, memoryService, dbClient, cfg.Flags)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("Atlas started")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: scheduler first so the lock is released, then
	// the HTTP server with its own timeout budget.
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	coordinator.Stop(shutdownCtx)
	slog.Info("Scheduler stopped")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
