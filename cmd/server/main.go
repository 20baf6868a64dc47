// Package main is the entry point for the context8 API server binary. It
// dispatches three subcommands — serve, migrate, and version — via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs auto-migration on startup so freshly deployed
// containers never need a separate migration step.
//
// The bleve index is an embedded, single-process store, so serve also runs
// the background queue consumers in-process by default (disable with
// -workers=false only when the index path is handed to a standalone worker
// and this server is stopped).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/context8/context8-docker/internal/api"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/db"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/embeddings"
	"github.com/context8/context8-docker/internal/federation"
	"github.com/context8/context8-docker/internal/jobs"
	"github.com/context8/context8-docker/internal/queue"
	"github.com/context8/context8-docker/internal/quota"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/services"
	"github.com/context8/context8-docker/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 && os.Args[1][0] != '-' {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		return runMigrations(cfg)
	case "version":
		fmt.Printf("context8 v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	workers := fs.Bool("workers", true, "run queue consumers in-process")
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations completed")

	stopGauge := make(chan struct{})
	defer close(stopGauge)
	telemetry.StartDBPoolGauge(database, 15*time.Second, stopGauge)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Queues and rate limiting degrade without Redis; the write path and
		// search still work, so start anyway and let /status report it.
		slog.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}
	cancelPing()

	index, err := searchindex.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	defer index.Close()
	slog.Info("search index opened", "path", cfg.Index.Path)

	embedQueue := queue.New(rdb, "embedding")
	syncQueue := queue.New(rdb, "index_sync")

	provider := embeddings.Provider(embeddings.Disabled())
	if cfg.Embedding.URL != "" {
		provider = embeddings.NewHTTPProvider(cfg.Embedding)
	}
	embedder := embeddings.NewService(provider, cfg.Embedding, cfg.Embedding.URL != "" && cfg.Index.VectorEnabled())

	users := repositories.NewUserRepository(database)
	keys := repositories.NewAPIKeyRepository(database)
	solutions := repositories.NewSolutionRepository(database)
	votes := repositories.NewVoteRepository(database)

	tokens := auth.NewTokenVerifier(cfg.Auth)
	resolver := auth.NewResolver(users, keys, tokens)
	limiter := quota.NewLimiter(solutions)
	peers := federation.NewClient(cfg.Federation)

	solutionSvc := services.NewSolutionService(solutions, votes, index, embedder, limiter, embedQueue, syncQueue)
	voteSvc := services.NewVoteService(solutions, votes, index, syncQueue)
	searchSvc := services.NewSearchService(index, solutions, embedder, peers, cfg.Index)
	keySvc := services.NewAPIKeyService(users, keys, solutions, index)
	authSvc := services.NewAuthService(users, tokens)
	statusSvc := services.NewStatusService(database, rdb, index, embedder, embedQueue, syncQueue)

	router := api.NewRouter(api.Deps{
		Resolver:  resolver,
		Auth:      authSvc,
		Solutions: solutionSvc,
		Votes:     voteSvc,
		Search:    searchSvc,
		Keys:      keySvc,
		Status:    statusSvc,
		Redis:     rdb,
		Cfg:       cfg,
	})

	startMetricsServer()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if *workers {
		startConsumers(workerCtx, cfg, solutions, embedder, index, syncQueue, embedQueue)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves Prometheus metrics on a dedicated port so the
// scrape path stays off the public ingress and outside the rate limiter.
func startMetricsServer() {
	addr := os.Getenv("C8_METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func startConsumers(
	ctx context.Context,
	cfg *config.Config,
	solutions *repositories.SolutionRepository,
	embedder *embeddings.Service,
	index *searchindex.Index,
	syncQueue, embedQueue *queue.Queue,
) {
	embedHandler := jobs.NewEmbeddingRetryHandler(solutions, embedder, index, syncQueue)
	embedConsumer := jobs.NewConsumer(embedQueue, embedHandler,
		cfg.Queue.EmbeddingMaxRetries, cfg.Queue.EmbeddingBackoff, cfg.Queue.PollInterval)

	syncHandler := jobs.NewIndexSyncHandler(solutions, index)
	syncConsumer := jobs.NewConsumer(syncQueue, syncHandler,
		cfg.Queue.IndexSyncMaxRetries, cfg.Queue.IndexSyncBackoff, cfg.Queue.PollInterval)

	go embedConsumer.Run(ctx)
	go syncConsumer.Run(ctx)
	slog.Info("queue consumers started",
		"queues", []string{embedQueue.Name(), syncQueue.Name()})
}

func runMigrations(cfg *config.Config) error {
	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migration completed successfully")
	return nil
}
