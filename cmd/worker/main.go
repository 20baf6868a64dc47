// Package main runs the background queue consumers as a standalone process:
// embedding retries and index reconciliation. It exists for deployments that
// keep the API and the consumers in separate containers.
//
// The bleve index is an embedded store and admits one process at a time: run
// this binary only against an index path no active server holds open (start
// the server with -workers=false and its own index, or stop it first). The
// common single-node deployment skips this binary entirely and lets the
// server run the consumers in-process.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/db"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/embeddings"
	"github.com/context8/context8-docker/internal/jobs"
	"github.com/context8/context8-docker/internal/queue"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		// Unlike the server, this process is nothing but queue consumers.
		return fmt.Errorf("redis unreachable: %w", err)
	}

	index, err := searchindex.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	defer index.Close()

	solutions := repositories.NewSolutionRepository(database)
	provider := embeddings.Provider(embeddings.Disabled())
	if cfg.Embedding.URL != "" {
		provider = embeddings.NewHTTPProvider(cfg.Embedding)
	}
	embedder := embeddings.NewService(provider, cfg.Embedding, cfg.Embedding.URL != "" && cfg.Index.VectorEnabled())

	embedQueue := queue.New(rdb, "embedding")
	syncQueue := queue.New(rdb, "index_sync")

	embedConsumer := jobs.NewConsumer(
		embedQueue,
		jobs.NewEmbeddingRetryHandler(solutions, embedder, index, syncQueue),
		cfg.Queue.EmbeddingMaxRetries, cfg.Queue.EmbeddingBackoff, cfg.Queue.PollInterval)
	syncConsumer := jobs.NewConsumer(
		syncQueue,
		jobs.NewIndexSyncHandler(solutions, index),
		cfg.Queue.IndexSyncMaxRetries, cfg.Queue.IndexSyncBackoff, cfg.Queue.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, c := range []*jobs.Consumer{embedConsumer, syncConsumer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}
	slog.Info("worker started", "queues", []string{embedQueue.Name(), syncQueue.Name()})

	<-ctx.Done()
	slog.Info("shutting down worker")
	wg.Wait()
	slog.Info("worker stopped gracefully")
	return nil
}
