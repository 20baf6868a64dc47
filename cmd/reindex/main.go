// Package main rebuilds the search index from the ledger. It pages through
// every solution in creation order and upserts each one, so a drifted or
// corrupted index converges back to the ledger's contents. Upserts are
// idempotent; interrupting and re-running is safe.
//
// With -fresh the index directory is removed first, turning the run into a
// from-scratch rebuild instead of a repair. The target index must not be open
// in a running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/context8/context8-docker/internal/config"
	"github.com/context8/context8-docker/internal/db"
	"github.com/context8/context8-docker/internal/db/repositories"
	"github.com/context8/context8-docker/internal/searchindex"
	"github.com/context8/context8-docker/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	batchSize := flag.Int("batch", 500, "solutions per ledger page")
	fresh := flag.Bool("fresh", false, "delete the index and rebuild from scratch")
	flag.Parse()

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

	if *fresh {
		if err := os.RemoveAll(cfg.Index.Path); err != nil {
			return fmt.Errorf("failed to remove index at %s: %w", cfg.Index.Path, err)
		}
		log.Printf("Removed existing index at %s", cfg.Index.Path)
	}

	index, err := searchindex.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	defer index.Close()

	solutions := repositories.NewSolutionRepository(database)

	ctx := context.Background()
	start := time.Now()
	indexed := 0
	for offset := 0; ; offset += *batchSize {
		batch, err := solutions.ListBatch(ctx, *batchSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list solutions at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			if err := index.Upsert(searchindex.FromSolution(&batch[i])); err != nil {
				return fmt.Errorf("failed to index solution %s: %w", batch[i].ID, err)
			}
			indexed++
		}
		log.Printf("Indexed %d solutions...", indexed)
	}

	count, err := index.DocCount()
	if err != nil {
		return fmt.Errorf("failed to read index doc count: %w", err)
	}
	log.Printf("Reindex complete: %d solutions indexed in %s (index now holds %d documents)",
		indexed, time.Since(start).Round(time.Millisecond), count)
	return nil
}
