package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/temcen/simrec/internal/app"
	"github.com/temcen/simrec/internal/config"
	"github.com/temcen/simrec/internal/database"
	"github.com/temcen/simrec/internal/services"
	"github.com/temcen/simrec/internal/store"
)

func main() {
	flags := pflag.NewFlagSet("vectorize", pflag.ExitOnError)
	flags.String("config", "", "path to a config file (default ./config/app.yaml)")
	flags.Int("batch-size", 500, "movies per write transaction")
	flags.Bool("dry-run", false, "build vectors without writing them")
	flags.String("log-level", "info", "log level")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vectorize [flags]\n\nRebuilds the feature vector of every movie in the catalog.\n\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, logger)
	if report != nil {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		logger.WithError(err).Fatal("Vectorization failed")
	}
	if report.FailedBatches > 0 {
		logger.WithField("failed_batches", report.FailedBatches).Fatal("Vectorization finished with failed batches")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*services.VectorizationReport, error) {
	db, err := database.New(cfg, logger, database.Postgres|database.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db.PG); err != nil {
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	pg := store.NewPostgresStore(db.PG, logger)
	vectors := store.NewCachedVectorReader(pg, db.Redis.Cold, cfg.Recommendation.VectorCacheTTL, logger)
	jobs := services.NewJobManager(db.PG, db.Redis.Warm, logger)
	// No result cache lives in this process; servers expire theirs by TTL.
	vectorization := services.NewVectorizationService(pg, pg, pg, jobs, vectors, nil, nil, logger)
	defer vectorization.Close()

	return vectorization.Run(ctx, services.VectorizeOptions{
		BatchSize: cfg.Vectorizer.BatchSize,
		DryRun:    cfg.Vectorizer.DryRun,
	})
}
