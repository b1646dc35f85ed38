package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"chatgate/internal/engine/usage"
	"chatgate/internal/pkg/logger"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/database"
	"chatgate/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Prune once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	usageRepo := usage.NewRepository(db)
	svc := usage.NewService(usageRepo, usage.NewTracker(usageRepo, cfg.Quota))
	worker := workers.NewRetentionWorker(svc, cfg.Usage.RetentionDays, cfg.Usage.PruneInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		n, err := worker.RunOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("usage retention failed")
		}
		log.Info().Int64("deleted", n).Msg("usage retention complete")
		return
	}

	log.Info().
		Int("retention_days", cfg.Usage.RetentionDays).
		Dur("interval", cfg.Usage.PruneInterval).
		Msg("starting usage retention worker")
	worker.Run(ctx)
}
