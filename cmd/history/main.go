package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/quantfold/driftcore/internal/config"
	"github.com/quantfold/driftcore/internal/drift"
	"github.com/quantfold/driftcore/internal/history"
	"github.com/quantfold/driftcore/internal/logging"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadHistoryConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("history", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if len(cfg.Users) == 0 {
		logger.Error("no users configured, set HISTORY_USERS")
		os.Exit(1)
	}

	store, err := history.NewStore(cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	archive := drift.NewHistoryClient(logging.Component(logger, "archive"))
	if cfg.ArchivePrefix != "" {
		archive = archive.WithArchivePrefix(cfg.ArchivePrefix)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backfiller := history.NewBackfiller(archive, store, logging.Component(logger, "backfill"))
	if err := backfiller.Run(ctx, cfg.ProgramID, cfg.Users, cfg.DaysBack); err != nil && ctx.Err() == nil {
		logger.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}
