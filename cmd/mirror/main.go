package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/quantfold/driftcore/internal/config"
	"github.com/quantfold/driftcore/internal/logging"
	"github.com/quantfold/driftcore/internal/mirror"
	"github.com/quantfold/driftcore/internal/solrpc"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadMirrorConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("mirror", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	if !cfg.ReadOnly {
		signer, err := cfg.LoadSigner()
		if err != nil {
			logger.Error("failed to load signer", "err", err)
			os.Exit(1)
		}
		logger.Info("dispatch signer loaded", "pubkey", signer.PublicKey())
	}

	rpcClient := solrpc.New(cfg.RPCURL,
		solrpc.WithCommitment(cfg.Commitment),
		solrpc.WithRequestsPerSecond(cfg.RPCRequestsPerSec, int(cfg.RPCRequestsPerSec)),
		solrpc.WithLogger(logging.Component(logger, "rpc")),
	)

	svc := mirror.NewService(mirror.Config{
		ProgramID:  cfg.ProgramID,
		Users:      cfg.Users,
		WSURL:      cfg.WSURL,
		XToken:     cfg.XToken,
		Commitment: cfg.Commitment,
	}, rpcClient, logging.Component(logger, "mirror"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mirror exited with error", "err", err)
		os.Exit(1)
	}
}
