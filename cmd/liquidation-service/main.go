package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coruscant-bank/beskar-liquidation/internal/app"
	"github.com/coruscant-bank/beskar-liquidation/internal/config"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  100,
		MaxAgeDays: 7,
		MaxBackups: 5,
		Compress:   true,
	})
	defer log.Sync()

	log.Info("starting liquidation service")

	a, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to construct service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.WithError(err).Fatal("service exited with error")
	}

	log.Info("liquidation service stopped gracefully")
}
