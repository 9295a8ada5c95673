package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/policyqa/internal/app"
	"github.com/markdave123-py/policyqa/internal/config"
	"github.com/markdave123-py/policyqa/internal/logger"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	log := logger.NewLogger(&logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		Output:     os.Stdout,
		JSON:       cfg.LogJSON,
		TimeFormat: time.RFC3339,
	})
	logger.SetDefault(log)
	ctx = logger.ContextWithLogger(ctx, log)

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	application.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- application.Server.Start() }()

	log.Info("policyqa is running", "doc_id", cfg.DocID, "provider", cfg.AIProvider, "local_mode", cfg.LocalMode())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
	log.Info("shutting down...")
}
