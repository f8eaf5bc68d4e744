package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(config.DefaultLogLevel).Fatal("failed to load configuration", "error", err)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting TinyLens server",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"in_memory", cfg.InMemory,
		"max_storage_gb", cfg.MaxStorageGB,
		"max_memory_mb", cfg.MaxMemoryMB,
		"redis", cfg.Redis.Addr != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize server", "error", err)
	}

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		log.Warn("failed to close storage cleanly", "error", err)
	}
	if runErr != nil {
		log.Fatal("server stopped with error", "error", runErr)
	}
	log.Info("TinyLens server exited cleanly")
}
