package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robert1948/localstorm-sub001/pkg/config"
	"github.com/robert1948/localstorm-sub001/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	// Write a default config on first run so the file is there to edit.
	if path, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to ensure default config", "path", path, "error", err)
	}

	cfg, path, err := config.Load()
	if err != nil {
		logger.Warn("Failed to load config; falling back to defaults", "path", path, "error", err)
		cfg = &config.AppConfig{}
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
