// Atlas - challenge and wager infrastructure for fitness accountability
package main

import (
	"context"
	"os"

	"github.com/atlashq/atlas-core/internal/config"
	"github.com/atlashq/atlas-core/internal/logging"
	"github.com/atlashq/atlas-core/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)

	logger.Info("starting atlas",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
