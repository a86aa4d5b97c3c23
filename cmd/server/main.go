// Command server runs the civic-issue reporting API.
//
// main stays small: load configuration, build the logger, hand both to the
// server package and block until shutdown. Everything else lives under
// internal/.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/civic-reports/internal/config"
	"github.com/sakif/civic-reports/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()

	// Validate before dialling anything so a bad secret fails fast.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
