// Package main is the entry point for the progress tracker server.
//
// The main package stays minimal. Its job is to:
//  1. read configuration from environment variables
//  2. create the logger
//  3. build the server and block until it shuts down
//
// Persistence, the change feed and the HTTP API live in internal/server and
// the packages it wires together.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/progress-tracker/internal/config"
	"github.com/sakif/progress-tracker/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Every setting has an env tag and a default on config.Server, e.g.
	//   PORT=9090 DB_PATH=/var/lib/tracker/prod.db LOG_LEVEL=debug
	var cfg config.Server
	if err := config.ParseEnv(&cfg); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`. An in-memory database needs no directory.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. AUTH ===
	// JWT_SECRET must be a long random string:
	//   JWT_SECRET=$(openssl rand -hex 32)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, owner-scoped routes will answer 401")
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
