// Package config loads process configuration from environment variables.
//
// Both binaries describe their settings as a struct with env tags and load
// it with ParseEnv. Flags (for the CLI) are applied on top afterwards.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Server is the configuration of cmd/server.
type Server struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	DBPath   string `env:"DB_PATH" envDefault:"data/tracker.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// An empty JWTSecret disables authentication: the public page still
	// works, every owner-scoped route answers 401.
	JWTSecret          string `env:"JWT_SECRET"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`

	// PushBuffer is the per-subscriber buffer of the realtime hub.
	PushBuffer int `env:"PUSH_BUFFER" envDefault:"64"`
}

// CallbackURL returns GitHubCallbackURL, or the local default for Port.
func (s Server) CallbackURL() string {
	if s.GitHubCallbackURL != "" {
		return s.GitHubCallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/github/callback", s.Port)
}

// CLI is the configuration of cmd/tracker.
type CLI struct {
	URL      string `env:"TRACKER_URL" envDefault:"http://localhost:8080"`
	Token    string `env:"TRACKER_TOKEN"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
	// BadgeEarlyHour is the local hour before which a completed goal counts
	// toward the early-bird badge.
	BadgeEarlyHour int `env:"BADGE_EARLY_HOUR" envDefault:"9"`
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
