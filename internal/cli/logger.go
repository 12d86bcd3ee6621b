// Package cli carries setup shared by the piniond and pinionctl
// commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger builds a structured logger from the verbosity and format
// flags and installs it as the slog default.
func SetupLogger(verbosity, format string) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(verbosity) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid verbosity %q (must be debug, info, warn, or error)", verbosity)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
