//go:build !linux

package hw

import "log/slog"

// New returns the fake backend; GPIO access is Linux-only.
func New(log *slog.Logger) Hardware {
	log.Warn("gpio hardware is linux-only, using fake")
	return NewFake()
}
