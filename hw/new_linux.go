//go:build linux

package hw

import "log/slog"

// New picks the best available backend: real GPIO where periph.io can
// initialize it, the fake otherwise.
func New(log *slog.Logger) Hardware {
	rpi, err := NewRPi()
	if err != nil {
		log.Warn("gpio hardware unavailable, using fake", "err", err)
		return NewFake()
	}
	return rpi
}
