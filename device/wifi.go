package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pinion/protocol"
)

const (
	wifiJoinAttempts   = 3
	wifiJoinRetryDelay = 2 * time.Second
)

// WiFiJoiner joins the device to a wireless network. Implementations
// talk to whatever supplicant the platform has.
type WiFiJoiner interface {
	Join(ctx context.Context, spec protocol.SsidSpec) error
}

// JoinerFunc adapts a function to WiFiJoiner.
type JoinerFunc func(ctx context.Context, spec protocol.SsidSpec) error

func (f JoinerFunc) Join(ctx context.Context, spec protocol.SsidSpec) error {
	return f(ctx, spec)
}

// JoinWiFi attempts to join the stored network, retrying a fixed number
// of times. When every attempt fails the caller stays reachable over
// USB only.
func JoinWiFi(ctx context.Context, log *slog.Logger, joiner WiFiJoiner, spec protocol.SsidSpec) error {
	var lastErr error
	for attempt := 1; attempt <= wifiJoinAttempts; attempt++ {
		err := joiner.Join(ctx, spec)
		if err == nil {
			log.Info("joined wifi network", "ssid", spec.Name)
			return nil
		}
		lastErr = err
		log.Warn("wifi join failed", "ssid", spec.Name, "attempt", attempt, "err", err)
		if attempt < wifiJoinAttempts {
			select {
			case <-time.After(wifiJoinRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("device: wifi join failed after %d attempts: %w", wifiJoinAttempts, lastErr)
}
