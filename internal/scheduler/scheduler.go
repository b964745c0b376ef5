// Package scheduler runs the periodic refresh loops: the dashboard
// controller, the notification refresher and the new-alert watcher. Each
// loop is a suture service bound to the context it is served with.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// tickLoop runs fn immediately and then on every tick until ctx is done.
// Exactly one ticker exists per call and it is stopped on return.
func tickLoop(ctx context.Context, interval time.Duration, log zerolog.Logger, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	log.Info().Dur("interval", interval).Msg("running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
