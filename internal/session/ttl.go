package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/docchat/internal/store"
)

// DefaultSweepInterval is how often expired sessions are purged.
const DefaultSweepInterval = 5 * time.Minute

// StartExpiryWorker runs a background goroutine that periodically deletes
// expired sessions until ctx is cancelled.
func StartExpiryWorker(ctx context.Context, repo store.Repository, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session expiry worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, repo, time.Now())
			case <-ctx.Done():
				slog.Info("Session expiry worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, repo store.Repository, now time.Time) int64 {
	deleted, err := repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		slog.Error("Session expiry worker failed to delete expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Session expiry worker removed expired sessions", "count", deleted)
	}
	return deleted
}
