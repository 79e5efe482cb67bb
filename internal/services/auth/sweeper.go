// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"context"
	"log/slog"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/store"
)

// DefaultSweepInterval is how often expired passcodes are deleted.
const DefaultSweepInterval = 5 * time.Minute

// Sweep deletes expired passcodes once.
func Sweep(ctx context.Context, s store.Store) (int64, error) {
	removed, err := s.CleanupExpiredOtps(ctx)
	if err != nil {
		slog.Error("otp_sweep_failed", "error", err)
		return 0, err
	}
	if removed > 0 {
		slog.Info("otp_sweep", "removed", removed)
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, s store.Store, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = Sweep(ctx, s)
		}
	}
}
