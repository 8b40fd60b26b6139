package service

import (
	"context"
	"log/slog"
	"time"

	"filedrop/internal/server/storage"
)

// Sweeper periodically reconciles expired state: it removes expired grant
// records, then expired shares together with their blobs. It is the only
// deletion path for group blobs.
type Sweeper struct {
	registry Registry
	store    storage.Store
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a new expiry sweeper.
func NewSweeper(registry Registry, store storage.Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine. The loop stops
// when ctx is cancelled; an in-flight cycle finishes its current record
// first, and no new cycle starts after cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("expiry sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.runSweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.runSweep(ctx)
			case <-ctx.Done():
				slog.Info("expiry sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// runSweep executes one reconciliation cycle. Individual record failures
// are logged and skipped; the next tick retries whatever is left.
func (s *Sweeper) runSweep(ctx context.Context) {
	now := time.Now().UTC()

	grantsSwept := s.sweepGroupShares(ctx, now)
	sharesSwept := s.sweepShares(ctx, now)

	if grantsSwept+sharesSwept > 0 {
		slog.Info("sweep cycle complete", "shares", sharesSwept, "grants", grantsSwept)
	}
}

// sweepGroupShares deletes expired grant records. The owning share and its
// blob follow the share's own expiry independently.
func (s *Sweeper) sweepGroupShares(ctx context.Context, now time.Time) int {
	expired, err := s.registry.GetExpiredGroupShares(ctx, now)
	if err != nil {
		slog.Error("failed to query expired grants", "error", err)
		return 0
	}

	var swept int
	for _, grant := range expired {
		if ctx.Err() != nil {
			return swept
		}
		if err := s.registry.DeleteGroupShare(ctx, grant.ID); err != nil && !isRecordGone(err) {
			slog.Error("failed to delete expired grant", "grant_id", grant.ID, "error", err)
			continue
		}
		swept++
	}
	return swept
}

// sweepShares deletes expired shares: blob first, then the record, so a
// crash between the two leaves at worst an orphaned record that the next
// cycle retries.
func (s *Sweeper) sweepShares(ctx context.Context, now time.Time) int {
	expired, err := s.registry.GetExpiredShares(ctx, now)
	if err != nil {
		slog.Error("failed to query expired shares", "error", err)
		return 0
	}

	var swept int
	for _, share := range expired {
		if ctx.Err() != nil {
			return swept
		}

		if err := s.store.Delete(share.BlobKey); err != nil {
			slog.Error("failed to delete expired blob",
				"share_id", share.ID,
				"blob_key", share.BlobKey,
				"error", err,
			)
			continue
		}

		if err := s.registry.DeleteShare(ctx, share.ID); err != nil && !isRecordGone(err) {
			slog.Error("failed to delete expired share", "share_id", share.ID, "error", err)
			continue
		}

		swept++
		slog.Info("swept expired share",
			"share_id", share.ID,
			"name", share.DisplayName,
			"expired_at", share.ExpiresAt,
		)
	}
	return swept
}
