package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps for challenges past their deadline and
// expires them. Sweeps run concurrently with user-initiated operations;
// the per-id locks and version CAS make a losing sweep a no-op rather
// than a double refund.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new expiry sweep timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 60 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in challenge expiry sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Timer) sweep(ctx context.Context) {
	now := time.Now()

	due, err := t.store.ListExpirable(ctx, now, 100)
	if err != nil {
		t.logger.Warn("failed to list expirable challenges", "error", err)
		return
	}

	for _, c := range due {
		_, expired, err := t.service.CheckExpiry(ctx, c.ID, now)
		if err != nil {
			t.logger.Warn("failed to expire challenge",
				"challengeId", c.ID, "error", err)
			continue
		}
		if expired {
			t.logger.Info("expired challenge",
				"challengeId", c.ID,
				"from", c.FromUserID,
				"to", c.ToUserID,
				"wager", c.WagerAmount,
			)
		}
	}
}
