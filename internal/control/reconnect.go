package control

import (
	"context"
	"log/slog"
	"time"
)

// Reconnector re-runs a start function after each unsolicited disconnect,
// backing off exponentially between failed attempts.
type Reconnector struct {
	start    func(context.Context) error
	base     time.Duration
	maxDelay time.Duration
	notify   chan struct{}
}

// NewReconnector creates a Reconnector that calls start after each Notify.
// Delays grow 1s, 2s, 4s... up to maxDelay.
func NewReconnector(start func(context.Context) error, maxDelay time.Duration) *Reconnector {
	return &Reconnector{
		start:    start,
		base:     time.Second,
		maxDelay: maxDelay,
		notify:   make(chan struct{}, 1),
	}
}

// Notify requests a reconnect. It never blocks; notifications that arrive
// while one is pending are merged.
func (r *Reconnector) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run handles reconnect requests until ctx is done.
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.notify:
		}
		if err := r.reconnect(ctx); err != nil {
			return err
		}
	}
}

// reconnect retries start until it succeeds or ctx is done. The first
// attempt is immediate.
func (r *Reconnector) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, r.base, r.maxDelay)
			slog.Info("[CTRL] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := r.start(ctx)
		if err == nil {
			slog.Info("[CTRL] reconnected", "attempts", attempt+1)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("[CTRL] reconnect failed", "error", err, "attempt", attempt+1)
	}
}

// backoffDelay returns the delay before retry n: base doubled n times,
// capped at maxDelay.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
