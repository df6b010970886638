package control

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectBackoff(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, time.Second, 30*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, want)
		}
	}

	if got := backoffDelay(100, time.Second, 30*time.Second); got != 30*time.Second {
		t.Errorf("backoffDelay(100) = %v, want cap", got)
	}
}

func TestReconnectorRetriesUntilStarted(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	r := NewReconnector(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("ble: service not found")
		}
		close(done)
		return nil
	}, 5*time.Millisecond)
	r.base = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	r.Notify()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("start was not retried")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("start calls = %d, want 3", got)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestReconnectorIdleUntilNotified(t *testing.T) {
	var calls atomic.Int32
	r := NewReconnector(func(context.Context) error {
		calls.Add(1)
		return nil
	}, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("start calls = %d, want 0", got)
	}
}

func TestReconnectorStopsDuringBackoff(t *testing.T) {
	r := NewReconnector(func(context.Context) error {
		return errors.New("ble: connect failed")
	}, time.Hour)
	r.base = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	r.Notify()
	time.Sleep(10 * time.Millisecond) // let the first attempt fail
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReconnectorNotifyNeverBlocks(t *testing.T) {
	r := NewReconnector(func(context.Context) error { return nil }, time.Second)
	for i := 0; i < 10; i++ {
		r.Notify()
	}
	if len(r.notify) != 1 {
		t.Errorf("pending notifications = %d, want 1", len(r.notify))
	}
}
