package ble

import (
	"context"
	"time"
)

// stopRetryInterval is how often a pending stop is retried while the
// scanner has not registered its scan yet.
const stopRetryInterval = 10 * time.Millisecond

// stopScanOnDone calls stop once ctx is done. Some stacks refuse a stop
// that arrives before their scan loop has started, so a failed stop is
// retried until it succeeds or done is closed by the returning scan.
func stopScanOnDone(ctx context.Context, done <-chan struct{}, stop func() error) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		if err := stop(); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
