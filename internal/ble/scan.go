package ble

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ScanForDevices lists the peripherals advertising nearby for up to timeout.
// Devices are reported once each, in discovery order, with the first
// name any of their advertisements carried.
func ScanForDevices(ctx context.Context, adapter Adapter, timeout time.Duration) ([]Advertisement, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRadioUnavailable, err)
	}
	if !adapter.PoweredOn() {
		return nil, ErrRadioUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var devices []Advertisement
	index := make(map[string]int)
	err := adapter.Scan(ctx, func(adv Advertisement) bool {
		i, ok := index[adv.Address]
		if !ok {
			index[adv.Address] = len(devices)
			devices = append(devices, adv)
			return false
		}
		// The name often arrives later, in the scan response.
		if devices[i].LocalName == "" && adv.LocalName != "" {
			devices[i].LocalName = adv.LocalName
		}
		return false
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return devices, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}
