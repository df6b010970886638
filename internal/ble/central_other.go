//go:build !linux && !darwin && !windows

package ble

import (
	"context"
	"errors"
)

var errCentralUnsupported = errors.New("ble: no central Bluetooth stack on this platform")

// NewCentralAdapter returns an adapter whose Enable always fails.
func NewCentralAdapter() Adapter {
	return unsupportedAdapter{}
}

type unsupportedAdapter struct{}

func (unsupportedAdapter) Enable() error                                        { return errCentralUnsupported }
func (unsupportedAdapter) PoweredOn() bool                                      { return false }
func (unsupportedAdapter) Scan(context.Context, func(Advertisement) bool) error { return errCentralUnsupported }
func (unsupportedAdapter) Connect(context.Context, string) (Connection, error) {
	return nil, errCentralUnsupported
}
