//go:build !linux

package ble

import (
	"errors"

	"github.com/google/uuid"
)

var errHCIUnsupported = errors.New("ble: peripheral role needs a Linux HCI controller")

// HCIRadio is unavailable off Linux; NewHCIRadio always fails.
type HCIRadio struct{}

// NewHCIRadio returns an error on this platform.
func NewHCIRadio() (*HCIRadio, error) {
	return nil, errHCIUnsupported
}

func (r *HCIRadio) PoweredOn() bool                      { return false }
func (r *HCIRadio) SetConnectHandler(func(string, bool)) {}
func (r *HCIRadio) SetStateHandler(func(bool))           {}
func (r *HCIRadio) AddService(GATTService) error         { return errHCIUnsupported }
func (r *HCIRadio) Advertise(string, ...uuid.UUID) error { return errHCIUnsupported }
func (r *HCIRadio) StopAdvertising() error               { return nil }
func (r *HCIRadio) Close() error                         { return nil }

var _ PeripheralRadio = (*HCIRadio)(nil)
