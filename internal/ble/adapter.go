// Package ble sequences the BLE GATT interaction between a servo central and
// a servo peripheral. The platform Bluetooth stacks sit behind the narrow
// Adapter and PeripheralRadio interfaces; this package owns the state
// machines that drive them.
package ble

import (
	"context"

	"github.com/google/uuid"
)

// Advertisement is a single scan result.
type Advertisement struct {
	LocalName string
	Address   string
	RSSI      int
}

// Characteristic is a handle to a discovered remote characteristic. It is
// only valid while the connection it came from is.
type Characteristic interface {
	UUID() uuid.UUID
	// Write performs an acknowledged write and returns once the peripheral
	// has responded.
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
}

// Service is a handle to a discovered remote service.
type Service interface {
	UUID() uuid.UUID
	DiscoverCharacteristics(ctx context.Context, ids []uuid.UUID) ([]Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	DiscoverServices(ctx context.Context, ids []uuid.UUID) ([]Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the central-side BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// PoweredOn reports whether the radio can scan and connect.
	PoweredOn() bool
	// Scan delivers advertisements to handle until it returns true or ctx is
	// done. It returns nil when handle stopped the scan and ctx.Err()
	// otherwise. Duplicate advertisements are filtered out.
	Scan(ctx context.Context, handle func(Advertisement) bool) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
