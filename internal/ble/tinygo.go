//go:build darwin || windows

package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// maxAttributeLen is the largest value an ATT read can return.
const maxAttributeLen = 512

// TinyGoAdapter wraps tinygo-org/bluetooth (CoreBluetooth on macOS, WinRT
// on Windows). On macOS, device addresses are CoreBluetooth UUIDs rather
// than MAC addresses; both are carried as strings.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects enabled and the connections map.
	mu          sync.Mutex
	enabled     bool
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewCentralAdapter returns the central Adapter for this platform.
func NewCentralAdapter() Adapter {
	return NewTinyGoAdapter()
}

// NewTinyGoAdapter creates an adapter on the default Bluetooth controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth fires this callback with connected=false when a
	// peripheral drops, on every platform.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	a.enabled = true
	return nil
}

// PoweredOn reports whether Enable succeeded. tinygo/bluetooth only
// returns from Enable once the controller is powered.
func (a *TinyGoAdapter) PoweredOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *TinyGoAdapter) Scan(ctx context.Context, handle func(Advertisement) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// A second StopScan after a successful one can block or panic in
	// CoreBluetooth, so only the first successful stop reaches the adapter.
	var mu sync.Mutex
	stopped, matched := false, false
	stop := func() error {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return nil
		}
		if err := a.adapter.StopScan(); err != nil {
			return err
		}
		stopped = true
		return nil
	}

	done := make(chan struct{})
	go stopScanOnDone(ctx, done, stop)

	seen := make(map[string]bool)
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		mu.Lock()
		addr := result.Address.String()
		skip := matched || seen[addr]
		seen[addr] = true
		mu.Unlock()
		if skip {
			return
		}
		adv := Advertisement{
			LocalName: result.LocalName(),
			Address:   addr,
			RSSI:      int(result.RSSI),
		}
		if handle(adv) {
			mu.Lock()
			matched = true
			mu.Unlock()
			_ = stop()
		}
	})
	close(done)

	mu.Lock()
	found := matched
	mu.Unlock()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	if found {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("ble: scan stopped unexpectedly")
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks with its own timeout. A connection
	// that completes after ctx is done is closed again.
	device, err := await(ctx, func() (bluetooth.Device, error) {
		return a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	}, func(d bluetooth.Device, err error) {
		if err == nil {
			_ = d.Disconnect()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}

	conn := &tinyGoConnection{device: device}
	a.mu.Lock()
	a.connections[address] = conn
	a.mu.Unlock()
	return conn, nil
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverServices(ctx context.Context, ids []uuid.UUID) ([]Service, error) {
	filter, err := toTinyGoUUIDs(ids)
	if err != nil {
		return nil, err
	}
	svcs, err := await(ctx, func() ([]bluetooth.DeviceService, error) {
		return c.device.DiscoverServices(filter)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	out := make([]Service, 0, len(svcs))
	for i := range svcs {
		id, err := uuid.Parse(svcs[i].UUID().String())
		if err != nil {
			slog.Debug("[BLE] skipping service with unparsable UUID", "uuid", svcs[i].UUID().String())
			continue
		}
		out = append(out, &tinyGoService{id: id, svc: svcs[i]})
	}
	return out, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoService struct {
	id  uuid.UUID
	svc bluetooth.DeviceService
}

func (s *tinyGoService) UUID() uuid.UUID { return s.id }

func (s *tinyGoService) DiscoverCharacteristics(ctx context.Context, ids []uuid.UUID) ([]Characteristic, error) {
	filter, err := toTinyGoUUIDs(ids)
	if err != nil {
		return nil, err
	}
	chars, err := await(ctx, func() ([]bluetooth.DeviceCharacteristic, error) {
		return s.svc.DiscoverCharacteristics(filter)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		id, err := uuid.Parse(chars[i].UUID().String())
		if err != nil {
			continue
		}
		out = append(out, &tinyGoCharacteristic{id: id, char: chars[i]})
	}
	return out, nil
}

type tinyGoCharacteristic struct {
	id   uuid.UUID
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() uuid.UUID { return c.id }

// Write uses a write request (with response), so it returns only after the
// peripheral has acknowledged or rejected the value.
func (c *tinyGoCharacteristic) Write(ctx context.Context, data []byte) error {
	_, err := await(ctx, func() (int, error) {
		return c.char.Write(data)
	}, nil)
	return err
}

func (c *tinyGoCharacteristic) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, maxAttributeLen)
	n, err := await(ctx, func() (int, error) {
		return c.char.Read(buf)
	}, nil)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func toTinyGoUUIDs(ids []uuid.UUID) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := bluetooth.ParseUUID(id.String())
		if err != nil {
			return nil, fmt.Errorf("ble: parse UUID %s: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}
