//go:build linux

package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/google/uuid"
)

// hciCentralDevice is the part of a go-ble device the central role uses.
type hciCentralDevice interface {
	Scan(ctx context.Context, allowDup bool, h goble.AdvHandler) error
	Dial(ctx context.Context, a goble.Addr) (goble.Client, error)
}

// HCIAdapter is the central Adapter on a Linux HCI controller via go-ble.
// It talks to the controller over a raw HCI socket, so bluetoothd must not
// hold the same controller.
type HCIAdapter struct {
	open func() (hciCentralDevice, <-chan bool, error)

	mu      sync.Mutex
	dev     hciCentralDevice
	hciDone <-chan bool
}

// NewCentralAdapter returns the central Adapter for this platform.
func NewCentralAdapter() Adapter {
	return NewHCIAdapter()
}

// NewHCIAdapter creates an adapter on the default HCI device. The device is
// opened by Enable.
func NewHCIAdapter() *HCIAdapter {
	return &HCIAdapter{open: func() (hciCentralDevice, <-chan bool, error) {
		dev, err := linux.NewDevice()
		if err != nil {
			return nil, nil, err
		}
		return dev, dev.HCI.Done(), nil
	}}
}

// Compile-time check that HCIAdapter implements Adapter.
var _ Adapter = (*HCIAdapter)(nil)

func (a *HCIAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return nil
	}
	dev, done, err := a.open()
	if err != nil {
		return fmt.Errorf("ble: open HCI device: %w", err)
	}
	a.dev, a.hciDone = dev, done
	return nil
}

// PoweredOn reports whether the HCI device is open and its event loop is
// still running.
func (a *HCIAdapter) PoweredOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dev != nil && hciRunning(a.hciDone)
}

func (a *HCIAdapter) device() (hciCentralDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, ErrRadioUnavailable
	}
	return a.dev, nil
}

func (a *HCIAdapter) Scan(ctx context.Context, handle func(Advertisement) bool) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// go-ble reports the scan response as a second advertisement carrying
	// the name, so duplicates are keyed by address and name.
	var mu sync.Mutex
	seen := make(map[string]bool)
	matched := false
	err = dev.Scan(sctx, false, func(ga goble.Advertisement) {
		adv := fromGoBLEAdvertisement(ga)
		key := adv.Address + "\x00" + adv.LocalName

		mu.Lock()
		defer mu.Unlock()
		if matched || seen[key] {
			return
		}
		seen[key] = true
		if handle(adv) {
			matched = true
			cancel()
		}
	})

	mu.Lock()
	found := matched
	mu.Unlock()
	switch {
	case found:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return fmt.Errorf("ble: scan: %w", err)
	default:
		return errors.New("ble: scan stopped unexpectedly")
	}
}

func (a *HCIAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}
	client, err := dev.Dial(ctx, goble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	return newHCIConnection(client), nil
}

func fromGoBLEAdvertisement(a goble.Advertisement) Advertisement {
	return Advertisement{
		LocalName: a.LocalName(),
		Address:   strings.ToUpper(a.Addr().String()),
		RSSI:      a.RSSI(),
	}
}

// hciConnection is one go-ble GATT client link.
type hciConnection struct {
	client goble.Client

	mu           sync.Mutex
	disconnectCb func()
}

func newHCIConnection(client goble.Client) *hciConnection {
	c := &hciConnection{client: client}
	go func() {
		<-client.Disconnected()
		c.mu.Lock()
		cb := c.disconnectCb
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
	}()
	return c
}

func (c *hciConnection) DiscoverServices(ctx context.Context, ids []uuid.UUID) ([]Service, error) {
	svcs, err := await(ctx, func() ([]*goble.Service, error) {
		return c.client.DiscoverServices(toGoBLEUUIDs(ids))
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	out := make([]Service, 0, len(svcs))
	for _, s := range svcs {
		id, ok := fromGoBLEUUID(s.UUID)
		if !ok {
			slog.Debug("[BLE] skipping service with unparsable UUID", "uuid", s.UUID.String())
			continue
		}
		out = append(out, &hciService{id: id, client: c.client, svc: s})
	}
	return out, nil
}

func (c *hciConnection) Disconnect() error {
	return c.client.CancelConnection()
}

func (c *hciConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

type hciService struct {
	id     uuid.UUID
	client goble.Client
	svc    *goble.Service
}

func (s *hciService) UUID() uuid.UUID { return s.id }

func (s *hciService) DiscoverCharacteristics(ctx context.Context, ids []uuid.UUID) ([]Characteristic, error) {
	chars, err := await(ctx, func() ([]*goble.Characteristic, error) {
		return s.client.DiscoverCharacteristics(toGoBLEUUIDs(ids), s.svc)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	out := make([]Characteristic, 0, len(chars))
	for _, ch := range chars {
		id, ok := fromGoBLEUUID(ch.UUID)
		if !ok {
			continue
		}
		out = append(out, &hciCharacteristic{id: id, client: s.client, char: ch})
	}
	return out, nil
}

type hciCharacteristic struct {
	id     uuid.UUID
	client goble.Client
	char   *goble.Characteristic
}

func (c *hciCharacteristic) UUID() uuid.UUID { return c.id }

// Write sends an ATT Write Request and returns once the peripheral has sent
// its Write Response or an error code.
func (c *hciCharacteristic) Write(ctx context.Context, data []byte) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, c.client.WriteCharacteristic(c.char, data, false)
	}, nil)
	return err
}

func (c *hciCharacteristic) Read(ctx context.Context) ([]byte, error) {
	return await(ctx, func() ([]byte, error) {
		return c.client.ReadCharacteristic(c.char)
	}, nil)
}

// hciRunning reports whether the HCI event loop behind done is alive. The
// loop closes done when the controller socket fails or the device is
// removed.
func hciRunning(done <-chan bool) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func toGoBLEUUIDs(ids []uuid.UUID) []goble.UUID {
	out := make([]goble.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, toGoBLEUUID(id))
	}
	return out
}

// bluetoothBaseUUID expands 16-bit assigned numbers to 128 bits.
var bluetoothBaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// fromGoBLEUUID converts go-ble's little-endian UUID bytes.
func fromGoBLEUUID(u goble.UUID) (uuid.UUID, bool) {
	switch len(u) {
	case 2:
		id := bluetoothBaseUUID
		id[2], id[3] = u[1], u[0]
		return id, true
	case 16:
		id, err := uuid.FromBytes(goble.Reverse(u))
		return id, err == nil
	default:
		return uuid.Nil, false
	}
}
