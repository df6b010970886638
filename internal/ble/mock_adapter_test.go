package ble

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// mockCharacteristic records writes. When gate is set, each write blocks
// until the gate is released or ctx is done.
type mockCharacteristic struct {
	id uuid.UUID

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	value    []byte
	gate     chan struct{}
	started  chan struct{}
}

func (c *mockCharacteristic) UUID() uuid.UUID { return c.id }

func (c *mockCharacteristic) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	gate, started, err := c.gate, c.started, c.writeErr
	c.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *mockCharacteristic) Read(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// mockService serves a fixed characteristic list. When block is set,
// discovery waits for ctx instead.
type mockService struct {
	id    uuid.UUID
	chars []*mockCharacteristic
	err   error
	block bool
}

func (s *mockService) UUID() uuid.UUID { return s.id }

func (s *mockService) DiscoverCharacteristics(ctx context.Context, _ []uuid.UUID) ([]Characteristic, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Characteristic, 0, len(s.chars))
	for _, c := range s.chars {
		out = append(out, c)
	}
	return out, nil
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu            sync.Mutex
	services      []*mockService
	discoverErr   error
	blockDiscover bool
	disconnectCb  func()
	disconnected  bool
}

func (c *mockConnection) DiscoverServices(ctx context.Context, _ []uuid.UUID) ([]Service, error) {
	c.mu.Lock()
	block, err := c.blockDiscover, c.discoverErr
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	return out, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the central-side BLE adapter. Each Connect hands out
// a fresh connection built by newConn.
type mockAdapter struct {
	mu           sync.Mutex
	poweredOn    bool
	enableErr    error
	ads          []Advertisement
	connectErr   error
	blockConnect bool
	newConn      func() *mockConnection
	connections  []*mockConnection
	scans        int
	dials        int
}

func newMockAdapter(ads []Advertisement, newConn func() *mockConnection) *mockAdapter {
	return &mockAdapter{poweredOn: true, ads: ads, newConn: newConn}
}

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) PoweredOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poweredOn
}

// Scan delivers the configured advertisements, then waits for ctx like a
// real scan that finds nothing more.
func (a *mockAdapter) Scan(ctx context.Context, handle func(Advertisement) bool) error {
	a.mu.Lock()
	a.scans++
	ads := a.ads
	a.mu.Unlock()
	for _, adv := range ads {
		if handle(adv) {
			return nil
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *mockAdapter) Connect(ctx context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	a.dials++
	block := a.blockConnect
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	conn := a.newConn()
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	a.mu.Unlock()
	return conn, nil
}

// latestConnection returns the most recently created connection.
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

func (a *mockAdapter) dialCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dials
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// servoPeripheral builds a connection exposing the default servo service
// and returns the characteristic it serves.
func servoPeripheral() (*mockConnection, *mockCharacteristic) {
	id := protocol.DefaultIdentity()
	char := &mockCharacteristic{id: id.CharacteristicID}
	conn := &mockConnection{services: []*mockService{
		{id: uuid.MustParse("0000180f-0000-1000-8000-00805f9b34fb")},
		{id: id.ServiceID, chars: []*mockCharacteristic{char}},
	}}
	return conn, char
}

func servoAds() []Advertisement {
	return []Advertisement{
		{LocalName: "Someone's Headphones", Address: "11:11:11:11:11:11", RSSI: -70},
		{LocalName: protocol.DefaultDisplayName, Address: "AA:BB:CC:DD:EE:FF", RSSI: -45},
	}
}

// mockRadio simulates the peripheral-side BLE stack.
type mockRadio struct {
	mu          sync.Mutex
	poweredOn   bool
	addErr      error
	advertising bool
	advName     string
	advIDs      []uuid.UUID
	services    []GATTService
	onConnect   func(string, bool)
	onState     func(bool)
}

func (r *mockRadio) PoweredOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.poweredOn
}

func (r *mockRadio) AddService(svc GATTService) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	r.services = append(r.services, svc)
	return nil
}

func (r *mockRadio) Advertise(name string, ids ...uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.poweredOn {
		return errors.New("mock: radio off")
	}
	r.advertising = true
	r.advName = name
	r.advIDs = ids
	return nil
}

func (r *mockRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertising = false
	return nil
}

func (r *mockRadio) SetConnectHandler(fn func(string, bool)) { r.onConnect = fn }
func (r *mockRadio) SetStateHandler(fn func(bool))           { r.onState = fn }

// mockActuator records every position it is driven to.
type mockActuator struct {
	mu        sync.Mutex
	positions []float64
}

func (a *mockActuator) SetPosition(fraction float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions = append(a.positions, fraction)
}

func (a *mockActuator) calls() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.positions...)
}

func TestMocksImplementInterfaces(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
	var _ Connection = (*mockConnection)(nil)
	var _ Service = (*mockService)(nil)
	var _ Characteristic = (*mockCharacteristic)(nil)
	var _ PeripheralRadio = (*mockRadio)(nil)
	var _ Actuator = (*mockActuator)(nil)
}
