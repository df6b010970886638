package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
	"github.com/google/uuid"
)

// CentralState is a step of the central's discovery sequence.
type CentralState int

const (
	StateIdle CentralState = iota
	StateScanning
	StateConnecting
	StateDiscoveringService
	StateDiscoveringCharacteristic
	StateReady
	StateDisconnected
)

func (s CentralState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringService:
		return "discovering-service"
	case StateDiscoveringCharacteristic:
		return "discovering-characteristic"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("CentralState(%d)", int(s))
	}
}

// StateEvent describes one central state transition. Err is set when the
// transition was caused by a failure or an unsolicited disconnect.
type StateEvent struct {
	From CentralState
	To   CentralState
	Err  error
}

// CentralOptions configures the central's timeouts.
type CentralOptions struct {
	DiscoveryTimeout time.Duration // bound for each discovery phase
	WriteTimeout     time.Duration // bound for one acknowledged write or read
}

// DefaultCentralOptions returns sensible defaults.
func DefaultCentralOptions() CentralOptions {
	return CentralOptions{
		DiscoveryTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Central drives the scan, connect and discovery sequence against a single
// peripheral and exposes the discovered characteristic for writes.
//
// Every handle it holds belongs to one connection attempt, identified by a
// generation counter. A disconnect or Stop bumps the generation, so results
// and callbacks from an older attempt are discarded instead of touching the
// current one.
type Central struct {
	adapter  Adapter
	identity protocol.DeviceIdentity
	opts     CentralOptions

	mu       sync.Mutex
	state    CentralState
	gen      uint64
	cancel   context.CancelFunc // aborts the in-flight Start
	conn     Connection
	service  Service
	char     Characteristic
	writing  bool
	onChange []func(StateEvent)
}

// NewCentral creates a central that looks for the peripheral described by
// identity.
func NewCentral(adapter Adapter, identity protocol.DeviceIdentity, opts CentralOptions) *Central {
	defaults := DefaultCentralOptions()
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = defaults.DiscoveryTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	return &Central{
		adapter:  adapter,
		identity: identity,
		opts:     opts,
	}
}

// OnStateChange registers a callback for state transitions. Callbacks run
// synchronously on the goroutine that caused the transition, outside the
// central's lock.
func (c *Central) OnStateChange(fn func(StateEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// State returns the current state.
func (c *Central) State() CentralState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the central is in the Ready state.
func (c *Central) Ready() bool {
	return c.State() == StateReady
}

// Start runs the discovery sequence from Idle (or Disconnected) to Ready.
// It returns nil once the characteristic is ready for writes. Any failure
// is terminal for this attempt: the central moves to Disconnected and the
// caller decides whether to Start again.
func (c *Central) Start(ctx context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		err = fmt.Errorf("%w: %w", ErrRadioUnavailable, err)
		slog.Warn("[BLE] central start refused", "error", err)
		return err
	}
	if !c.adapter.PoweredOn() {
		slog.Warn("[BLE] central start refused, radio is not powered on")
		return ErrRadioUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gen, err := c.begin(cancel)
	if err != nil {
		return err
	}

	var adv Advertisement
	err = c.phase(ctx, ErrRadioUnavailable, func(ctx context.Context) error {
		var err error
		adv, err = c.findPeripheral(ctx)
		return err
	})
	if err != nil {
		return c.abort(gen, nil, err)
	}
	slog.Info("[BLE] found peripheral", "name", adv.LocalName, "address", adv.Address, "rssi", adv.RSSI)

	if err := c.transition(gen, StateConnecting); err != nil {
		return err
	}
	var conn Connection
	err = c.phase(ctx, ErrConnect, func(ctx context.Context) error {
		var err error
		conn, err = c.adapter.Connect(ctx, adv.Address)
		return err
	})
	if err != nil {
		return c.abort(gen, nil, err)
	}
	conn.OnDisconnect(func() { c.handleDisconnect(gen) })
	if err := c.attach(gen, conn); err != nil {
		_ = conn.Disconnect()
		return err
	}
	slog.Info("[BLE] connected", "address", adv.Address)

	var svc Service
	err = c.phase(ctx, ErrServiceNotFound, func(ctx context.Context) error {
		var err error
		svc, err = c.findService(ctx, conn)
		return err
	})
	if err != nil {
		return c.abort(gen, conn, err)
	}

	if err := c.transition(gen, StateDiscoveringCharacteristic); err != nil {
		return err
	}
	var char Characteristic
	err = c.phase(ctx, ErrCharacteristicNotFound, func(ctx context.Context) error {
		var err error
		char, err = c.findCharacteristic(ctx, svc)
		return err
	})
	if err != nil {
		return c.abort(gen, conn, err)
	}

	return c.ready(gen, svc, char)
}

// Write sends pos to the peripheral as an acknowledged write. It fails with
// ErrNotReady outside the Ready state and with ErrWriteInProgress while
// another write is outstanding; neither case produces radio traffic.
func (c *Central) Write(ctx context.Context, pos protocol.Position) error {
	char, gen, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.release(gen)

	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	if err := char.Write(ctx, pos.Marshal()); err != nil {
		slog.Warn("[BLE] write failed", "position", pos, "error", err)
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	slog.Debug("[BLE] write acknowledged", "position", pos)
	return nil
}

// Read fetches the peripheral's current position. It shares the single
// outstanding operation slot with Write.
func (c *Central) Read(ctx context.Context) (protocol.Position, error) {
	char, gen, err := c.acquire()
	if err != nil {
		return 0, err
	}
	defer c.release(gen)

	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	data, err := char.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRead, err)
	}
	pos, err := protocol.Unmarshal(data, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedValue, err)
	}
	return pos, nil
}

// Stop aborts discovery or drops the connection and moves the central to
// Disconnected. It is a no-op in Idle and Disconnected.
func (c *Central) Stop() error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	from := c.state
	conn := c.conn
	c.invalidateLocked()
	c.mu.Unlock()

	slog.Info("[BLE] central stopped", "state", from)
	c.notify(StateEvent{From: from, To: StateDisconnected})
	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

func (c *Central) findPeripheral(ctx context.Context) (Advertisement, error) {
	var found Advertisement
	err := c.adapter.Scan(ctx, func(adv Advertisement) bool {
		if adv.LocalName != c.identity.DisplayName {
			return false
		}
		found = adv
		return true
	})
	if err != nil {
		return Advertisement{}, err
	}
	if found.Address == "" {
		return Advertisement{}, fmt.Errorf("scan ended without finding %q", c.identity.DisplayName)
	}
	return found, nil
}

func (c *Central) findService(ctx context.Context, conn Connection) (Service, error) {
	svcs, err := conn.DiscoverServices(ctx, []uuid.UUID{c.identity.ServiceID})
	if err != nil {
		return nil, err
	}
	for _, s := range svcs {
		if s.UUID() == c.identity.ServiceID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, c.identity.ServiceID)
}

func (c *Central) findCharacteristic(ctx context.Context, svc Service) (Characteristic, error) {
	chars, err := svc.DiscoverCharacteristics(ctx, []uuid.UUID{c.identity.CharacteristicID})
	if err != nil {
		return nil, err
	}
	for _, ch := range chars {
		if ch.UUID() == c.identity.CharacteristicID {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, c.identity.CharacteristicID)
}

// phase bounds one discovery step by DiscoveryTimeout and classifies its
// failure. Timeouts become ErrDiscoveryTimeout, cancellation (Stop or an
// unsolicited disconnect) becomes ErrDisconnected, and anything else is
// joined onto kind unless it already carries it.
func (c *Central) phase(ctx context.Context, kind error, fn func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(ctx, c.opts.DiscoveryTimeout)
	defer cancel()

	err := fn(pctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %w", ErrDiscoveryTimeout, c.opts.DiscoveryTimeout, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	case errors.Is(err, kind):
		return err
	default:
		return fmt.Errorf("%w: %w", kind, err)
	}
}

// begin claims the central for a new attempt.
func (c *Central) begin(cancel context.CancelFunc) (uint64, error) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return 0, fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	from := c.state
	c.gen++
	c.state = StateScanning
	c.cancel = cancel
	gen := c.gen
	c.mu.Unlock()

	slog.Info("[BLE] scanning", "name", c.identity.DisplayName)
	c.notify(StateEvent{From: from, To: StateScanning})
	return gen, nil
}

// transition moves to the next discovery state if the attempt is current.
func (c *Central) transition(gen uint64, to CentralState) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrDisconnected
	}
	from := c.state
	c.state = to
	c.mu.Unlock()

	slog.Debug("[BLE] central state", "from", from, "to", to)
	c.notify(StateEvent{From: from, To: to})
	return nil
}

// attach stores conn and enters DiscoveringService.
func (c *Central) attach(gen uint64, conn Connection) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrDisconnected
	}
	from := c.state
	c.conn = conn
	c.state = StateDiscoveringService
	c.mu.Unlock()

	c.notify(StateEvent{From: from, To: StateDiscoveringService})
	return nil
}

func (c *Central) ready(gen uint64, svc Service, char Characteristic) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrDisconnected
	}
	from := c.state
	c.service = svc
	c.char = char
	c.state = StateReady
	c.cancel = nil
	c.mu.Unlock()

	slog.Info("[BLE] ready", "service", svc.UUID(), "characteristic", char.UUID())
	c.notify(StateEvent{From: from, To: StateReady})
	return nil
}

// abort ends the current attempt after a failed phase. conn, when set, is
// the connection the attempt opened and is closed here.
func (c *Central) abort(gen uint64, conn Connection, cause error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Disconnect()
		}
		return cause
	}
	from := c.state
	c.invalidateLocked()
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect after failed discovery", "error", err)
		}
	}
	slog.Warn("[BLE] discovery failed", "state", from, "error", cause)
	c.notify(StateEvent{From: from, To: StateDisconnected, Err: cause})
	return cause
}

func (c *Central) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.invalidateLocked()
	c.mu.Unlock()

	slog.Warn("[BLE] peripheral disconnected", "state", from)
	c.notify(StateEvent{From: from, To: StateDisconnected, Err: ErrDisconnected})
}

// invalidateLocked drops every handle of the current attempt (caller must
// hold mu).
func (c *Central) invalidateLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = StateDisconnected
	c.conn = nil
	c.service = nil
	c.char = nil
	c.writing = false
}

// acquire claims the single outstanding-operation slot.
func (c *Central) acquire() (Characteristic, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, 0, fmt.Errorf("%w (state %s)", ErrNotReady, c.state)
	}
	if c.writing {
		return nil, 0, ErrWriteInProgress
	}
	c.writing = true
	return c.char, c.gen, nil
}

func (c *Central) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.writing = false
	}
}

func (c *Central) notify(ev StateEvent) {
	c.mu.Lock()
	fns := make([]func(StateEvent), len(c.onChange))
	copy(fns, c.onChange)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
