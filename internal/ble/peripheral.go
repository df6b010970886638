package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
	"github.com/google/uuid"
)

// PositionDescription is the user description attached to the servo
// characteristic.
const PositionDescription = "servo position"

// PeripheralState is the advertising state of the peripheral.
type PeripheralState int

const (
	PeripheralIdle PeripheralState = iota
	PeripheralAdvertising
	PeripheralConnected
)

func (s PeripheralState) String() string {
	switch s {
	case PeripheralIdle:
		return "idle"
	case PeripheralAdvertising:
		return "advertising"
	case PeripheralConnected:
		return "connected"
	default:
		return fmt.Sprintf("PeripheralState(%d)", int(s))
	}
}

// CharacteristicProperties selects which operations the servo
// characteristic accepts.
type CharacteristicProperties struct {
	Readable bool
	Writable bool
}

// GATTService is the single service a PeripheralRadio publishes. The radio
// translates the handler errors into ATT result codes.
type GATTService struct {
	ServiceID        uuid.UUID
	CharacteristicID uuid.UUID
	Properties       CharacteristicProperties
	Description      string
	OnWrite          func(data []byte, offset int) error
	OnRead           func() ([]byte, error)
}

// PeripheralRadio abstracts the peripheral-side BLE stack for testing.
type PeripheralRadio interface {
	// PoweredOn reports whether the radio can advertise.
	PoweredOn() bool
	// AddService registers the GATT service. It is called once, before
	// advertising starts.
	AddService(svc GATTService) error
	// Advertise starts advertising name and ids in the background.
	Advertise(name string, ids ...uuid.UUID) error
	// StopAdvertising stops a running advertisement.
	StopAdvertising() error
	// SetConnectHandler registers a callback for centrals connecting and
	// disconnecting.
	SetConnectHandler(func(address string, connected bool))
	// SetStateHandler registers a callback for radio power changes.
	SetStateHandler(func(poweredOn bool))
}

// Actuator receives decoded positions. It is assumed synchronous and
// non-failing.
type Actuator interface {
	SetPosition(fraction float64)
}

// Peripheral exposes one writable servo characteristic and forwards every
// accepted write to an Actuator.
type Peripheral struct {
	radio    PeripheralRadio
	actuator Actuator

	mu         sync.Mutex
	state      PeripheralState
	configured bool
	identity   protocol.DeviceIdentity
	props      CharacteristicProperties
	central    string
	position   protocol.Position

	// writeMu serialises actuation. Stopping advertising or losing the radio
	// never takes it, so an accepted write always completes.
	writeMu sync.Mutex
}

// NewPeripheral creates a peripheral bound to radio and actuator.
func NewPeripheral(radio PeripheralRadio, actuator Actuator) *Peripheral {
	p := &Peripheral{radio: radio, actuator: actuator}
	radio.SetConnectHandler(func(address string, connected bool) {
		if connected {
			p.HandleConnect(address)
		} else {
			p.HandleDisconnect(address)
		}
	})
	radio.SetStateHandler(p.HandleRadioState)
	return p
}

// Configure registers the service and characteristic. It may be called
// exactly once, before advertising.
func (p *Peripheral) Configure(identity protocol.DeviceIdentity, props CharacteristicProperties) error {
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("ble: invalid identity: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.configured {
		return ErrAlreadyConfigured
	}

	svc := GATTService{
		ServiceID:        identity.ServiceID,
		CharacteristicID: identity.CharacteristicID,
		Properties:       props,
		Description:      PositionDescription,
		OnWrite:          p.HandleWrite,
		OnRead:           p.HandleRead,
	}
	if err := p.radio.AddService(svc); err != nil {
		return fmt.Errorf("ble: add service: %w", err)
	}

	p.identity = identity
	p.props = props
	p.configured = true
	slog.Info("[BLE] service registered",
		"service", identity.ServiceID, "characteristic", identity.CharacteristicID,
		"readable", props.Readable, "writable", props.Writable)
	return nil
}

// StartAdvertising advertises the display name and device id. It is a no-op
// when already advertising or connected.
func (p *Peripheral) StartAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.configured {
		return ErrNotConfigured
	}
	if p.state != PeripheralIdle {
		return nil
	}
	if !p.radio.PoweredOn() {
		return ErrRadioUnavailable
	}
	if err := p.radio.Advertise(p.identity.DisplayName, p.identity.DeviceID); err != nil {
		return fmt.Errorf("%w: advertise: %w", ErrRadioUnavailable, err)
	}
	p.state = PeripheralAdvertising
	slog.Info("[BLE] advertising", "name", p.identity.DisplayName, "device", p.identity.DeviceID)
	return nil
}

// StopAdvertising stops advertising and returns to Idle.
func (p *Peripheral) StopAdvertising() error {
	p.mu.Lock()
	if p.state == PeripheralIdle {
		p.mu.Unlock()
		return nil
	}
	p.state = PeripheralIdle
	p.central = ""
	p.mu.Unlock()

	if err := p.radio.StopAdvertising(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	slog.Info("[BLE] advertising stopped")
	return nil
}

// State returns the current state.
func (p *Peripheral) State() PeripheralState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the last accepted position, or 0 if none.
func (p *Peripheral) Position() protocol.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// HandleWrite decodes a write request and drives the actuator. A non-nil
// error is reported to the central as a failed write; the actuator is only
// invoked for values that decode cleanly.
func (p *Peripheral) HandleWrite(data []byte, offset int) error {
	p.mu.Lock()
	writable := p.props.Writable
	p.mu.Unlock()
	if !writable {
		return ErrWriteNotPermitted
	}

	pos, err := protocol.Unmarshal(data, offset)
	if err != nil {
		slog.Warn("[BLE] rejected write", "data", data, "offset", offset, "error", err)
		return fmt.Errorf("%w: %w", ErrMalformedValue, err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.actuator.SetPosition(pos.Fraction())

	p.mu.Lock()
	p.position = pos
	p.mu.Unlock()
	slog.Debug("[BLE] position written", "position", pos)
	return nil
}

// HandleRead returns the last accepted position in wire form.
func (p *Peripheral) HandleRead() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.props.Readable {
		return nil, ErrReadNotPermitted
	}
	return p.position.Marshal(), nil
}

// HandleConnect records a central connecting. Only one central is tracked.
func (p *Peripheral) HandleConnect(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PeripheralAdvertising {
		return
	}
	p.state = PeripheralConnected
	p.central = address
	slog.Info("[BLE] central connected", "address", address)
}

// HandleDisconnect returns to Advertising when the tracked central leaves.
func (p *Peripheral) HandleDisconnect(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PeripheralConnected || p.central != address {
		return
	}
	p.state = PeripheralAdvertising
	p.central = ""
	slog.Info("[BLE] central disconnected", "address", address)
}

// HandleRadioState reacts to radio power changes. Powering off ends
// advertising; powering on is left to the caller, which restarts
// advertising explicitly.
func (p *Peripheral) HandleRadioState(poweredOn bool) {
	if poweredOn {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PeripheralIdle {
		return
	}
	p.state = PeripheralIdle
	p.central = ""
	slog.Warn("[BLE] radio powered off, advertising ended")
}
