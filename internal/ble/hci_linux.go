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

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// attOutOfRange is the "Out of Range" common profile error code.
const attOutOfRange goble.ATTError = 0xff

// userDescriptionUUID is the Characteristic User Description descriptor.
var userDescriptionUUID = goble.UUID16(0x2901)

// HCIRadio is a PeripheralRadio on a Linux HCI controller via go-ble.
type HCIRadio struct {
	dev     goble.Device
	hciDone <-chan bool

	mu        sync.Mutex
	closed    bool
	cancelAdv context.CancelFunc
	advDone   chan struct{}
	conns     map[string]bool
	onConnect func(address string, connected bool)
	onState   func(poweredOn bool)
}

// NewHCIRadio opens the default HCI device.
func NewHCIRadio() (*HCIRadio, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("ble: open HCI device: %w", err)
	}
	return &HCIRadio{dev: dev, hciDone: dev.HCI.Done(), conns: make(map[string]bool)}, nil
}

// Compile-time check that HCIRadio implements PeripheralRadio.
var _ PeripheralRadio = (*HCIRadio)(nil)

// PoweredOn reports whether the device is open and its HCI event loop is
// running. go-ble exposes no controller power state, so a controller that
// stays attached but is powered down elsewhere is only noticed when
// advertising fails and the state handler reports false.
func (r *HCIRadio) PoweredOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && hciRunning(r.hciDone)
}

func (r *HCIRadio) SetConnectHandler(fn func(address string, connected bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = fn
}

func (r *HCIRadio) SetStateHandler(fn func(poweredOn bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

func (r *HCIRadio) AddService(def GATTService) error {
	return r.dev.AddService(r.buildService(def))
}

func (r *HCIRadio) buildService(def GATTService) *goble.Service {
	svc := goble.NewService(toGoBLEUUID(def.ServiceID))
	char := svc.NewCharacteristic(toGoBLEUUID(def.CharacteristicID))
	if def.Description != "" {
		char.NewDescriptor(userDescriptionUUID).SetValue([]byte(def.Description))
	}
	if def.Properties.Readable && def.OnRead != nil {
		char.HandleRead(goble.ReadHandlerFunc(r.readHandler(def.OnRead)))
	}
	if def.Properties.Writable && def.OnWrite != nil {
		char.HandleWrite(goble.WriteHandlerFunc(r.writeHandler(def.OnWrite)))
	}
	return svc
}

func (r *HCIRadio) Advertise(name string, ids ...uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("ble: radio closed")
	}
	if r.cancelAdv != nil {
		return nil
	}

	uuids := make([]goble.UUID, 0, len(ids))
	for _, id := range ids {
		uuids = append(uuids, toGoBLEUUID(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancelAdv = cancel
	r.advDone = done

	// AdvertiseNameAndServices blocks until ctx is done or the controller
	// fails.
	go func() {
		defer close(done)
		err := r.dev.AdvertiseNameAndServices(ctx, name, uuids...)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("[BLE] advertising failed", "error", err)
		r.mu.Lock()
		if r.advDone == done {
			r.cancelAdv = nil
			r.advDone = nil
		}
		onState := r.onState
		r.mu.Unlock()
		cancel()
		if onState != nil {
			onState(false)
		}
	}()
	return nil
}

func (r *HCIRadio) StopAdvertising() error {
	r.mu.Lock()
	cancel, done := r.cancelAdv, r.advDone
	r.cancelAdv = nil
	r.advDone = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Close stops advertising and releases the HCI device.
func (r *HCIRadio) Close() error {
	if err := r.StopAdvertising(); err != nil {
		return err
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.dev.Stop()
}

func (r *HCIRadio) writeHandler(onWrite func([]byte, int) error) func(goble.Request, goble.ResponseWriter) {
	return func(req goble.Request, rsp goble.ResponseWriter) {
		r.track(req.Conn())
		if err := onWrite(req.Data(), req.Offset()); err != nil {
			rsp.SetStatus(attStatus(err))
		}
	}
}

func (r *HCIRadio) readHandler(onRead func() ([]byte, error)) func(goble.Request, goble.ResponseWriter) {
	return func(req goble.Request, rsp goble.ResponseWriter) {
		r.track(req.Conn())
		data, err := onRead()
		if err != nil {
			rsp.SetStatus(attStatus(err))
			return
		}
		if _, err := rsp.Write(data); err != nil {
			slog.Warn("[BLE] read response", "error", err)
			rsp.SetStatus(goble.ErrUnlikely)
		}
	}
}

// track reports a central the first time one of its requests arrives and
// again when its link drops. go-ble does not surface connection events to
// a GATT server directly.
func (r *HCIRadio) track(conn goble.Conn) {
	addr := strings.ToUpper(conn.RemoteAddr().String())
	r.mu.Lock()
	if r.conns[addr] {
		r.mu.Unlock()
		return
	}
	r.conns[addr] = true
	onConnect := r.onConnect
	r.mu.Unlock()

	if onConnect != nil {
		onConnect(addr, true)
	}
	go func() {
		<-conn.Disconnected()
		r.mu.Lock()
		delete(r.conns, addr)
		onConnect := r.onConnect
		r.mu.Unlock()
		if onConnect != nil {
			onConnect(addr, false)
		}
	}()
}

// attStatus maps a handler error onto the ATT result code returned to the
// central.
func attStatus(err error) goble.ATTError {
	switch {
	case err == nil:
		return goble.ErrSuccess
	case errors.Is(err, protocol.ErrInvalidOffset):
		return goble.ErrInvalidOffset
	case errors.Is(err, protocol.ErrEmptyValue):
		return goble.ErrInvalAttrValueLen
	case errors.Is(err, ErrMalformedValue):
		return attOutOfRange
	case errors.Is(err, ErrWriteNotPermitted):
		return goble.ErrWriteNotPerm
	case errors.Is(err, ErrReadNotPermitted):
		return goble.ErrReadNotPerm
	default:
		return goble.ErrUnlikely
	}
}

func toGoBLEUUID(id uuid.UUID) goble.UUID {
	return goble.MustParse(id.String())
}
