//go:build linux

package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goble "github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

const testCentralAddr = "11:22:33:44:55:66"

// mockGoBLEConn is the part of a go-ble connection the GATT handlers touch.
type mockGoBLEConn struct {
	goble.Conn
	ctx  context.Context
	done chan struct{}
}

func (c *mockGoBLEConn) Context() context.Context      { return c.ctx }
func (c *mockGoBLEConn) RemoteAddr() goble.Addr        { return goble.NewAddr(testCentralAddr) }
func (c *mockGoBLEConn) Disconnected() <-chan struct{} { return c.done }

type mockRspWriter struct {
	buff   bytes.Buffer
	status goble.ATTError
}

func (rw *mockRspWriter) Write(b []byte) (int, error)     { return rw.buff.Write(b) }
func (rw *mockRspWriter) Status() goble.ATTError          { return rw.status }
func (rw *mockRspWriter) SetStatus(status goble.ATTError) { rw.status = status }
func (rw *mockRspWriter) Len() int                        { return rw.buff.Len() }
func (rw *mockRspWriter) Cap() int                        { return 512 }

func newMockGoBLEConn() *mockGoBLEConn {
	return &mockGoBLEConn{ctx: context.Background(), done: make(chan struct{})}
}

func TestATTStatus(t *testing.T) {
	tests := []struct {
		err  error
		want goble.ATTError
	}{
		{nil, goble.ErrSuccess},
		{fmt.Errorf("%w: %w", ErrMalformedValue, protocol.ErrOutOfRange), attOutOfRange},
		{fmt.Errorf("%w: %w", ErrMalformedValue, protocol.ErrEmptyValue), goble.ErrInvalAttrValueLen},
		{fmt.Errorf("%w: %w", ErrMalformedValue, protocol.ErrInvalidOffset), goble.ErrInvalidOffset},
		{ErrWriteNotPermitted, goble.ErrWriteNotPerm},
		{ErrReadNotPermitted, goble.ErrReadNotPerm},
		{errors.New("boom"), goble.ErrUnlikely},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, attStatus(tt.err))
		})
	}
}

func TestHCIWriteHandler(t *testing.T) {
	radio := &HCIRadio{conns: make(map[string]bool)}
	var events []bool
	radio.SetConnectHandler(func(addr string, connected bool) {
		assert.Equal(t, testCentralAddr, addr)
		events = append(events, connected)
	})

	p := NewPeripheral(&mockRadio{poweredOn: true}, &mockActuator{})
	p.props = readWrite
	handle := radio.writeHandler(p.HandleWrite)
	conn := newMockGoBLEConn()

	rsp := &mockRspWriter{}
	handle(goble.NewRequest(conn, []byte{150}, 0), rsp)
	assert.Equal(t, attOutOfRange, rsp.status)
	assert.Equal(t, protocol.Position(0), p.Position())

	rsp = &mockRspWriter{}
	handle(goble.NewRequest(conn, []byte{70}, 0), rsp)
	assert.Equal(t, goble.ErrSuccess, rsp.status)
	assert.Equal(t, protocol.Position(70), p.Position())

	// One connect for two requests on the same link.
	assert.Equal(t, []bool{true}, events)
}

func TestHCIReadHandler(t *testing.T) {
	radio := &HCIRadio{conns: make(map[string]bool)}
	handle := radio.readHandler(func() ([]byte, error) { return []byte{42}, nil })

	rsp := &mockRspWriter{}
	handle(goble.NewRequest(newMockGoBLEConn(), nil, 0), rsp)

	assert.Equal(t, goble.ErrSuccess, rsp.status)
	assert.Equal(t, []byte{42}, rsp.buff.Bytes())

	denied := radio.readHandler(func() ([]byte, error) { return nil, ErrReadNotPermitted })
	rsp = &mockRspWriter{}
	denied(goble.NewRequest(newMockGoBLEConn(), nil, 0), rsp)
	assert.Equal(t, goble.ErrReadNotPerm, rsp.status)
}

func TestHCITrackDisconnect(t *testing.T) {
	radio := &HCIRadio{conns: make(map[string]bool)}
	events := make(chan bool, 2)
	radio.SetConnectHandler(func(_ string, connected bool) { events <- connected })

	conn := newMockGoBLEConn()
	radio.track(conn)
	require.True(t, <-events)

	close(conn.done)
	select {
	case connected := <-events:
		assert.False(t, connected)
	case <-time.After(time.Second):
		t.Fatal("no disconnect event")
	}
}

type stoppableGoBLEDevice struct {
	goble.Device
	stopped bool
}

func (d *stoppableGoBLEDevice) Stop() error {
	d.stopped = true
	return nil
}

func TestHCIRadioPoweredOn(t *testing.T) {
	t.Run("event loop ends", func(t *testing.T) {
		hciDone := make(chan bool)
		radio := &HCIRadio{dev: &stoppableGoBLEDevice{}, hciDone: hciDone, conns: make(map[string]bool)}
		assert.True(t, radio.PoweredOn())

		close(hciDone)
		assert.False(t, radio.PoweredOn())
	})

	t.Run("closed", func(t *testing.T) {
		dev := &stoppableGoBLEDevice{}
		radio := &HCIRadio{dev: dev, hciDone: make(chan bool), conns: make(map[string]bool)}

		require.NoError(t, radio.Close())

		assert.True(t, dev.stopped)
		assert.False(t, radio.PoweredOn())
		assert.Error(t, radio.Advertise("servo"))
	})
}
