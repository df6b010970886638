package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// mockWriter records Write calls and fails while err is set.
type mockWriter struct {
	mu      sync.Mutex
	written []protocol.Position
	err     error
}

func (w *mockWriter) Write(_ context.Context, pos protocol.Position) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, pos)
	return nil
}

func (w *mockWriter) positions() []protocol.Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.Position(nil), w.written...)
}

func TestNewControllerPanicsOnNilWriter(t *testing.T) {
	assert.Panics(t, func() { NewController(nil, Options{}) })
}

func TestControllerApply(t *testing.T) {
	w := &mockWriter{}
	c := NewController(w, Options{})

	require.NoError(t, c.Apply(context.Background(), 0))
	require.NoError(t, c.Apply(context.Background(), 1))
	require.NoError(t, c.Apply(context.Background(), 0.5))
	require.NoError(t, c.Apply(context.Background(), 1.7))

	assert.Equal(t, []protocol.Position{0, 100, 50, 100}, w.positions(), "out-of-domain input is clamped")
}

func TestControllerSkipsUnchanged(t *testing.T) {
	w := &mockWriter{}
	c := NewController(w, Options{})

	require.NoError(t, c.Apply(context.Background(), 0.42))
	require.NoError(t, c.Apply(context.Background(), 0.421))
	assert.Equal(t, []protocol.Position{42}, w.positions())

	c.Forget()
	require.NoError(t, c.Apply(context.Background(), 0.42))
	assert.Equal(t, []protocol.Position{42, 42}, w.positions())
}

func TestControllerFailedWriteIsRetried(t *testing.T) {
	w := &mockWriter{err: errors.New("ble: not ready")}
	c := NewController(w, Options{})

	err := c.Apply(context.Background(), 0.3)
	assert.EqualError(t, err, "ble: not ready")

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	require.NoError(t, c.Apply(context.Background(), 0.3))
	assert.Equal(t, []protocol.Position{30}, w.positions())
}

func TestControllerThrottles(t *testing.T) {
	w := &mockWriter{}
	c := NewController(w, Options{MaxPerSecond: 0.001, Burst: 1})

	require.NoError(t, c.Apply(context.Background(), 0.1))
	err := c.Apply(context.Background(), 0.2)

	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, []protocol.Position{10}, w.positions())
}

// gatedWriter reports readiness the way the central does.
type gatedWriter struct {
	mockWriter
	ready bool
}

func (w *gatedWriter) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func TestControllerNotReadyKeepsToken(t *testing.T) {
	w := &gatedWriter{}
	c := NewController(w, Options{MaxPerSecond: 0.001, Burst: 1})

	err := c.Apply(context.Background(), 0.1)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, w.positions())

	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()

	require.NoError(t, c.Apply(context.Background(), 0.1), "first write after ready must not be throttled")
	assert.ErrorIs(t, c.Apply(context.Background(), 0.2), ErrThrottled)
	assert.Equal(t, []protocol.Position{10}, w.positions())
}

func TestControllerRun(t *testing.T) {
	w := &mockWriter{}
	c := NewController(w, Options{})
	input := strings.Join([]string{
		"0.25",
		"",
		"# comment",
		"not-a-number",
		"75%",
		" 1 ",
	}, "\n")

	err := c.Run(context.Background(), strings.NewReader(input))

	require.NoError(t, err)
	assert.Equal(t, []protocol.Position{25, 75, 100}, w.positions())
}

func TestControllerRunStopsOnCancel(t *testing.T) {
	w := &mockWriter{}
	c := NewController(w, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx, strings.NewReader("0.5\n"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.positions())
}

func TestParseFraction(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "0.5", want: 0.5},
		{in: "50%", want: 0.5},
		{in: " 100 % ", want: 1},
		{in: "1.5", want: 1.5},
		{in: "half", wantErr: true},
		{in: "%", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFraction(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
