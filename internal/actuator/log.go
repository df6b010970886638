package actuator

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// LogDriver logs the pulse width each position would produce. It stands in
// for the servo on machines without PWM hardware.
type LogDriver struct {
	pulses protocol.PulseRange

	mu   sync.Mutex
	last int
}

// Compile-time interface satisfaction check.
var _ Driver = (*LogDriver)(nil)

// NewLogDriver creates a LogDriver mapping onto pulses.
func NewLogDriver(pulses protocol.PulseRange) *LogDriver {
	return &LogDriver{pulses: pulses, last: -1}
}

func (d *LogDriver) SetPosition(fraction float64) {
	pulse := d.pulses.ForFraction(fraction)
	d.mu.Lock()
	d.last = pulse
	d.mu.Unlock()
	slog.Info("[SERVO] position", "fraction", fraction, "pulse", pulse)
}

// LastPulse returns the most recent pulse width, or -1 before the first
// SetPosition.
func (d *LogDriver) LastPulse() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *LogDriver) Close() error { return nil }
