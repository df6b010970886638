package protocol

import (
	"fmt"
	"math"
)

// Pulse widths are PWM ticks. With the servo's 2000-tick range at 50 Hz one
// tick is 10µs, so the defaults span 1ms..2ms.
const (
	DefaultMinPulse = 100
	DefaultMaxPulse = 200
)

// PulseRange is the inclusive pulse width interval a position maps onto.
type PulseRange struct {
	Min int
	Max int
}

// DefaultPulseRange returns the 100..200 tick range.
func DefaultPulseRange() PulseRange {
	return PulseRange{Min: DefaultMinPulse, Max: DefaultMaxPulse}
}

// Validate checks that the range is non-empty and non-negative.
func (r PulseRange) Validate() error {
	if r.Min < 0 {
		return fmt.Errorf("protocol: min pulse must be >= 0, got %d", r.Min)
	}
	if r.Max <= r.Min {
		return fmt.Errorf("protocol: max pulse (%d) must be greater than min pulse (%d)", r.Max, r.Min)
	}
	return nil
}

// PulseWidth decodes a position into a pulse width:
// Min + round(p/100 * (Max-Min)).
func (r PulseRange) PulseWidth(p Position) int {
	return r.ForFraction(p.Fraction())
}

// ForFraction maps a fraction in [0.0, 1.0] onto the range, clamping
// inputs outside the domain.
func (r PulseRange) ForFraction(fraction float64) int {
	switch {
	case math.IsNaN(fraction) || fraction <= 0:
		return r.Min
	case fraction >= 1:
		return r.Max
	}
	return r.Min + int(math.Round(fraction*float64(r.Max-r.Min)))
}
