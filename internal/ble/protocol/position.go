// Package protocol implements the servo position contract shared by the
// central and peripheral roles: a single signed byte in [0,100] on the wire,
// and the linear mapping from that byte to a PWM pulse width.
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Position is a normalized actuator position.
type Position uint8

const (
	MinPosition Position = 0
	MaxPosition Position = 100
)

var (
	ErrEmptyValue    = errors.New("protocol: empty characteristic value")
	ErrInvalidOffset = errors.New("protocol: offset out of range")
	ErrOutOfRange    = errors.New("protocol: position out of range")
)

// Encode maps a UI fraction in [0.0, 1.0] to a Position via
// round(fraction * 100). Inputs outside the domain (including NaN) are
// clamped, never wrapped.
func Encode(fraction float64) Position {
	if math.IsNaN(fraction) || fraction <= 0 {
		return MinPosition
	}
	if fraction >= 1 {
		return MaxPosition
	}
	return Position(math.Round(fraction * float64(MaxPosition)))
}

// Clamp limits p to [MinPosition, MaxPosition].
func (p Position) Clamp() Position {
	if p > MaxPosition {
		return MaxPosition
	}
	return p
}

// Fraction returns the position as a fraction in [0.0, 1.0].
func (p Position) Fraction() float64 {
	return float64(p.Clamp()) / float64(MaxPosition)
}

// Marshal returns the one-byte wire form of p, clamped.
func (p Position) Marshal() []byte {
	return []byte{byte(p.Clamp())}
}

// Unmarshal decodes the signed byte at offset. Trailing bytes are ignored
// so that centrals sending a wider little-endian integer still decode to
// their low byte.
func Unmarshal(data []byte, offset int) (Position, error) {
	if len(data) == 0 {
		return 0, ErrEmptyValue
	}
	if offset < 0 || offset >= len(data) {
		return 0, fmt.Errorf("%w: offset %d, length %d", ErrInvalidOffset, offset, len(data))
	}
	v := int8(data[offset])
	if v < int8(MinPosition) || v > int8(MaxPosition) {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return Position(v), nil
}

func (p Position) String() string {
	return fmt.Sprintf("%d%%", uint8(p))
}
