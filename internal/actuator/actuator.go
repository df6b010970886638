// Package actuator drives the physical servo from decoded positions, either
// through a hardware PWM pin or, for bench testing, by logging.
package actuator

import (
	"fmt"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// Driver moves the servo. SetPosition takes a fraction in [0.0, 1.0] and
// never fails; backends log hardware errors instead of returning them.
type Driver interface {
	SetPosition(fraction float64)
	Close() error
}

// Config selects and parameterises a Driver.
type Config struct {
	Driver      string // "pwm" or "log"
	Pin         string // periph pin name, e.g. "GPIO18"
	Pulses      protocol.PulseRange
	PWMRange    int // ticks per PWM period
	FrequencyHz int
}

// New creates the driver named by cfg.Driver.
func New(cfg Config) (Driver, error) {
	if err := cfg.Pulses.Validate(); err != nil {
		return nil, fmt.Errorf("actuator: %w", err)
	}
	switch cfg.Driver {
	case "pwm":
		return NewPWMServo(cfg)
	case "log", "":
		return NewLogDriver(cfg.Pulses), nil
	default:
		return nil, fmt.Errorf("actuator: unknown driver %q (want \"pwm\" or \"log\")", cfg.Driver)
	}
}
