package actuator

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// pwmPin is the subset of gpio.PinIO the servo needs.
type pwmPin interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
	Halt() error
}

// PWMServo drives a hobby servo on a hardware PWM pin. Pulse widths are
// expressed in ticks of a period divided into PWMRange ticks, so at 50 Hz
// with a 2000-tick range one tick is 10µs.
type PWMServo struct {
	pin      pwmPin
	pulses   protocol.PulseRange
	pwmRange int
	freq     physic.Frequency

	mu sync.Mutex
}

// Compile-time interface satisfaction check.
var _ Driver = (*PWMServo)(nil)

// NewPWMServo initialises the host drivers and claims cfg.Pin.
func NewPWMServo(cfg Config) (*PWMServo, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("actuator: init host: %w", err)
	}
	pin := gpioreg.ByName(cfg.Pin)
	if pin == nil {
		return nil, fmt.Errorf("actuator: pin %q not found", cfg.Pin)
	}
	return newPWMServo(pin, cfg)
}

func newPWMServo(pin pwmPin, cfg Config) (*PWMServo, error) {
	if cfg.PWMRange <= 0 {
		return nil, fmt.Errorf("actuator: pwm range must be > 0, got %d", cfg.PWMRange)
	}
	if cfg.Pulses.Max > cfg.PWMRange {
		return nil, fmt.Errorf("actuator: max pulse %d exceeds pwm range %d", cfg.Pulses.Max, cfg.PWMRange)
	}
	if cfg.FrequencyHz <= 0 {
		return nil, fmt.Errorf("actuator: pwm frequency must be > 0, got %d", cfg.FrequencyHz)
	}
	return &PWMServo{
		pin:      pin,
		pulses:   cfg.Pulses,
		pwmRange: cfg.PWMRange,
		freq:     physic.Frequency(cfg.FrequencyHz) * physic.Hertz,
	}, nil
}

// SetPosition sets the pulse width for fraction.
func (s *PWMServo) SetPosition(fraction float64) {
	pulse := s.pulses.ForFraction(fraction)
	duty := dutyFor(pulse, s.pwmRange)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pin.PWM(duty, s.freq); err != nil {
		slog.Error("[SERVO] set pwm", "pulse", pulse, "duty", duty, "error", err)
		return
	}
	slog.Debug("[SERVO] position", "fraction", fraction, "pulse", pulse, "duty", duty)
}

// Close stops the PWM output.
func (s *PWMServo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin.Halt()
}

// dutyFor converts a pulse width in ticks to a periph duty cycle.
func dutyFor(pulse, pwmRange int) gpio.Duty {
	if pulse <= 0 {
		return 0
	}
	if pulse >= pwmRange {
		return gpio.DutyMax
	}
	return gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(pwmRange))
}
