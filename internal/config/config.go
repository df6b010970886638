package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Servo    ServoConfig   `yaml:"servo"`
	Central  CentralConfig `yaml:"central"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies the servo peripheral. Both roles must agree on it.
type DeviceConfig struct {
	Name             string `yaml:"name"`
	DeviceID         string `yaml:"device_id"`
	ServiceID        string `yaml:"service_id"`
	CharacteristicID string `yaml:"characteristic_id"`
	Readable         bool   `yaml:"readable"`
	Writable         bool   `yaml:"writable"`
}

// ServoConfig holds actuator settings for the peripheral.
type ServoConfig struct {
	Driver         string `yaml:"driver"` // "pwm" or "log"
	Pin            string `yaml:"pin"`
	MinPulse       int    `yaml:"min_pulse"`
	MaxPulse       int    `yaml:"max_pulse"`
	PWMRange       int    `yaml:"pwm_range"`
	PWMFrequencyHz int    `yaml:"pwm_frequency_hz"`
}

// CentralConfig holds timeouts and write throttling for the central.
type CentralConfig struct {
	DiscoveryTimeout   time.Duration `yaml:"discovery_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ReconnectMax       time.Duration `yaml:"reconnect_max"`
	MaxWritesPerSecond float64       `yaml:"max_writes_per_second"`
	Burst              int           `yaml:"burst"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ble-servo")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:             protocol.DefaultDisplayName,
			DeviceID:         protocol.DefaultDeviceID,
			ServiceID:        protocol.DefaultServiceID,
			CharacteristicID: protocol.DefaultCharacteristicID,
			Readable:         true,
			Writable:         true,
		},
		Servo: ServoConfig{
			Driver:         "pwm",
			Pin:            "GPIO18",
			MinPulse:       protocol.DefaultMinPulse,
			MaxPulse:       protocol.DefaultMaxPulse,
			PWMRange:       2000,
			PWMFrequencyHz: 50,
		},
		Central: CentralConfig{
			DiscoveryTimeout:   10 * time.Second,
			WriteTimeout:       5 * time.Second,
			ReconnectMax:       30 * time.Second,
			MaxWritesPerSecond: 10,
			Burst:              1,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. A leading tilde in path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := c.Identity(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	if !c.Device.Readable && !c.Device.Writable {
		return errors.New("device: characteristic must be readable, writable, or both")
	}

	switch c.Servo.Driver {
	case "pwm", "log":
	default:
		return fmt.Errorf("servo.driver must be \"pwm\" or \"log\", got %q", c.Servo.Driver)
	}
	if c.Servo.Driver == "pwm" && c.Servo.Pin == "" {
		return errors.New("servo.pin must not be empty for the pwm driver")
	}
	if err := c.PulseRange().Validate(); err != nil {
		return fmt.Errorf("servo: %w", err)
	}
	if c.Servo.PWMRange <= 0 {
		return errors.New("servo.pwm_range must be > 0")
	}
	if c.Servo.MaxPulse > c.Servo.PWMRange {
		return fmt.Errorf("servo.max_pulse (%d) must not exceed servo.pwm_range (%d)", c.Servo.MaxPulse, c.Servo.PWMRange)
	}
	if c.Servo.PWMFrequencyHz <= 0 {
		return errors.New("servo.pwm_frequency_hz must be > 0")
	}

	if c.Central.DiscoveryTimeout <= 0 {
		return errors.New("central.discovery_timeout must be > 0")
	}
	if c.Central.WriteTimeout <= 0 {
		return errors.New("central.write_timeout must be > 0")
	}
	if c.Central.ReconnectMax <= 0 {
		return errors.New("central.reconnect_max must be > 0")
	}
	if c.Central.MaxWritesPerSecond < 0 {
		return errors.New("central.max_writes_per_second must be >= 0 (0 disables throttling)")
	}
	if c.Central.Burst < 1 {
		return errors.New("central.burst must be >= 1")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Identity parses the device section.
func (c *Config) Identity() (protocol.DeviceIdentity, error) {
	return protocol.ParseIdentity(c.Device.Name, c.Device.DeviceID, c.Device.ServiceID, c.Device.CharacteristicID)
}

// PulseRange returns the servo pulse width range.
func (c *Config) PulseRange() protocol.PulseRange {
	return protocol.PulseRange{Min: c.Servo.MinPulse, Max: c.Servo.MaxPulse}
}

// SlogLevel maps log_level onto a slog level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigTemplate = `# ble-servo configuration
# Both the central and the peripheral read this file; the device section
# must match on both sides.

device:
  name: "My Awesome Servo"
  device_id: 269e0082-be19-4e59-9f77-af341b57e1bf
  service_id: e853db91-e787-4eeb-ae7c-536d689f5741
  characteristic_id: 01ad6336-32b5-499c-9130-3f989684044c
  readable: true
  writable: true

# Peripheral only. driver "log" prints pulse widths instead of driving a pin.
servo:
  driver: pwm
  pin: GPIO18
  min_pulse: 100         # PWM ticks, 10us each at 50 Hz with a 2000 range
  max_pulse: 200
  pwm_range: 2000
  pwm_frequency_hz: 50

# Central only.
central:
  discovery_timeout: 10s
  write_timeout: 5s
  reconnect_max: 30s
  max_writes_per_second: 10   # 0 disables throttling
  burst: 1

log_level: info               # debug, info, warn, error
`

// WriteDefault writes the commented default config to DefaultConfigPath.
// It returns the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
