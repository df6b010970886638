package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/ble-servo/internal/ble"
	"github.com/chaz8081/ble-servo/internal/config"
)

func main() {
	app := cli.NewApp()
	app.Name = "ble-servo"
	app.Usage = "drive a hobby servo over Bluetooth Low Energy"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/ble-servo/config.yaml)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "peripheral",
			Usage:  "Advertise the servo service and drive the servo from incoming writes",
			Action: peripheralCommand,
		},
		{
			Name:  "central",
			Usage: "Connect to the servo and write positions read from stdin",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "position, p",
					Usage: "write a single position (0.0-1.0 or 0%-100%) and exit",
				},
				cli.BoolFlag{
					Name:  "read",
					Usage: "print the servo's current position after connecting",
				},
				cli.BoolFlag{
					Name:  "reconnect",
					Usage: "reconnect with backoff when the servo drops the link",
				},
			},
			Action: centralCommand,
		},
		{
			Name:  "scan",
			Usage: "List nearby BLE advertisements",
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:  "duration, d",
					Value: 5 * time.Second,
					Usage: "how long to scan",
				},
			},
			Action: scanCommand,
		},
		{
			Name:   "init-config",
			Usage:  "Write a commented default config file",
			Action: initConfigCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ble-servo: %v\n", err)
		os.Exit(1)
	}
}

// setup loads and validates the config and installs the slog handler.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, source, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
	slog.Info("config loaded", "source", source)
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	// No config file, use defaults
	return config.Default(), "built-in defaults", nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printBanner displays the startup configuration summary.
func printBanner(role string, cfg *config.Config) {
	fmt.Println("=== ble-servo ===")
	fmt.Printf("  Role:     %s\n", role)
	fmt.Printf("  Device:   %s (%s)\n", cfg.Device.Name, cfg.Device.DeviceID)
	fmt.Printf("  Service:  %s\n", cfg.Device.ServiceID)
	fmt.Printf("  Char:     %s\n", cfg.Device.CharacteristicID)
	switch role {
	case "peripheral":
		fmt.Printf("  Servo:    %s on %s, pulse %d..%d of %d @ %dHz\n",
			cfg.Servo.Driver, cfg.Servo.Pin, cfg.Servo.MinPulse, cfg.Servo.MaxPulse,
			cfg.Servo.PWMRange, cfg.Servo.PWMFrequencyHz)
	case "central":
		fmt.Printf("  Timeouts: discovery %s, write %s\n", cfg.Central.DiscoveryTimeout, cfg.Central.WriteTimeout)
		fmt.Printf("  Throttle: %g writes/s (burst %d)\n", cfg.Central.MaxWritesPerSecond, cfg.Central.Burst)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=================")
}

func scanCommand(c *cli.Context) error {
	if _, err := setup(c); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	duration := c.Duration("duration")
	fmt.Printf("Scanning for %s...\n", duration)
	devices, err := ble.ScanForDevices(ctx, ble.NewCentralAdapter(), duration)
	for _, d := range devices {
		name := d.LocalName
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-20s  %4d dBm  %s\n", d.Address, d.RSSI, name)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d device(s) found\n", len(devices))
	return nil
}

func initConfigCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
