package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/ble-servo/internal/actuator"
	"github.com/chaz8081/ble-servo/internal/ble"
)

// advertiseRetry is how often the peripheral retries advertising while the
// radio is unavailable.
const advertiseRetry = 2 * time.Second

func peripheralCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	identity, err := cfg.Identity()
	if err != nil {
		return err
	}
	printBanner("peripheral", cfg)

	driver, err := actuator.New(actuator.Config{
		Driver:      cfg.Servo.Driver,
		Pin:         cfg.Servo.Pin,
		Pulses:      cfg.PulseRange(),
		PWMRange:    cfg.Servo.PWMRange,
		FrequencyHz: cfg.Servo.PWMFrequencyHz,
	})
	if err != nil {
		return fmt.Errorf("%w (set servo.driver: log to run without PWM hardware)", err)
	}
	defer driver.Close()

	radio, err := ble.NewHCIRadio()
	if err != nil {
		return err
	}
	defer radio.Close()

	p := ble.NewPeripheral(radio, driver)
	props := ble.CharacteristicProperties{Readable: cfg.Device.Readable, Writable: cfg.Device.Writable}
	if err := p.Configure(identity, props); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Println("Ready! Ctrl+C to quit.")
	return runPeripheral(ctx, p, advertiseRetry)
}

// runPeripheral keeps the peripheral advertising until ctx is done. When
// the radio powers off the peripheral drops to Idle, and advertising is
// restarted once the radio is back.
func runPeripheral(ctx context.Context, p *ble.Peripheral, retry time.Duration) error {
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	waiting := false
	for {
		if p.State() == ble.PeripheralIdle {
			err := p.StartAdvertising()
			switch {
			case err == nil:
				waiting = false
			case errors.Is(err, ble.ErrRadioUnavailable):
				if !waiting {
					slog.Warn("[BLE] radio unavailable, waiting to advertise", "error", err)
					waiting = true
				}
			default:
				return err
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("shutting down", "position", p.Position())
			if err := p.StopAdvertising(); err != nil {
				slog.Warn("[BLE] stop advertising", "error", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}
