package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/chaz8081/ble-servo/internal/ble"
	"github.com/chaz8081/ble-servo/internal/config"
	"github.com/chaz8081/ble-servo/internal/control"
)

func centralCommand(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	identity, err := cfg.Identity()
	if err != nil {
		return err
	}
	printBanner("central", cfg)

	var single *float64
	if s := c.String("position"); s != "" {
		v, err := control.ParseFraction(s)
		if err != nil {
			return err
		}
		single = &v
	}

	ctx, stop := signalContext()
	defer stop()

	central := ble.NewCentral(ble.NewCentralAdapter(), identity, ble.CentralOptions{
		DiscoveryTimeout: cfg.Central.DiscoveryTimeout,
		WriteTimeout:     cfg.Central.WriteTimeout,
	})
	defer central.Stop()

	ctrl := control.NewController(central, control.Options{
		MaxPerSecond: cfg.Central.MaxWritesPerSecond,
		Burst:        cfg.Central.Burst,
	})

	if c.Bool("reconnect") && single == nil {
		startReconnector(ctx, central, ctrl, cfg)
	}

	if err := central.Start(ctx); err != nil {
		return fmt.Errorf("connecting to %q: %w", identity.DisplayName, err)
	}

	if c.Bool("read") {
		pos, err := central.Read(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Current position: %s\n", pos)
	}

	if single != nil {
		return ctrl.Apply(ctx, *single)
	}

	fmt.Println("Ready! Enter positions (0.0-1.0 or 0%-100%), one per line. Ctrl+D to quit.")
	err = ctrl.Run(ctx, os.Stdin)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startReconnector restarts the central after every unsolicited disconnect.
// Failed discoveries during a restart are retried by the reconnector itself.
func startReconnector(ctx context.Context, central *ble.Central, ctrl *control.Controller, cfg *config.Config) {
	r := control.NewReconnector(func(ctx context.Context) error {
		if central.State() == ble.StateReady {
			return nil
		}
		ctrl.Forget()
		return central.Start(ctx)
	}, cfg.Central.ReconnectMax)

	central.OnStateChange(func(ev ble.StateEvent) {
		if ev.To == ble.StateDisconnected && errors.Is(ev.Err, ble.ErrDisconnected) {
			r.Notify()
		}
	})

	go func() {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("[CTRL] reconnector stopped", "error", err)
		}
	}()
}
