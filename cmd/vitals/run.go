package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitals/internal/core"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/hw"
	"github.com/srg/vitals/internal/link/goble"
	"github.com/srg/vitals/pkg/config"
)

func newRunCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node on real hardware",
		Long: `Run the node against the board's I2C bus, GPIO lines and Bluetooth adapter.

The server role needs the three sensors and the pulse hub RESET/MFIO lines.
The client role only uses the Bluetooth adapter and, when present, the buttons
to confirm a passkey.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNode(cmd, role)
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "Node role (server, client); overrides the configuration")
	return cmd
}

// lateInputs forwards GPIO edges once the dispatcher exists. The GPIO lines
// are opened first because the pulse sequence needs its output pins at
// construction.
type lateInputs struct {
	d atomic.Pointer[event.Dispatcher]
}

func (l *lateInputs) OnButtonA(pressed bool) {
	if d := l.d.Load(); d != nil {
		d.OnButtonA(pressed)
	}
}

func (l *lateInputs) OnButtonB(pressed bool) {
	if d := l.d.Load(); d != nil {
		d.OnButtonB(pressed)
	}
}

func (l *lateInputs) OnAuxEdge() {
	if d := l.d.Load(); d != nil {
		d.OnAuxEdge()
	}
}

func runNode(cmd *cobra.Command, role string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if role != "" {
		cfg.Role = config.Role(role)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputs := &lateInputs{}
	gpio, err := hw.Open(cfg.GPIO, inputs, logger)
	if err != nil {
		if cfg.Role == config.RoleServer {
			return err
		}
		logger.WithField("error", err).Warn("Buttons unavailable, passkeys cannot be confirmed")
		gpio = nil
	}
	if gpio != nil {
		defer gpio.Close()
	}

	var board core.Hardware
	if cfg.Role == config.RoleServer {
		i2c, closeI2C, err := openI2C(cfg.BusDevice)
		if err != nil {
			return err
		}
		defer closeI2C()
		board = core.Hardware{I2C: i2c, Pins: gpio}
	}

	node, err := core.New(cfg, board, logger)
	if err != nil {
		return err
	}
	inputs.d.Store(node.Dispatcher())

	dev, err := goble.DeviceFactory(cfg.Role)
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}

	switch cfg.Role {
	case config.RoleServer:
		link := goble.NewServer(dev, node.Dispatcher(), node.Store(), goble.ServerOptions{Name: cfg.DeviceName, Logger: logger})
		if err := node.AttachServer(link); err != nil {
			return err
		}
		if err := link.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = link.Stop() }()

	case config.RoleClient:
		link := goble.NewClient(dev, node.Dispatcher(), goble.ClientOptions{Logger: logger})
		if err := node.AttachClient(link); err != nil {
			return err
		}
		if err := link.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = link.Close() }()
	}

	if err := node.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	st := node.Status()
	logger.WithFields(logrus.Fields{
		"role":       st.Role,
		"elapsed_ms": st.ElapsedMs,
		"routed":     st.Routed,
		"coalesced":  st.Dispatcher.Coalesced,
	}).Info("Node stopped")
	return nil
}
