package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitals/internal/core"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/groutine"
	"github.com/srg/vitals/internal/sim"
	"github.com/srg/vitals/pkg/config"
)

type simulateOptions struct {
	duration time.Duration
	script   string
	gap      time.Duration
	latency  time.Duration
	passkey  uint32
	status   bool
}

func newSimulateCmd() *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the server against simulated sensors and a scripted peer",
		Long: `Run the server role with simulated sensors on a simulated I2C bus and a
loopback peer that connects, bonds and confirms every indication.

The script is a comma separated list of steps:
  up, down, left, right, near, far, none   perform a gesture
  press-a, release-a, press-b, release-b   button edges
  enable-gesture                            hold B and click A
  finger-on, finger-off                     place or lift the finger on the pulse sensor
  disconnect                                make the peer drop the connection
  wait:<duration>                           pause, e.g. wait:5s

Received indications are printed as they arrive; the node status is printed
as JSON when the run ends.`,
		Example: `  vitals simulate --duration 30s
  vitals simulate --script "enable-gesture,left,wait:15s,up" --log-level info`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", time.Minute, "How long to run")
	cmd.Flags().StringVarP(&opts.script, "script", "s", "", "Script to play (defaults to simulation.script from the configuration)")
	cmd.Flags().DurationVar(&opts.gap, "gap", 250*time.Millisecond, "Pause between script steps")
	cmd.Flags().DurationVar(&opts.latency, "latency", 5*time.Millisecond, "Simulated radio latency")
	cmd.Flags().Uint32Var(&opts.passkey, "passkey", 0, "Ask for passkey confirmation instead of plain bonding")
	cmd.Flags().BoolVar(&opts.status, "status", true, "Print the final status as JSON")
	return cmd
}

func runSimulate(cmd *cobra.Command, opts *simulateOptions) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Role = config.RoleServer

	script := cfg.Simulation.Script
	if opts.script != "" {
		script = opts.script
	}
	steps, err := sim.ParseScript(script)
	if err != nil {
		return err
	}
	if opts.duration <= 0 {
		return fmt.Errorf("invalid duration %s: must be > 0", opts.duration)
	}
	cmd.SilenceUsage = true

	board := sim.NewHardware(cfg.Simulation, nil, logger)
	node, err := core.New(cfg, core.Hardware{I2C: board.Bus, Pins: board.Pins}, logger)
	if err != nil {
		return err
	}
	board.Gesture.SetInterrupt(node.Dispatcher().OnAuxEdge)

	out := cmd.OutOrStdout()
	peer := sim.NewLoopback(node.Dispatcher(), sim.LoopbackOptions{
		Latency:      opts.latency,
		Passkey:      opts.passkey,
		OnIndication: newIndicationPrinter(out),
		Logger:       logger,
	})
	if err := node.AttachServer(peer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	runner := &sim.Runner{
		Buttons: node.Dispatcher(),
		Gesture: board.Gesture,
		Hub:     board.Hub,
		Peer:    peer,
		Gap:     opts.gap,
		Logger:  logger,
	}

	var wg sync.WaitGroup
	groutine.GoTracked(ctx, &wg, "simulate-script", func(ctx context.Context) {
		if err := runner.Run(ctx, steps); err != nil && ctx.Err() == nil {
			logger.WithField("error", err).Warn("Script stopped")
			return
		}
		logger.WithField("steps", len(steps)).Debug("Script finished")
	})

	logger.WithFields(logrus.Fields{
		"duration": opts.duration,
		"steps":    len(steps),
	}).Info("Simulation started")

	peer.Start(ctx)
	runErr := node.Run(ctx)
	wg.Wait()
	if runErr != nil {
		return runErr
	}

	if !opts.status {
		return nil
	}
	data, err := node.Status().JSON()
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

var indicationColors = map[gatt.Capability]*color.Color{
	gatt.Temperature: color.New(color.FgYellow),
	gatt.Button:      color.New(color.FgMagenta),
	gatt.Gesture:     color.New(color.FgCyan),
	gatt.Pulse:       color.New(color.FgRed, color.Bold),
}

// newIndicationPrinter writes one line per indication the peer receives
func newIndicationPrinter(w io.Writer) sim.IndicationFunc {
	return func(c gatt.Capability, payload []byte) {
		line := fmt.Sprintf("%-11s %s", c, describePayload(c, payload))
		if col, ok := indicationColors[c]; ok {
			_, _ = col.Fprintln(w, line)
			return
		}
		fmt.Fprintln(w, line)
	}
}

func describePayload(c gatt.Capability, p []byte) string {
	switch c {
	case gatt.Temperature:
		t, err := gatt.DecodeTemperature(p)
		if err != nil {
			return fmt.Sprintf("% x", p)
		}
		return fmt.Sprintf("%.2f °C", t)
	case gatt.Button:
		if len(p) > 0 && p[0] != 0 {
			return "pressed"
		}
		return "released"
	case gatt.Gesture:
		if len(p) == 0 {
			return "?"
		}
		return gatt.GestureCode(p[0]).String()
	case gatt.Pulse:
		if len(p) == 0 {
			return "?"
		}
		return fmt.Sprintf("%d", p[0])
	default:
		return fmt.Sprintf("% x", p)
	}
}
