//go:build linux

package hw

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/pkg/config"
	"github.com/warthog618/go-gpiocdev"
)

const (
	consumer       = "vitals"
	buttonDebounce = 10 * time.Millisecond
)

// GPIO owns the requested lines. Buttons are wired active low with pull-ups;
// the gesture INT line is open drain and pulled low while a gesture waits.
type GPIO struct {
	logger *logrus.Logger
	chip   *gpiocdev.Chip

	mu    sync.Mutex
	lines map[string]*gpiocdev.Line
}

// Open requests every line of cfg on its chip. Input edges are forwarded to in.
func Open(cfg config.GPIOConfig, in Inputs, logger *logrus.Logger) (*GPIO, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", cfg.Chip, err)
	}
	g := &GPIO{logger: logger, chip: chip, lines: make(map[string]*gpiocdev.Line)}

	inputs := []struct {
		name   string
		offset int
		opts   []gpiocdev.LineReqOption
	}{
		{"button_a", cfg.ButtonA, []gpiocdev.LineReqOption{
			gpiocdev.AsInput, gpiocdev.AsActiveLow, gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges, gpiocdev.WithDebounce(buttonDebounce),
			gpiocdev.WithEventHandler(buttonHandler(in.OnButtonA)),
		}},
		{"button_b", cfg.ButtonB, []gpiocdev.LineReqOption{
			gpiocdev.AsInput, gpiocdev.AsActiveLow, gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges, gpiocdev.WithDebounce(buttonDebounce),
			gpiocdev.WithEventHandler(buttonHandler(in.OnButtonB)),
		}},
		{"gesture_int", cfg.GestureInt, []gpiocdev.LineReqOption{
			gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { in.OnAuxEdge() }),
		}},
	}
	for _, l := range inputs {
		if err := g.request(l.name, l.offset, l.opts...); err != nil {
			g.Close()
			return nil, err
		}
	}

	// hub held in reset until the pulse sequence releases it
	if err := g.request("pulse_reset", cfg.PulseReset, gpiocdev.AsOutput(0)); err != nil {
		g.Close()
		return nil, err
	}
	if err := g.request("pulse_mfio", cfg.PulseMFIO, gpiocdev.AsOutput(1)); err != nil {
		g.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{"chip": cfg.Chip, "lines": len(g.lines)}).Info("GPIO lines requested")
	return g, nil
}

func (g *GPIO) request(name string, offset int, opts ...gpiocdev.LineReqOption) error {
	line, err := g.chip.RequestLine(offset, append(opts, gpiocdev.WithConsumer(consumer))...)
	if err != nil {
		return fmt.Errorf("failed to request GPIO line %s (%d): %w", name, offset, err)
	}
	g.mu.Lock()
	g.lines[name] = line
	g.mu.Unlock()
	g.logger.WithFields(logrus.Fields{"line": name, "offset": offset}).Debug("GPIO line requested")
	return nil
}

// buttonHandler turns edges of an active-low line into press/release calls
func buttonHandler(set func(pressed bool)) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		set(evt.Type == gpiocdev.LineEventRisingEdge)
	}
}

func (g *GPIO) write(name string, high bool) error {
	g.mu.Lock()
	line, ok := g.lines[name]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown GPIO output %s", name)
	}

	v := 0
	if high {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("failed to set %s=%d: %w", name, v, err)
	}
	return nil
}

// SetReset drives the hub RESET line
func (g *GPIO) SetReset(high bool) error { return g.write("pulse_reset", high) }

// SetMFIO drives the hub MFIO line
func (g *GPIO) SetMFIO(high bool) error { return g.write("pulse_mfio", high) }

// Close releases every line and the chip
func (g *GPIO) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, line := range g.lines {
		if err := line.Close(); err != nil {
			g.logger.WithFields(logrus.Fields{"line": name, "error": err}).Warn("Failed to release GPIO line")
		}
		delete(g.lines, name)
	}
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
}
