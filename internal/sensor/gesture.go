package sensor

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
)

// GestureState is either waiting for the INT edge or classifying
type GestureState int

const (
	GestureIdle GestureState = iota
	GestureRead
)

func (s GestureState) String() string {
	if s == GestureRead {
		return "Read"
	}
	return "Idle"
}

// GestureDriver is the gesture controller as seen by the machine
type GestureDriver interface {
	Init() error
	EnableGesture(interrupts bool) error
	DisableGesture() error
	GestureAvailable() (bool, error)
	ReadGesture() (gatt.GestureCode, error)
}

// Gesture turns INT edges of the gesture controller into gesture codes.
// A downward swipe switches the controller off until Enable is called again.
type Gesture struct {
	base
	dev  GestureDriver
	sink Sink

	state   GestureState
	enabled bool
	last    gatt.GestureCode
}

// NewGesture creates a disabled gesture machine
func NewGesture(dev GestureDriver, sink Sink, logger *logrus.Logger) *Gesture {
	return &Gesture{
		base: newBase("gesture", logger),
		dev:  dev,
		sink: sink,
	}
}

func (g *Gesture) State() string { return g.state.String() }

// Enabled reports whether INT edges are being classified
func (g *Gesture) Enabled() bool { return g.enabled }

// Last returns the most recent classification
func (g *Gesture) Last() gatt.GestureCode { return g.last }

// Enable initializes the controller and starts its gesture engine
func (g *Gesture) Enable() error {
	if err := g.dev.Init(); err != nil {
		return err
	}
	if err := g.dev.EnableGesture(true); err != nil {
		return err
	}
	g.enabled = true
	g.logger.WithField("machine", g.name).Info("Gesture sensor enabled")
	return nil
}

// Resume enables the controller if a downward swipe switched it off
func (g *Gesture) Resume() error {
	if g.enabled {
		return nil
	}
	return g.Enable()
}

// Disable stops the gesture engine
func (g *Gesture) Disable() error {
	g.enabled = false
	if err := g.dev.DisableGesture(); err != nil {
		return err
	}
	g.logger.WithField("machine", g.name).Info("Gesture sensor disabled")
	return nil
}

// Reset returns to Idle and stops classifying edges. It does no bus I/O.
func (g *Gesture) Reset() {
	from := g.state
	g.state = GestureIdle
	g.enabled = false
	g.last = gatt.GestureNone
	g.transition(from.String(), g.state.String())
}

// Step classifies a gesture on AuxSensorEdge. It returns the delivered code
// and true when a gesture was read.
func (g *Gesture) Step(e event.Event) (gatt.GestureCode, bool) {
	if g.state != GestureIdle || e.Kind != event.AuxSensorEdge {
		return gatt.GestureNone, false
	}
	if !g.enabled {
		g.logger.WithField("machine", g.name).Debug("Gesture edge ignored, sensor disabled")
		return gatt.GestureNone, false
	}

	g.state = GestureRead
	g.transition(GestureIdle.String(), GestureRead.String())
	defer func() {
		g.state = GestureIdle
		g.transition(GestureRead.String(), GestureIdle.String())
	}()

	ok, err := g.dev.GestureAvailable()
	if err != nil {
		g.logger.WithFields(logrus.Fields{"machine": g.name, "error": err}).Warn("Gesture status read failed")
		return gatt.GestureNone, false
	}
	if !ok {
		return gatt.GestureNone, false
	}

	code, err := g.dev.ReadGesture()
	if err != nil {
		g.logger.WithFields(logrus.Fields{"machine": g.name, "error": err}).Warn("Gesture read failed")
		return gatt.GestureNone, false
	}

	g.last = code
	g.logger.WithFields(logrus.Fields{
		"machine": g.name,
		"gesture": code,
	}).Info("Gesture detected")

	if code == gatt.GestureDown {
		if err := g.Disable(); err != nil {
			g.logger.WithFields(logrus.Fields{"machine": g.name, "error": err}).Warn("Failed to disable gesture sensor")
		}
	}

	g.sink.Deliver(gatt.Gesture, gatt.GesturePayload(code))
	return code, true
}
