// Package core owns every component of a node and routes signal events to
// them from one cooperative run loop.
package core

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/bus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/sensor"
	"github.com/srg/vitals/internal/session"
	"github.com/srg/vitals/internal/timer"
	"github.com/srg/vitals/pkg/config"
	"tinygo.org/x/drivers"
)

var (
	ErrNoSession       = errors.New("no session attached")
	ErrSessionAttached = errors.New("session already attached")
	ErrWrongRole       = errors.New("session does not match the configured role")
)

// Hardware is what a server node needs besides the wireless link.
// A client node runs no sensors and may leave it empty.
type Hardware struct {
	I2C  drivers.I2C
	Pins sensor.PulsePins
}

// Acquisition names the sensor sequence currently fed with events
type Acquisition int

const (
	AcquireNone Acquisition = iota
	AcquirePulse
	AcquireTemperature
)

func (a Acquisition) String() string {
	switch a {
	case AcquirePulse:
		return "pulse"
	case AcquireTemperature:
		return "temperature"
	default:
		return "none"
	}
}

// Context is the single owned application context. Interrupt-side producers
// only reach it through the dispatcher; everything else is touched from the
// run loop alone.
type Context struct {
	cfg    *config.Config
	logger *logrus.Logger

	dispatcher *event.Dispatcher
	journal    *event.Journal
	letimer    *timer.LETimer
	delay      *timer.Delay
	store      *gatt.Store

	bus         *bus.Sequencer
	temperature *sensor.Temperature
	gesture     *sensor.Gesture
	pulse       *sensor.Pulse

	server *session.Server
	client *session.Client

	gestureValue gatt.GestureCode
	pulseOn      bool
	active       Acquisition

	routed uint64
}

// New builds the context for cfg.Role. The server role requires an I2C
// backend and the pulse hub pins.
func New(cfg *config.Config, hw Hardware, logger *logrus.Logger) (*Context, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	journal, err := event.NewJournal(cfg.JournalSize)
	if err != nil {
		return nil, err
	}

	d := event.NewDispatcher(cfg.EventBuffer)
	c := &Context{
		cfg:        cfg,
		logger:     logger,
		dispatcher: d,
		journal:    journal,
		letimer:    timer.NewLETimer(cfg.TimerPeriod, d, logger),
		delay:      timer.NewDelay(cfg.MinDelay, cfg.MaxDelay, d, logger),
		store:      gatt.NewStore(),
	}

	if cfg.Role != config.RoleServer {
		return c, nil
	}
	if hw.I2C == nil {
		return nil, fmt.Errorf("server role requires an I2C bus")
	}
	if hw.Pins == nil {
		return nil, fmt.Errorf("server role requires the pulse hub pins")
	}

	c.bus = bus.NewSequencer(hw.I2C, d, logger)
	c.temperature = sensor.NewTemperature(c.bus, c.delay, c, logger)
	c.gesture = sensor.NewGesture(sensor.NewAPDS9960(c.bus, c.delay), c, logger)
	c.pulse = sensor.NewPulse(c.bus, c.delay, hw.Pins, c, c, logger)
	return c, nil
}

// Dispatcher is handed to every interrupt-side producer
func (c *Context) Dispatcher() *event.Dispatcher { return c.dispatcher }

// Store is the local attribute store served to peers
func (c *Context) Store() *gatt.Store { return c.store }

// Server returns the accepting session, nil until attached
func (c *Context) Server() *session.Server { return c.server }

// Client returns the initiating session, nil until attached
func (c *Context) Client() *session.Client { return c.client }

// AttachServer creates the server session over link
func (c *Context) AttachServer(link session.ServerLink) error {
	if c.cfg.Role != config.RoleServer {
		return ErrWrongRole
	}
	if c.server != nil {
		return ErrSessionAttached
	}
	c.server = session.NewServer(link, c.store, c.cfg.QueueCapacity, c.logger)
	return nil
}

// AttachClient creates the client session over link
func (c *Context) AttachClient(link session.ClientLink) error {
	if c.cfg.Role != config.RoleClient {
		return ErrWrongRole
	}
	if c.client != nil {
		return ErrSessionAttached
	}
	c.client = session.NewClient(link, c.cfg.ServerAddress, c.logger)
	return nil
}

// SetTracer observes the transitions of every sensor machine
func (c *Context) SetTracer(t sensor.Tracer) {
	if c.cfg.Role != config.RoleServer {
		return
	}
	c.temperature.SetTracer(t)
	c.gesture.SetTracer(t)
	c.pulse.SetTracer(t)
}

// Deliver hands a sensor value to the server session
func (c *Context) Deliver(cp gatt.Capability, payload []byte) {
	if c.server == nil {
		c.logger.WithField("capability", cp).Debug("No session, value dropped")
		return
	}
	c.server.Deliver(cp, payload)
}

func (c *Context) PulseOn() bool { return c.pulseOn }

func (c *Context) SetPulseOn(on bool) { c.pulseOn = on }

func (c *Context) Gesture() gatt.GestureCode { return c.gestureValue }

// RearmGesture clears the gesture selection and brings the gesture sensor
// back if a downward swipe switched it off
func (c *Context) RearmGesture() {
	c.gestureValue = gatt.GestureNone
	if err := c.gesture.Resume(); err != nil {
		c.logger.WithField("error", err).Warn("Failed to re-enable gesture sensor")
	}
}

// ResetAll returns every sensor machine to its initial state and drops any
// armed delay. It runs on every disconnect.
func (c *Context) ResetAll() {
	if c.cfg.Role != config.RoleServer {
		return
	}
	c.delay.Cancel()
	c.temperature.Reset()
	c.pulse.Reset()
	c.gesture.Reset()
	c.gestureValue = gatt.GestureNone
	c.pulseOn = false
	c.active = AcquireNone
	c.logger.Debug("Sensor machines reset")
}
