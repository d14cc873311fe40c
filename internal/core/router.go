package core

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/pkg/config"
)

// Run processes events one at a time, in arrival order, until ctx is done.
// A cancelled context is a normal shutdown and returns nil.
func (c *Context) Run(ctx context.Context) error {
	if c.server == nil && c.client == nil {
		return ErrNoSession
	}
	if err := c.letimer.Start(ctx); err != nil {
		return err
	}
	defer c.letimer.Stop()
	defer c.delay.Cancel()

	c.logger.WithFields(logrus.Fields{
		"role":   c.cfg.Role,
		"period": c.cfg.TimerPeriod,
	}).Info("Run loop started")

	for {
		e, err := c.dispatcher.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.WithField("routed", c.routed).Info("Run loop stopped")
				return nil
			}
			return err
		}
		c.Route(e)
	}
}

// Drain routes every event already posted without blocking and returns how
// many were routed
func (c *Context) Drain() int {
	n := 0
	for {
		e, ok := c.dispatcher.TryNext()
		if !ok {
			return n
		}
		c.Route(e)
		n++
	}
}

// Route hands one event to the session first and then to the sensor
// sequence selected by the last gesture
func (c *Context) Route(e event.Event) {
	c.routed++
	c.journal.Record(e)

	c.routeSession(e)
	if c.cfg.Role != config.RoleServer {
		return
	}
	c.routeSensors(e)
}

func (c *Context) routeSession(e event.Event) {
	switch e.Kind {
	case event.Peer:
		if c.server != nil {
			c.server.HandlePeer(e.PeerEvent)
		}
		if c.client != nil {
			c.client.HandlePeer(e.PeerEvent)
		}
		if _, closed := e.PeerEvent.(event.ConnectionClosed); closed {
			c.ResetAll()
		}

	case event.ButtonAEdge:
		pressed := c.dispatcher.ButtonAPressed()
		held := c.dispatcher.ButtonBPressed()
		if c.client != nil {
			c.client.OnButtonA(pressed, held)
			return
		}
		if pressed && held && c.gesture != nil {
			c.enableGesture()
		}
		if c.server != nil {
			c.server.OnButtonA(pressed)
		}

	case event.ButtonBEdge:
		c.logger.WithField("pressed", c.dispatcher.ButtonBPressed()).Debug("Button B")
	}
}

func (c *Context) routeSensors(e event.Event) {
	if code, ok := c.gesture.Step(e); ok {
		c.gestureValue = code
	}

	switch c.gestureValue {
	case gatt.GestureLeft, gatt.GestureRight:
		c.activate(AcquirePulse)
		c.pulseOn = true
		c.pulse.Step(e)
	case gatt.GestureUp:
		c.activate(AcquireTemperature)
		c.temperature.Step(e)
	default:
		c.activate(AcquireNone)
	}
}

// activate switches the sequence fed with events. The one left behind is
// reset and its pending delay dropped so the shared timer is free again.
func (c *Context) activate(a Acquisition) {
	if a == c.active {
		return
	}
	prev := c.active
	c.active = a

	switch prev {
	case AcquirePulse:
		c.pulse.Reset()
		c.pulseOn = false
	case AcquireTemperature:
		c.temperature.Reset()
	}
	if prev != AcquireNone {
		c.delay.Cancel()
	}

	c.logger.WithFields(logrus.Fields{
		"from":    prev,
		"to":      a,
		"gesture": c.gestureValue,
	}).Info("Acquisition switched")
}

func (c *Context) enableGesture() {
	if err := c.gesture.Enable(); err != nil {
		c.logger.WithField("error", err).Warn("Failed to enable gesture sensor")
	}
}
