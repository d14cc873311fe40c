// Package sensor holds the acquisition state machines for the temperature,
// gesture and pulse/oxygen sensors.
//
// Every machine is advanced one step per routed event by the run loop and
// never blocks on asynchronous bus work: it starts a transaction or arms the
// shared delay, records its next state and returns. Events that do not match
// the current state leave the machine where it is.
package sensor

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/gatt"
)

// Bus is the part of the bus sequencer used by the machines
type Bus interface {
	Write(addr uint16, w []byte) error
	Read(addr uint16, n int) error
	Result() ([]byte, error)
	Tx(addr uint16, w, r []byte) error
	ReadRegister(addr uint8, reg uint8, buf []byte) error
	WriteRegister(addr uint8, reg uint8, data ...byte) error
}

// Delayer is the shared one-shot delay channel
type Delayer interface {
	Arm(owner string, wait time.Duration) error
	PolledWait(wait time.Duration)
}

// Sink receives reduced sensor values for delivery to the peer
type Sink interface {
	Deliver(c gatt.Capability, payload []byte)
}

// Tracer observes state transitions. It is used by tests and the status dump.
type Tracer func(machine, from, to string)

// Machine is implemented by every acquisition state machine
type Machine interface {
	Name() string
	State() string
	Reset()
}

type base struct {
	name   string
	logger *logrus.Logger
	trace  Tracer
}

func newBase(name string, logger *logrus.Logger) base {
	if logger == nil {
		logger = logrus.New()
	}
	return base{name: name, logger: logger}
}

// Name returns the machine name used as delay owner and log field
func (b *base) Name() string { return b.name }

// SetTracer installs a transition observer
func (b *base) SetTracer(t Tracer) { b.trace = t }

func (b *base) transition(from, to string) {
	if from == to {
		return
	}
	b.logger.WithFields(logrus.Fields{
		"machine": b.name,
		"from":    from,
		"to":      to,
	}).Debug("State transition")
	if b.trace != nil {
		b.trace(b.name, from, to)
	}
}
