// Package sim provides simulated hardware for running a node without a
// board: the three bus devices, the pulse hub pins, a loopback peer and a
// script runner that plays gestures and button presses.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNACK is returned when no device answers, or a device is not ready
	ErrNACK = errors.New("sim: not acknowledged")

	// ErrUnsupported is returned for commands a simulated device does not model
	ErrUnsupported = errors.New("sim: unsupported command")
)

// Device is one simulated bus target
type Device interface {
	Tx(w, r []byte) error
}

// Bus is an in-memory two-wire bus. It satisfies drivers.I2C.
type Bus struct {
	mu      sync.Mutex
	devices map[uint16]Device
	logger  *logrus.Logger
	count   uint64
}

// NewBus creates an empty bus
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{devices: make(map[uint16]Device), logger: logger}
}

// Attach places d at addr, replacing any previous device
func (b *Bus) Attach(addr uint16, d Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[addr] = d
}

// Tx runs one transaction. Transactions are serialized like on the wire.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	d, ok := b.devices[addr]
	if !ok {
		return fmt.Errorf("%w: address 0x%02x", ErrNACK, addr)
	}
	if err := d.Tx(w, r); err != nil {
		b.logger.WithFields(logrus.Fields{
			"addr":  fmt.Sprintf("0x%02x", addr),
			"error": err,
		}).Trace("Simulated transaction failed")
		return err
	}
	return nil
}

// Transactions returns the number of transactions seen
func (b *Bus) Transactions() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
