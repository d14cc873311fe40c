package bus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/groutine"
	"tinygo.org/x/drivers"
)

// DoneSink receives the transfer-complete interrupt
type DoneSink interface {
	OnTransportDone()
}

// Stats counts transactions issued through a Sequencer
type Stats struct {
	Transactions uint64
	Failures     uint64
}

// Sequencer serializes transactions on the one shared two-wire bus.
//
// Asynchronous transactions (Write, Read, WriteRead) run on a worker
// goroutine and always end with exactly one TransportDone, successful or not;
// the state machine that started them collects the outcome with Result.
// Polled transactions (Tx and the register helpers) block the caller and raise
// no signal. A polled transaction issued while an asynchronous one owns the
// bus waits for it to finish first.
type Sequencer struct {
	i2c    drivers.I2C
	sink   DoneSink
	logger *logrus.Logger

	mu     sync.Mutex
	idle   *sync.Cond
	busy   bool
	result []byte
	err    error
	stats  Stats
}

// NewSequencer creates a sequencer over any tinygo-compatible I2C backend
func NewSequencer(i2c drivers.I2C, sink DoneSink, logger *logrus.Logger) *Sequencer {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Sequencer{i2c: i2c, sink: sink, logger: logger}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Write starts an asynchronous write of w to addr
func (s *Sequencer) Write(addr uint16, w []byte) error {
	return s.start("write", addr, w, 0)
}

// Read starts an asynchronous read of n bytes from addr
func (s *Sequencer) Read(addr uint16, n int) error {
	return s.start("read", addr, nil, n)
}

// WriteRead starts an asynchronous write of w followed by a read of n bytes
func (s *Sequencer) WriteRead(addr uint16, w []byte, n int) error {
	return s.start("write_read", addr, w, n)
}

func (s *Sequencer) start(op string, addr uint16, w []byte, n int) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.result = nil
	s.err = nil
	s.mu.Unlock()

	out := append([]byte(nil), w...)

	groutine.Go(context.Background(), "bus-"+op, func(ctx context.Context) {
		var in []byte
		if n > 0 {
			in = make([]byte, n)
		}
		err := s.i2c.Tx(addr, out, in)

		s.mu.Lock()
		s.busy = false
		s.stats.Transactions++
		if err != nil {
			s.stats.Failures++
			s.err = &TransportError{Addr: addr, Op: op, Err: err}
			s.result = nil
		} else {
			s.result = in
		}
		s.idle.Broadcast()
		s.mu.Unlock()

		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"addr":  addr,
				"op":    op,
				"error": err,
			}).Warn("I2C transfer failed")
		}

		s.sink.OnTransportDone()
	})
	return nil
}

// Result returns the bytes read by the last completed asynchronous
// transaction, or its error
func (s *Sequencer) Result() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// Busy reports whether a transaction currently owns the bus
func (s *Sequencer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Tx performs a polled transaction and returns when it is complete
func (s *Sequencer) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	for s.busy {
		s.idle.Wait()
	}
	s.busy = true
	s.mu.Unlock()

	err := s.i2c.Tx(addr, w, r)

	s.mu.Lock()
	s.busy = false
	s.stats.Transactions++
	if err != nil {
		s.stats.Failures++
	}
	s.idle.Broadcast()
	s.mu.Unlock()

	if err != nil {
		op := "write_read"
		switch {
		case len(r) == 0:
			op = "write"
		case len(w) == 0:
			op = "read"
		}
		return &TransportError{Addr: addr, Op: op, Err: err}
	}
	return nil
}

// ReadRegister reads len(buf) bytes starting at register reg
func (s *Sequencer) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return s.Tx(uint16(addr), []byte{reg}, buf)
}

// WriteRegister writes data starting at register reg
func (s *Sequencer) WriteRegister(addr uint8, reg uint8, data ...byte) error {
	w := make([]byte, 0, 1+len(data))
	w = append(w, reg)
	w = append(w, data...)
	return s.Tx(uint16(addr), w, nil)
}

// Stats returns a snapshot of the transaction counters
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
