package sensor

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/gatt"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type txRecord struct {
	addr uint16
	w    []byte
	n    int
}

// fakeBus records every transaction. Asynchronous results are set by the
// test; polled reads are answered from readbacks, then from fallback.
type fakeBus struct {
	asyncWrites [][]byte
	asyncReads  int
	result      []byte
	resultErr   error
	startErr    error

	tx        []txRecord
	readbacks [][]byte
	fallback  []byte
	respond   func(lastCmd []byte) []byte
	txErr     error
	lastCmd   []byte

	regs map[uint8]byte
}

func (b *fakeBus) Write(addr uint16, w []byte) error {
	if b.startErr != nil {
		return b.startErr
	}
	b.asyncWrites = append(b.asyncWrites, append([]byte(nil), w...))
	return nil
}

func (b *fakeBus) Read(addr uint16, n int) error {
	if b.startErr != nil {
		return b.startErr
	}
	b.asyncReads++
	return nil
}

func (b *fakeBus) Result() ([]byte, error) { return b.result, b.resultErr }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.tx = append(b.tx, txRecord{addr: addr, w: append([]byte(nil), w...), n: len(r)})
	if b.txErr != nil {
		return b.txErr
	}
	if len(w) > 0 {
		b.lastCmd = append([]byte(nil), w...)
	}
	if len(r) > 0 {
		src := b.fallback
		if b.respond != nil {
			src = b.respond(b.lastCmd)
		} else if len(b.readbacks) > 0 {
			src = b.readbacks[0]
			b.readbacks = b.readbacks[1:]
		}
		copy(r, src)
	}
	return nil
}

func (b *fakeBus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	if b.txErr != nil {
		return b.txErr
	}
	for i := range buf {
		buf[i] = b.regs[reg]
	}
	return nil
}

func (b *fakeBus) WriteRegister(addr uint8, reg uint8, data ...byte) error {
	if b.txErr != nil {
		return b.txErr
	}
	if b.regs == nil {
		b.regs = map[uint8]byte{}
	}
	if len(data) > 0 {
		b.regs[reg] = data[len(data)-1]
	}
	return nil
}

// commands returns the polled writes in order
func (b *fakeBus) commands() [][]byte {
	var out [][]byte
	for _, t := range b.tx {
		if len(t.w) > 0 {
			out = append(out, t.w)
		}
	}
	return out
}

type armRecord struct {
	owner string
	wait  time.Duration
}

type fakeDelay struct {
	arms   []armRecord
	polled []time.Duration
	err    error
}

func (d *fakeDelay) Arm(owner string, wait time.Duration) error {
	if d.err != nil {
		return d.err
	}
	d.arms = append(d.arms, armRecord{owner: owner, wait: wait})
	return nil
}

func (d *fakeDelay) PolledWait(wait time.Duration) { d.polled = append(d.polled, wait) }

func (d *fakeDelay) waits() []time.Duration {
	out := make([]time.Duration, 0, len(d.arms))
	for _, a := range d.arms {
		out = append(out, a.wait)
	}
	return out
}

type delivery struct {
	cap     gatt.Capability
	payload []byte
}

type recordingSink struct {
	got []delivery
}

func (s *recordingSink) Deliver(c gatt.Capability, payload []byte) {
	s.got = append(s.got, delivery{cap: c, payload: append([]byte(nil), payload...)})
}

type fakePins struct {
	log []string
	err error
}

func (p *fakePins) SetReset(high bool) error {
	p.log = append(p.log, fmt.Sprintf("reset=%v", high))
	return p.err
}

func (p *fakePins) SetMFIO(high bool) error {
	p.log = append(p.log, fmt.Sprintf("mfio=%v", high))
	return p.err
}

type fakeControl struct {
	pulseOn bool
	gesture gatt.GestureCode
	rearms  int
}

func (c *fakeControl) PulseOn() bool { return c.pulseOn }

func (c *fakeControl) SetPulseOn(on bool) { c.pulseOn = on }

func (c *fakeControl) Gesture() gatt.GestureCode { return c.gesture }

func (c *fakeControl) RearmGesture() {
	c.gesture = gatt.GestureNone
	c.rearms++
}

type traceLog []string

func (t *traceLog) tracer() Tracer {
	return func(machine, from, to string) {
		*t = append(*t, from+"->"+to)
	}
}

var errNack = errors.New("nack")
