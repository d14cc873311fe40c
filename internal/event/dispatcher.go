package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stats is a snapshot of dispatcher counters
type Stats struct {
	Posted    uint64
	Coalesced uint64
	Rollovers uint32
}

// Dispatcher is the bridge between interrupt-context producers (timer
// callbacks, GPIO edge handlers, bus completions, the wireless stack) and the
// single cooperative run loop.
//
// Hardware signals are coalesced like bits of an external-signal word: each
// kind has one pending bit, and a signal whose bit is already set is folded
// into the occurrence still waiting in the FIFO. Peer events are never
// coalesced. Nothing is dropped.
type Dispatcher struct {
	pending atomic.Uint32
	wake    chan struct{}

	mu   sync.Mutex
	fifo []Event
	head int

	rollovers atomic.Uint32
	buttonA   atomic.Bool
	buttonB   atomic.Bool

	posted    atomic.Uint64
	coalesced atomic.Uint64
}

// NewDispatcher creates a dispatcher with room for depth events before its
// FIFO has to grow
func NewDispatcher(depth int) *Dispatcher {
	if depth <= 0 {
		panic("event: dispatcher depth must be > 0")
	}
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		fifo: make([]Event, 0, depth+int(Peer)),
	}
}

func signalBit(k Kind) uint32 {
	return 1 << uint(k)
}

// signal posts a hardware signal unless one of the same kind is pending
func (d *Dispatcher) signal(k Kind) {
	bit := signalBit(k)
	if d.pending.Or(bit)&bit != 0 {
		d.coalesced.Add(1)
		return
	}
	d.push(Event{Kind: k})
}

func (d *Dispatcher) push(e Event) {
	d.mu.Lock()
	d.fifo = append(d.fifo, e)
	d.mu.Unlock()
	d.posted.Add(1)

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// OnTimerUnderflow counts one timer period and posts TimerUnderflow
func (d *Dispatcher) OnTimerUnderflow() {
	d.rollovers.Add(1)
	d.signal(TimerUnderflow)
}

// OnTimerCompareMatch posts TimerCompareMatch (an armed delay expired)
func (d *Dispatcher) OnTimerCompareMatch() {
	d.signal(TimerCompareMatch)
}

// OnTransportDone posts TransportDone (a bus transaction finished)
func (d *Dispatcher) OnTransportDone() {
	d.signal(TransportDone)
}

// OnButtonA records the PB0 level and posts ButtonAEdge
func (d *Dispatcher) OnButtonA(pressed bool) {
	d.buttonA.Store(pressed)
	d.signal(ButtonAEdge)
}

// OnButtonB records the PB1 level and posts ButtonBEdge
func (d *Dispatcher) OnButtonB(pressed bool) {
	d.buttonB.Store(pressed)
	d.signal(ButtonBEdge)
}

// OnAuxEdge posts AuxSensorEdge (gesture sensor interrupt line)
func (d *Dispatcher) OnAuxEdge() {
	d.signal(AuxSensorEdge)
}

// PostPeer forwards an opaque wireless stack event. Nil events are ignored.
func (d *Dispatcher) PostPeer(p PeerEvent) {
	if p == nil {
		return
	}
	d.push(Event{Kind: Peer, PeerEvent: p})
}

// Next blocks until an event is available or ctx is done
func (d *Dispatcher) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := d.TryNext(); ok {
			return e, nil
		}
		select {
		case <-d.wake:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// TryNext returns the next event without blocking
func (d *Dispatcher) TryNext() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.head == len(d.fifo) {
		return Event{}, false
	}
	e := d.fifo[d.head]
	d.fifo[d.head] = Event{}
	d.head++
	switch {
	case d.head == len(d.fifo):
		d.fifo = d.fifo[:0]
		d.head = 0
	case d.head >= cap(d.fifo)/2:
		n := copy(d.fifo, d.fifo[d.head:])
		clear(d.fifo[n:])
		d.fifo = d.fifo[:n]
		d.head = 0
	}

	if e.Kind != Peer {
		// signals raised from here on need another pass
		d.pending.And(^signalBit(e.Kind))
	}
	return e, true
}

// Pending returns the number of posted events not consumed yet
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fifo) - d.head
}

// Rollovers returns the number of timer underflows seen so far
func (d *Dispatcher) Rollovers() uint32 {
	return d.rollovers.Load()
}

// ButtonAPressed reports the last PB0 level seen by its edge handler
func (d *Dispatcher) ButtonAPressed() bool {
	return d.buttonA.Load()
}

// ButtonBPressed reports the last PB1 level seen by its edge handler
func (d *Dispatcher) ButtonBPressed() bool {
	return d.buttonB.Load()
}

// Stats returns a snapshot of the dispatcher counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Posted:    d.posted.Load(),
		Coalesced: d.coalesced.Load(),
		Rollovers: d.rollovers.Load(),
	}
}
