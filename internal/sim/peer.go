package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/groutine"
)

// ErrNoPeer is returned when the loopback is asked to indicate without a connection
var ErrNoPeer = errors.New("sim: no peer connected")

// PeerSink receives the events of the simulated wireless stack
type PeerSink interface {
	PostPeer(p event.PeerEvent)
}

// IndicationFunc observes every indication the loopback receives
type IndicationFunc func(c gatt.Capability, payload []byte)

// LoopbackOptions tunes the simulated peer
type LoopbackOptions struct {
	LocalAddress string
	PeerAddress  string
	// Latency delays every answer. Zero answers synchronously, which keeps
	// tests deterministic.
	Latency time.Duration
	// Passkey, when non-zero, is shown for confirmation instead of a plain
	// bonding request
	Passkey uint32
	// DropConfirmations makes the peer ignore indications, so the server
	// sees delivery timeouts
	DropConfirmations bool
	OnIndication      IndicationFunc
	Logger            *logrus.Logger
}

// Loopback is a server-side wireless link with a scripted peer behind it.
// The peer connects as soon as advertising starts, bonds, subscribes to
// every capability and confirms each indication.
type Loopback struct {
	opts LoopbackOptions
	sink PeerSink

	mu          sync.Mutex
	ctx         context.Context
	advertising bool
	connected   bool
	indications []Indication
}

// Indication is one value received by the simulated peer
type Indication struct {
	Capability gatt.Capability
	Payload    []byte
}

// NewLoopback creates a loopback link posting into sink
func NewLoopback(sink PeerSink, opts LoopbackOptions) *Loopback {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.LocalAddress == "" {
		opts.LocalAddress = "00:0B:57:00:00:01"
	}
	if opts.PeerAddress == "" {
		opts.PeerAddress = "00:0B:57:00:00:02"
	}
	return &Loopback{opts: opts, sink: sink, ctx: context.Background()}
}

// Start boots the simulated stack
func (l *Loopback) Start(ctx context.Context) {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	l.post(event.Boot{Address: l.opts.LocalAddress})
}

func (l *Loopback) post(events ...event.PeerEvent) {
	if l.opts.Latency <= 0 {
		for _, p := range events {
			l.sink.PostPeer(p)
		}
		return
	}

	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()

	groutine.Go(ctx, "loopback-peer", func(ctx context.Context) {
		t := time.NewTimer(l.opts.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, p := range events {
			l.sink.PostPeer(p)
		}
	})
}

func (l *Loopback) StartAdvertising() error {
	l.mu.Lock()
	already := l.connected
	l.advertising = true
	l.mu.Unlock()

	if already {
		return nil
	}
	l.Connect()
	return nil
}

// Connect makes the peer open a connection
func (l *Loopback) Connect() {
	l.mu.Lock()
	l.advertising = false
	l.connected = true
	l.mu.Unlock()

	var security event.PeerEvent = event.BondingConfirmRequest{}
	if l.opts.Passkey != 0 {
		security = event.PasskeyConfirmRequest{Passkey: l.opts.Passkey}
	}
	l.post(event.ConnectionOpened{Address: l.opts.PeerAddress, Handle: 1}, security)
}

// Disconnect makes the peer drop the connection
func (l *Loopback) Disconnect() {
	l.mu.Lock()
	was := l.connected
	l.connected = false
	l.mu.Unlock()

	if was {
		l.post(event.ConnectionClosed{Reason: 0x0213})
	}
}

func (l *Loopback) DeleteBondings() error { return nil }

func (l *Loopback) SetConnectionParameters(p event.ConnectionParameters) error {
	l.post(p)
	return nil
}

func (l *Loopback) ConfirmBonding(accept bool) error {
	if !accept {
		l.post(event.BondingFailed{Reason: 0x0305})
		return nil
	}
	l.subscribe()
	return nil
}

func (l *Loopback) ConfirmPasskey(accept bool) error {
	return l.ConfirmBonding(accept)
}

// subscribe reports the bond and enables indications on every capability
func (l *Loopback) subscribe() {
	events := []event.PeerEvent{event.Bonded{}}
	for _, c := range gatt.Capabilities() {
		events = append(events, event.CharacteristicStatus{Capability: c, ClientConfig: event.ConfigIndication})
	}
	l.post(events...)
}

func (l *Loopback) CloseConnection() error {
	l.Disconnect()
	return nil
}

func (l *Loopback) Indicate(c gatt.Capability, payload []byte) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return ErrNoPeer
	}
	l.indications = append(l.indications, Indication{Capability: c, Payload: append([]byte(nil), payload...)})
	l.mu.Unlock()

	if l.opts.OnIndication != nil {
		l.opts.OnIndication(c, payload)
	}
	if l.opts.DropConfirmations {
		l.post(event.IndicationTimeout{Capability: c})
		return nil
	}
	l.post(event.CharacteristicStatus{Capability: c, Confirmation: true})
	return nil
}

// Indications returns a copy of everything received so far
func (l *Loopback) Indications() []Indication {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Indication, len(l.indications))
	copy(out, l.indications)
	return out
}

// Connected reports whether the peer holds a connection
func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}
