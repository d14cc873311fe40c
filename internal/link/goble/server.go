package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/groutine"
)

// ValueSource answers characteristic reads
type ValueSource interface {
	Read(c gatt.Capability) []byte
}

// ServerOptions configures the accepting adapter
type ServerOptions struct {
	Name         string
	LocalAddress string
	Logger       *logrus.Logger
}

// Server publishes the four capability services on a go-ble device and
// implements session.ServerLink.
//
// go-ble has no connection callback on the peripheral side, so a connection
// is reported when its first request arrives. The host stack also has no
// security manager: bonding confirmations are answered locally.
type Server struct {
	dev    ble.Device
	sink   Sink
	values ValueSource
	opts   ServerOptions
	logger *logrus.Logger

	// characteristic UUID -> notifier of the subscribed peer
	notifiers *hashmap.Map[string, ble.Notifier]

	mu          sync.Mutex
	ctx         context.Context
	stopAdv     context.CancelFunc
	advertising bool
	conn        ble.Conn
	handle      uint8
}

// NewServer creates the adapter. values serves reads of readable capabilities.
func NewServer(dev ble.Device, sink Sink, values ValueSource, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Name == "" {
		opts.Name = "vitals"
	}
	return &Server{
		dev:       dev,
		sink:      sink,
		values:    values,
		opts:      opts,
		logger:    opts.Logger,
		notifiers: hashmap.New[string, ble.Notifier](),
		ctx:       context.Background(),
	}
}

// Start registers the services and posts Boot
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for _, c := range gatt.Capabilities() {
		spec, _ := gatt.Lookup(c)
		svc := ble.NewService(spec.Service)
		ch := svc.NewCharacteristic(spec.Characteristic)
		if spec.Readable {
			ch.HandleRead(s.readHandler(c))
		}
		ch.HandleIndicate(s.indicateHandler(c))

		if err := s.dev.AddService(svc); err != nil {
			return NormalizeError(err)
		}
		s.logger.WithFields(logrus.Fields{
			"capability":     c,
			"service":        spec.Service.String(),
			"characteristic": spec.Characteristic.String(),
		}).Debug("Service registered")
	}

	s.sink.PostPeer(event.Boot{Address: localAddress(s.dev, s.opts.LocalAddress)})
	return nil
}

func (s *Server) readHandler(c gatt.Capability) ble.ReadHandler {
	return ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		s.attach(req.Conn())
		if _, err := rsp.Write(s.values.Read(c)); err != nil {
			s.logger.WithFields(logrus.Fields{"capability": c, "error": err}).Warn("Read response failed")
		}
	})
}

// indicateHandler runs for as long as the peer keeps indications enabled
func (s *Server) indicateHandler(c gatt.Capability) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		conn := req.Conn()
		s.attach(conn)

		key := c.String()
		s.notifiers.Set(key, n)
		s.sink.PostPeer(event.CharacteristicStatus{Capability: c, ClientConfig: event.ConfigIndication})

		<-n.Context().Done()

		s.notifiers.Del(key)
		if s.isCurrent(conn) {
			s.sink.PostPeer(event.CharacteristicStatus{Capability: c, ClientConfig: event.ConfigDisabled})
		}
	})
}

func (s *Server) isCurrent(conn ble.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn == conn
}

// attach reports a connection the first time one of its requests is seen
func (s *Server) attach(conn ble.Conn) {
	if conn == nil {
		return
	}

	s.mu.Lock()
	if s.conn == conn {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.handle++
	handle := s.handle
	ctx := s.ctx
	if s.stopAdv != nil {
		s.stopAdv()
		s.stopAdv = nil
	}
	s.mu.Unlock()

	peer := conn.RemoteAddr().String()
	s.logger.WithFields(logrus.Fields{"peer": peer, "handle": handle}).Debug("Connection seen")
	s.sink.PostPeer(event.ConnectionOpened{Address: peer, Handle: handle})
	s.sink.PostPeer(event.BondingConfirmRequest{})

	groutine.Go(ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-conn.Disconnected():
			s.detach(conn)
		case <-ctx.Done():
		}
	})
}

func (s *Server) detach(conn ble.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	s.notifiers.Range(func(key string, _ ble.Notifier) bool {
		s.notifiers.Del(key)
		return true
	})
	s.sink.PostPeer(event.ConnectionClosed{Reason: ReasonRemoteUserTerminated})
}

func (s *Server) StartAdvertising() error {
	s.mu.Lock()
	if s.advertising || s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopAdv = cancel
	s.advertising = true
	s.mu.Unlock()

	uuids := make([]ble.UUID, 0, len(gatt.Capabilities()))
	for _, c := range gatt.Capabilities() {
		spec, _ := gatt.Lookup(c)
		uuids = append(uuids, spec.Service)
	}

	s.logger.WithField("name", s.opts.Name).Info("Advertising")
	groutine.Go(ctx, "ble-advertise", func(ctx context.Context) {
		err := s.dev.AdvertiseNameAndServices(ctx, s.opts.Name, uuids...)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithField("error", NormalizeError(err)).Warn("Advertising stopped")
		}
		s.mu.Lock()
		s.advertising = false
		s.mu.Unlock()
	})
	return nil
}

// Advertising reports whether an advertising run is active
func (s *Server) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// DeleteBondings is a no-op: the host stack keeps no bonds
func (s *Server) DeleteBondings() error { return nil }

// SetConnectionParameters is not exposed by go-ble on the peripheral side;
// the request is logged and the central keeps its own timings.
func (s *Server) SetConnectionParameters(p event.ConnectionParameters) error {
	s.logger.WithFields(logrus.Fields{
		"interval": p.IntervalUnits,
		"latency":  p.Latency,
		"timeout":  p.TimeoutUnits,
	}).Debug("Connection parameters left to the central")
	return nil
}

func (s *Server) ConfirmBonding(accept bool) error {
	if !accept {
		s.sink.PostPeer(event.BondingFailed{Reason: ReasonAuthFailure})
		return s.CloseConnection()
	}
	s.sink.PostPeer(event.Bonded{})
	return nil
}

func (s *Server) ConfirmPasskey(accept bool) error {
	return s.ConfirmBonding(accept)
}

func (s *Server) CloseConnection() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Close()
}

// Indicate writes payload to the subscribed peer. The write blocks until the
// peer confirms, so it runs in its own goroutine and reports the outcome as
// a peer event.
func (s *Server) Indicate(c gatt.Capability, payload []byte) error {
	n, ok := s.notifiers.Get(c.String())
	if !ok {
		return ErrNotSubscribed
	}

	buf := append([]byte(nil), payload...)
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	groutine.Go(ctx, "ble-indicate", func(ctx context.Context) {
		if _, err := n.Write(buf); err != nil {
			s.logger.WithFields(logrus.Fields{"capability": c, "error": err}).Debug("Indication not confirmed")
			s.sink.PostPeer(event.IndicationTimeout{Capability: c})
			return
		}
		s.sink.PostPeer(event.CharacteristicStatus{Capability: c, Confirmation: true})
	})
	return nil
}

// Subscribed returns the number of capabilities with a live subscription
func (s *Server) Subscribed() int {
	return s.notifiers.Len()
}

// Stop ends advertising and releases the device
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopAdv != nil {
		s.stopAdv()
		s.stopAdv = nil
	}
	s.mu.Unlock()
	return s.dev.Stop()
}
