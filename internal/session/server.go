package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/srg/vitals/internal/queue"
)

// PreferredParameters are requested from the peer on every new connection:
// 75 ms interval, latency 3, 800 ms supervision timeout.
var PreferredParameters = event.ConnectionParameters{
	IntervalUnits: 60,
	Latency:       3,
	TimeoutUnits:  80,
}

// ServerLink is the accepting side of the wireless stack
type ServerLink interface {
	StartAdvertising() error
	DeleteBondings() error
	SetConnectionParameters(p event.ConnectionParameters) error
	ConfirmBonding(accept bool) error
	ConfirmPasskey(accept bool) error
	CloseConnection() error
	// Indicate sends one indication. A nil error means the stack accepted it;
	// its confirmation arrives later as a CharacteristicStatus event.
	Indicate(c gatt.Capability, payload []byte) error
}

// ServerStats counts delivery outcomes
type ServerStats struct {
	Sent            uint64 `json:"sent"`
	Queued          uint64 `json:"queued"`
	Dropped         uint64 `json:"dropped"`
	Discarded       uint64 `json:"discarded"`
	Confirmed       uint64 `json:"confirmed"`
	Timeouts        uint64 `json:"timeouts"`
	TransportErrors uint64 `json:"transport_errors"`
}

// Server is the session state machine of the accepting peer. It owns the
// indication queue and guarantees at most one unconfirmed indication.
type Server struct {
	rec    *Record
	q      *queue.Queue
	link   ServerLink
	store  *gatt.Store
	logger *logrus.Logger
	stats  ServerStats
}

// NewServer creates the server session around a queue of the given capacity
func NewServer(link ServerLink, store *gatt.Store, capacity int, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		rec:    NewRecord(),
		q:      queue.New(capacity),
		link:   link,
		store:  store,
		logger: logger,
	}
}

// Record exposes the session record
func (s *Server) Record() *Record { return s.rec }

// Queue exposes the indication queue
func (s *Server) Queue() *queue.Queue { return s.q }

// Stats returns the delivery counters
func (s *Server) Stats() ServerStats { return s.stats }

// Deliver implements the sensor sink: errors are logged, never returned
func (s *Server) Deliver(c gatt.Capability, payload []byte) {
	err := s.Send(c, payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNotBonded), errors.Is(err, ErrIndicationsDisabled):
		s.logger.WithFields(logrus.Fields{
			"capability": c,
			"reason":     err,
		}).Debug("Value stored, not indicated")
	case errors.Is(err, queue.ErrQueueFull):
		s.logger.WithFields(logrus.Fields{
			"capability": c,
			"dropped":    s.stats.Dropped,
		}).Warn("Indication queue full, sample dropped")
	default:
		s.logger.WithFields(logrus.Fields{
			"capability": c,
			"error":      err,
		}).Warn("Indication failed")
	}
}

// Send delivers one value. Without a connection it does nothing. Otherwise
// the attribute value is updated and, when the peer is bonded and has
// indications on for c, the value is indicated now or queued behind the one
// in flight.
func (s *Server) Send(c gatt.Capability, payload []byte) error {
	if !s.rec.Connected {
		return ErrNotConnected
	}

	entry, err := queue.NewEntry(c, payload)
	if err != nil {
		return err
	}
	s.store.Write(c, payload)

	if !s.rec.Bonded {
		return ErrNotBonded
	}
	if !s.rec.Enabled(c) {
		return ErrIndicationsDisabled
	}

	if s.rec.InFlight {
		if err := s.q.Enqueue(entry); err != nil {
			s.stats.Dropped++
			return err
		}
		s.stats.Queued++
		return nil
	}

	if err := s.link.Indicate(c, entry.Bytes()); err != nil {
		s.stats.TransportErrors++
		return fmt.Errorf("indicate %s: %w", c, err)
	}
	s.rec.InFlight = true
	s.stats.Sent++
	return nil
}

// OnConfirmationReceived clears the in-flight flag and sends the next queued
// indication, if any
func (s *Server) OnConfirmationReceived(c gatt.Capability) {
	s.rec.InFlight = false
	s.stats.Confirmed++
	s.sendNext()
}

func (s *Server) sendNext() {
	for !s.q.IsEmpty() {
		sent := false
		err := s.q.DequeueAndSend(func(e queue.Entry) error {
			if !s.rec.Enabled(e.Capability) {
				return nil
			}
			if err := s.link.Indicate(e.Capability, e.Bytes()); err != nil {
				return err
			}
			sent = true
			return nil
		})

		if errors.Is(err, queue.ErrQueueEmpty) {
			s.logger.Error("Indication queue empty on dequeue")
			return
		}
		if err != nil {
			s.stats.TransportErrors++
			s.logger.WithField("error", err).Warn("Queued indication refused")
			return
		}
		if sent {
			s.rec.InFlight = true
			s.stats.Sent++
			return
		}
		s.stats.Discarded++
	}
}

// OnDeliveryTimeout disables indications for c until the peer enables them
// again. The timed-out indication is not retried; the queue is drained at
// once so waiting entries keep their order ahead of later sends.
func (s *Server) OnDeliveryTimeout(c gatt.Capability) {
	s.rec.SetEnabled(c, false)
	s.rec.InFlight = false
	s.stats.Timeouts++
	s.logger.WithField("capability", c).Warn("Indication not confirmed, capability disabled")
	s.sendNext()
}

// OnDisconnect resets the record and empties the queue
func (s *Server) OnDisconnect() {
	pending := s.q.Len()
	s.rec.Reset()
	s.q.Reset()
	s.logger.WithField("discarded", pending).Info("Session closed")
}

// OnButtonA confirms a pending passkey on press, then delivers the button state
func (s *Server) OnButtonA(pressed bool) {
	if pressed && s.rec.PasskeyPending && !s.rec.Bonded {
		if err := s.link.ConfirmPasskey(true); err != nil {
			s.logger.WithField("error", err).Warn("Passkey confirmation failed")
		} else {
			s.rec.PasskeyPending = false
			s.logger.Info("Passkey confirmed")
		}
	}
	s.Deliver(gatt.Button, gatt.ButtonPayload(pressed))
}

// HandlePeer applies one wireless stack event
func (s *Server) HandlePeer(p event.PeerEvent) {
	switch ev := p.(type) {
	case event.Boot:
		s.rec.LocalAddress = ev.Address
		s.restartAdvertising()

	case event.ConnectionOpened:
		s.rec.Open(ev.Address, ev.Handle)
		s.logger.WithFields(logrus.Fields{
			"peer":    ev.Address,
			"session": s.rec.ID,
		}).Info("Connection opened")
		if err := s.link.SetConnectionParameters(PreferredParameters); err != nil {
			s.logger.WithField("error", err).Debug("Connection parameters not applied")
		}

	case event.ConnectionParameters:
		s.rec.Params = ev
		s.logger.WithFields(logrus.Fields{
			"interval_ms": float64(ev.IntervalUnits) * 1.25,
			"latency":     ev.Latency,
			"timeout_ms":  int(ev.TimeoutUnits) * 10,
		}).Debug("Connection parameters")

	case event.ConnectionClosed:
		s.logger.WithField("reason", ev.Reason).Info("Connection closed")
		s.OnDisconnect()
		s.restartAdvertising()

	case event.BondingConfirmRequest:
		if err := s.link.ConfirmBonding(true); err != nil {
			s.logger.WithField("error", err).Warn("Bonding confirmation failed")
		}

	case event.PasskeyConfirmRequest:
		s.rec.Passkey = ev.Passkey
		s.rec.PasskeyPending = true
		s.logger.WithField("passkey", fmt.Sprintf("%06d", ev.Passkey)).Info("Confirm passkey with button A")

	case event.Bonded:
		s.rec.Bonded = true
		s.rec.PasskeyPending = false
		s.logger.Info("Bonded")

	case event.BondingFailed:
		s.logger.WithField("reason", ev.Reason).Warn("Bonding failed, closing connection")
		if err := s.link.CloseConnection(); err != nil {
			s.logger.WithField("error", err).Warn("Close connection failed")
		}

	case event.CharacteristicStatus:
		if ev.Confirmation {
			s.OnConfirmationReceived(ev.Capability)
			return
		}
		on := ev.ClientConfig == event.ConfigIndication
		s.rec.SetEnabled(ev.Capability, on)
		s.logger.WithFields(logrus.Fields{
			"capability": ev.Capability,
			"enabled":    on,
		}).Info("Indications configured")

	case event.IndicationTimeout:
		s.OnDeliveryTimeout(ev.Capability)
	}
}

func (s *Server) restartAdvertising() {
	if err := s.link.DeleteBondings(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to delete bondings")
	}
	if err := s.link.StartAdvertising(); err != nil {
		s.logger.WithField("error", err).Error("Failed to start advertising")
		return
	}
	s.logger.Info("Advertising")
}
