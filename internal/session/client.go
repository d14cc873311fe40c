package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
)

// ResultInsufficientEncryption is the ATT error reported when a procedure
// needs an encrypted link
const ResultInsufficientEncryption = 0x110F

// ClientLink is the initiating side of the wireless stack
type ClientLink interface {
	StartScan() error
	Connect(address string) error
	DiscoverService(c gatt.Capability) error
	DiscoverCharacteristic(c gatt.Capability) error
	EnableIndications(c gatt.Capability) error
	ConfirmIndication() error
	IncreaseSecurity() error
	ConfirmBonding(accept bool) error
	ConfirmPasskey(accept bool) error
	ReadCharacteristic(c gatt.Capability) error
}

// DiscoveryState is the phase of the client discovery sequence
type DiscoveryState int

const (
	ClientIdle DiscoveryState = iota
	DiscoverService
	DiscoverCharacteristic
	EnableIndications
	AllCapabilitiesReady
	WaitForClose
)

func (s DiscoveryState) String() string {
	switch s {
	case ClientIdle:
		return "Idle"
	case DiscoverService:
		return "DiscoverService"
	case DiscoverCharacteristic:
		return "DiscoverCharacteristic"
	case EnableIndications:
		return "EnableIndications"
	case AllCapabilitiesReady:
		return "AllCapabilitiesReady"
	case WaitForClose:
		return "WaitForClose"
	default:
		return fmt.Sprintf("DiscoveryState(%d)", int(s))
	}
}

// View holds the latest values received from the server
type View struct {
	Temperature    float64          `json:"temperature"`
	HasTemperature bool             `json:"has_temperature"`
	Gesture        gatt.GestureCode `json:"gesture"`
	HeartRate      uint8            `json:"heart_rate"`
	SpO2           uint8            `json:"spo2"`
	ButtonPressed  bool             `json:"button_pressed"`
	Indications    uint64           `json:"indications"`
}

// Client is the session state machine of the initiating peer: scan for the
// configured server, connect, then discover and subscribe to every capability
// in table order.
type Client struct {
	rec    *Record
	link   ClientLink
	server string
	logger *logrus.Logger

	state      DiscoveryState
	current    gatt.Capability
	needsRetry bool

	mu   sync.RWMutex
	view View
}

// NewClient creates a client session looking for serverAddress
func NewClient(link ClientLink, serverAddress string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		rec:    NewRecord(),
		link:   link,
		server: serverAddress,
		logger: logger,
	}
}

// Record exposes the session record
func (c *Client) Record() *Record { return c.rec }

// State returns the discovery phase
func (c *Client) State() DiscoveryState { return c.state }

// Current returns the capability the discovery sequence is working on
func (c *Client) Current() gatt.Capability { return c.current }

// View returns a copy of the received values
func (c *Client) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

func (c *Client) moveTo(s DiscoveryState) {
	if s == c.state {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from":       c.state,
		"to":         s,
		"capability": c.current,
	}).Debug("Discovery transition")
	c.state = s
}

// OnDisconnect resets the record and the discovery sequence
func (c *Client) OnDisconnect() {
	c.rec.Reset()
	c.needsRetry = false
	c.current = gatt.Temperature
	c.moveTo(ClientIdle)
}

// OnButtonA confirms a pending passkey, or with button B held reads the
// server's button characteristic
func (c *Client) OnButtonA(pressed, buttonBHeld bool) {
	if !pressed {
		return
	}
	if c.rec.PasskeyPending && !c.rec.Bonded {
		if err := c.link.ConfirmPasskey(true); err != nil {
			c.logger.WithField("error", err).Warn("Passkey confirmation failed")
			return
		}
		c.rec.PasskeyPending = false
		c.logger.Info("Passkey confirmed")
		return
	}
	if buttonBHeld && c.rec.Connected {
		if err := c.link.ReadCharacteristic(gatt.Button); err != nil {
			c.logger.WithField("error", err).Warn("Button read failed")
		}
	}
}

// HandlePeer applies one wireless stack event
func (c *Client) HandlePeer(p event.PeerEvent) {
	if c.state == AllCapabilitiesReady {
		c.moveTo(WaitForClose)
	}

	switch ev := p.(type) {
	case event.Boot:
		c.rec.LocalAddress = ev.Address
		c.startScan()

	case event.ScanReport:
		if c.rec.Connected || !strings.EqualFold(ev.Address, c.server) {
			return
		}
		c.logger.WithFields(logrus.Fields{"address": ev.Address, "name": ev.Name}).Info("Server found, connecting")
		if err := c.link.Connect(ev.Address); err != nil {
			c.logger.WithField("error", err).Warn("Connect failed")
		}

	case event.ConnectionOpened:
		c.rec.Open(ev.Address, ev.Handle)
		c.logger.WithFields(logrus.Fields{"peer": ev.Address, "session": c.rec.ID}).Info("Connection opened")
		if c.state == ClientIdle {
			c.begin(gatt.Capabilities()[0], DiscoverService)
		}

	case event.ConnectionClosed:
		c.logger.WithField("reason", ev.Reason).Info("Connection closed")
		c.OnDisconnect()
		c.startScan()

	case event.ServiceFound:
		if c.state == DiscoverService && ev.Capability == c.current {
			c.rec.setService(ev.Capability, ev.Handle)
		}

	case event.CharacteristicFound:
		if c.state == DiscoverCharacteristic && ev.Capability == c.current {
			c.rec.setCharacteristic(ev.Capability, ev.Handle)
		}

	case event.ProcedureCompleted:
		c.onProcedureCompleted(ev.Result)

	case event.BondingConfirmRequest:
		if err := c.link.ConfirmBonding(true); err != nil {
			c.logger.WithField("error", err).Warn("Bonding confirmation failed")
		}

	case event.PasskeyConfirmRequest:
		c.rec.Passkey = ev.Passkey
		c.rec.PasskeyPending = true
		c.logger.WithField("passkey", fmt.Sprintf("%06d", ev.Passkey)).Info("Confirm passkey with button A")

	case event.Bonded:
		c.rec.Bonded = true
		c.rec.PasskeyPending = false
		c.logger.Info("Bonded")
		if c.needsRetry {
			c.needsRetry = false
			c.begin(c.current, c.state)
		}

	case event.BondingFailed:
		c.logger.WithField("reason", ev.Reason).Warn("Bonding failed")

	case event.CharacteristicValue:
		c.onValue(ev)
	}
}

func (c *Client) startScan() {
	if err := c.link.StartScan(); err != nil {
		c.logger.WithField("error", err).Error("Failed to start scanning")
		return
	}
	c.logger.WithField("server", c.server).Info("Scanning")
}

// begin issues the procedure of phase s for capability cp
func (c *Client) begin(cp gatt.Capability, s DiscoveryState) {
	c.current = cp

	var err error
	switch s {
	case DiscoverService:
		err = c.link.DiscoverService(cp)
	case DiscoverCharacteristic:
		err = c.link.DiscoverCharacteristic(cp)
	case EnableIndications:
		err = c.link.EnableIndications(cp)
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"capability": cp,
			"phase":      s,
			"error":      err,
		}).Warn("Discovery procedure failed")
		c.moveTo(WaitForClose)
		return
	}
	c.moveTo(s)
}

func (c *Client) onProcedureCompleted(result uint16) {
	switch c.state {
	case DiscoverService, DiscoverCharacteristic, EnableIndications:
	default:
		return
	}

	if result == ResultInsufficientEncryption {
		c.logger.WithField("capability", c.current).Info("Encryption required, increasing security")
		if err := c.link.IncreaseSecurity(); err != nil {
			c.logger.WithField("error", err).Warn("Increase security failed")
			return
		}
		c.needsRetry = true
		return
	}
	if result != 0 {
		c.logger.WithFields(logrus.Fields{
			"capability": c.current,
			"phase":      c.state,
			"result":     fmt.Sprintf("0x%04x", result),
		}).Warn("Discovery procedure failed")
		c.moveTo(WaitForClose)
		return
	}

	switch c.state {
	case DiscoverService:
		c.begin(c.current, DiscoverCharacteristic)
	case DiscoverCharacteristic:
		c.begin(c.current, EnableIndications)
	case EnableIndications:
		c.rec.SetEnabled(c.current, true)
		if next, ok := gatt.Next(c.current); ok {
			c.begin(next, DiscoverService)
			return
		}
		c.logger.Info("All capabilities subscribed")
		c.moveTo(AllCapabilitiesReady)
	}
}

func (c *Client) onValue(ev event.CharacteristicValue) {
	if ev.Indication {
		if err := c.link.ConfirmIndication(); err != nil {
			c.logger.WithField("error", err).Warn("Indication confirmation failed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Indication {
		c.view.Indications++
	}
	fields := logrus.Fields{"capability": ev.Capability}

	switch ev.Capability {
	case gatt.Temperature:
		t, err := gatt.DecodeTemperature(ev.Value)
		if err != nil {
			c.logger.WithField("error", err).Warn("Malformed temperature")
			return
		}
		c.view.Temperature, c.view.HasTemperature = t, true
		fields["celsius"] = t
	case gatt.Gesture:
		if len(ev.Value) < 1 {
			return
		}
		c.view.Gesture = gatt.GestureCode(ev.Value[0])
		fields["gesture"] = c.view.Gesture
	case gatt.Pulse:
		if len(ev.Value) < 1 {
			return
		}
		switch c.view.Gesture {
		case gatt.GestureLeft:
			c.view.SpO2 = ev.Value[0]
			fields["spo2"] = ev.Value[0]
		case gatt.GestureRight:
			c.view.HeartRate = ev.Value[0]
			fields["heart_rate"] = ev.Value[0]
		default:
			fields["value"] = ev.Value[0]
		}
	case gatt.Button:
		if len(ev.Value) < 1 {
			return
		}
		c.view.ButtonPressed = ev.Value[0] != 0
		fields["pressed"] = c.view.ButtonPressed
	}
	c.logger.WithFields(fields).Info("Value received")
}
