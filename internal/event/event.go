package event

import (
	"fmt"

	"github.com/srg/vitals/internal/gatt"
)

// Kind tags a signal event. The set is closed.
type Kind uint8

const (
	TimerUnderflow Kind = iota + 1
	TimerCompareMatch
	TransportDone
	ButtonAEdge
	ButtonBEdge
	AuxSensorEdge
	Peer
)

func (k Kind) String() string {
	switch k {
	case TimerUnderflow:
		return "timer_underflow"
	case TimerCompareMatch:
		return "timer_compare_match"
	case TransportDone:
		return "transport_done"
	case ButtonAEdge:
		return "button_a_edge"
	case ButtonBEdge:
		return "button_b_edge"
	case AuxSensorEdge:
		return "aux_sensor_edge"
	case Peer:
		return "peer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one signal moved from interrupt context into the run loop.
// PeerEvent is set only when Kind is Peer.
type Event struct {
	Kind      Kind
	PeerEvent PeerEvent
}

func (e Event) String() string {
	if e.Kind == Peer && e.PeerEvent != nil {
		return fmt.Sprintf("peer:%s", e.PeerEvent.peerEventName())
	}
	return e.Kind.String()
}

// Is reports whether e carries the given hardware signal
func (e Event) Is(k Kind) bool {
	return e.Kind == k
}

// PeerEvent is an opaque record emitted by the wireless stack.
// The set of implementations is closed to this package.
type PeerEvent interface {
	peerEventName() string
}

// Boot is emitted once when the wireless stack is ready
type Boot struct {
	Address string
}

// ConnectionOpened reports a new link to Address
type ConnectionOpened struct {
	Address string
	Handle  uint8
}

// ConnectionClosed reports the end of the current link
type ConnectionClosed struct {
	Reason uint16
}

// ConnectionParameters reports negotiated link timings
type ConnectionParameters struct {
	IntervalUnits uint16 // 1.25 ms units
	Latency       uint16
	TimeoutUnits  uint16 // 10 ms units
}

// BondingConfirmRequest asks the application to accept a bonding
type BondingConfirmRequest struct{}

// PasskeyConfirmRequest asks the user to confirm the displayed passkey
type PasskeyConfirmRequest struct {
	Passkey uint32
}

// Bonded reports a completed bonding
type Bonded struct{}

// BondingFailed reports a failed security handshake
type BondingFailed struct {
	Reason uint16
}

// ClientConfig is the value a peer wrote to a characteristic's CCCD
type ClientConfig uint8

const (
	ConfigDisabled   ClientConfig = 0
	ConfigNotify     ClientConfig = 1
	ConfigIndication ClientConfig = 2
)

// CharacteristicStatus is emitted by the server role when the peer changes a
// client configuration (Confirmation false) or confirms an indication
// (Confirmation true).
type CharacteristicStatus struct {
	Capability   gatt.Capability
	Confirmation bool
	ClientConfig ClientConfig
}

// IndicationTimeout reports that the peer never confirmed an indication
type IndicationTimeout struct {
	Capability gatt.Capability
}

// ScanReport is one advertisement seen by the client role
type ScanReport struct {
	Address string
	Name    string
}

// ServiceFound reports a discovered service handle (client role)
type ServiceFound struct {
	Capability gatt.Capability
	Handle     uint32
}

// CharacteristicFound reports a discovered characteristic handle (client role)
type CharacteristicFound struct {
	Capability gatt.Capability
	Handle     uint16
}

// ProcedureCompleted ends one GATT procedure started by the client role
type ProcedureCompleted struct {
	Result uint16
}

// CharacteristicValue carries a value read or indicated by the server
type CharacteristicValue struct {
	Capability gatt.Capability
	Value      []byte
	Indication bool
}

func (Boot) peerEventName() string                  { return "boot" }
func (ConnectionOpened) peerEventName() string      { return "connection_opened" }
func (ConnectionClosed) peerEventName() string      { return "connection_closed" }
func (ConnectionParameters) peerEventName() string  { return "connection_parameters" }
func (BondingConfirmRequest) peerEventName() string { return "bonding_confirm" }
func (PasskeyConfirmRequest) peerEventName() string { return "passkey_confirm" }
func (Bonded) peerEventName() string                { return "bonded" }
func (BondingFailed) peerEventName() string         { return "bonding_failed" }
func (CharacteristicStatus) peerEventName() string  { return "characteristic_status" }
func (IndicationTimeout) peerEventName() string     { return "indication_timeout" }
func (ScanReport) peerEventName() string            { return "scan_report" }
func (ServiceFound) peerEventName() string          { return "service_found" }
func (CharacteristicFound) peerEventName() string   { return "characteristic_found" }
func (ProcedureCompleted) peerEventName() string    { return "procedure_completed" }
func (CharacteristicValue) peerEventName() string   { return "characteristic_value" }
