package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
)

// Handles are the peer-side references of one capability (client role)
type Handles struct {
	Service        uint32
	Characteristic uint16
}

// Record is the state of the current wireless session. It lives for the whole
// process; every field except the local address is reset on disconnect.
type Record struct {
	ID           uuid.UUID
	LocalAddress string
	PeerAddress  string
	ConnHandle   uint8
	OpenedAt     time.Time

	Connected      bool
	Bonded         bool
	InFlight       bool
	Passkey        uint32
	PasskeyPending bool

	Params  event.ConnectionParameters
	enabled map[gatt.Capability]bool
	handles map[gatt.Capability]Handles
}

// NewRecord creates an empty session record
func NewRecord() *Record {
	r := &Record{}
	r.Reset()
	return r
}

// Open marks the start of a session with peer
func (r *Record) Open(peer string, handle uint8) {
	r.ID = uuid.New()
	r.PeerAddress = peer
	r.ConnHandle = handle
	r.OpenedAt = time.Now()
	r.Connected = true
}

// Reset returns every per-session field to its default
func (r *Record) Reset() {
	local := r.LocalAddress
	*r = Record{
		LocalAddress: local,
		enabled:      make(map[gatt.Capability]bool),
		handles:      make(map[gatt.Capability]Handles),
	}
}

// Enabled reports whether the peer enabled indications for c
func (r *Record) Enabled(c gatt.Capability) bool { return r.enabled[c] }

// SetEnabled records the peer's indication setting for c
func (r *Record) SetEnabled(c gatt.Capability, on bool) {
	if on {
		r.enabled[c] = true
		return
	}
	delete(r.enabled, c)
}

// NotificationsEnabled reports whether any capability has indications on
func (r *Record) NotificationsEnabled() bool { return len(r.enabled) > 0 }

// Handles returns the discovered references of c
func (r *Record) Handles(c gatt.Capability) (Handles, bool) {
	h, ok := r.handles[c]
	return h, ok
}

func (r *Record) setService(c gatt.Capability, handle uint32) {
	h := r.handles[c]
	h.Service = handle
	r.handles[c] = h
}

func (r *Record) setCharacteristic(c gatt.Capability, handle uint16) {
	h := r.handles[c]
	h.Characteristic = handle
	r.handles[c] = h
}

// Snapshot is a JSON friendly copy of a Record
type Snapshot struct {
	ID             string   `json:"id,omitempty"`
	LocalAddress   string   `json:"local_address,omitempty"`
	PeerAddress    string   `json:"peer_address,omitempty"`
	Connected      bool     `json:"connected"`
	Bonded         bool     `json:"bonded"`
	InFlight       bool     `json:"in_flight"`
	PasskeyPending bool     `json:"passkey_pending"`
	Enabled        []string `json:"enabled"`
}

// Snapshot copies the record for reporting
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		LocalAddress:   r.LocalAddress,
		PeerAddress:    r.PeerAddress,
		Connected:      r.Connected,
		Bonded:         r.Bonded,
		InFlight:       r.InFlight,
		PasskeyPending: r.PasskeyPending,
		Enabled:        []string{},
	}
	if r.ID != uuid.Nil {
		s.ID = r.ID.String()
	}
	for _, c := range gatt.Capabilities() {
		if r.enabled[c] {
			s.Enabled = append(s.Enabled, c.String())
		}
	}
	return s
}
