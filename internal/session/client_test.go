package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serverAddr = "00:0B:57:1A:2B:3C"

type fakeClientLink struct {
	calls      []string
	connectErr error
	enableErr  error
}

func (l *fakeClientLink) record(format string, args ...any) {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *fakeClientLink) StartScan() error {
	l.record("scan")
	return nil
}

func (l *fakeClientLink) Connect(address string) error {
	l.record("connect %s", address)
	return l.connectErr
}

func (l *fakeClientLink) DiscoverService(c gatt.Capability) error {
	l.record("service %s", c)
	return nil
}

func (l *fakeClientLink) DiscoverCharacteristic(c gatt.Capability) error {
	l.record("characteristic %s", c)
	return nil
}

func (l *fakeClientLink) EnableIndications(c gatt.Capability) error {
	l.record("indicate %s", c)
	return l.enableErr
}

func (l *fakeClientLink) ConfirmIndication() error {
	l.record("confirm")
	return nil
}

func (l *fakeClientLink) IncreaseSecurity() error {
	l.record("security")
	return nil
}

func (l *fakeClientLink) ConfirmBonding(accept bool) error {
	l.record("bonding %v", accept)
	return nil
}

func (l *fakeClientLink) ConfirmPasskey(accept bool) error {
	l.record("passkey %v", accept)
	return nil
}

func (l *fakeClientLink) ReadCharacteristic(c gatt.Capability) error {
	l.record("read %s", c)
	return nil
}

func (l *fakeClientLink) reset() { l.calls = nil }

func newClient() (*Client, *fakeClientLink) {
	link := &fakeClientLink{}
	return NewClient(link, serverAddr, quietLogger()), link
}

var done = event.ProcedureCompleted{Result: 0}

// discoverAll drives the whole sequence with successful procedures
func discoverAll(c *Client) {
	c.HandlePeer(event.ConnectionOpened{Address: serverAddr, Handle: 1})
	for i, cp := range gatt.Capabilities() {
		c.HandlePeer(event.ServiceFound{Capability: cp, Handle: uint32(0x10 + i)})
		c.HandlePeer(done)
		c.HandlePeer(event.CharacteristicFound{Capability: cp, Handle: uint16(0x20 + i)})
		c.HandlePeer(done)
		c.HandlePeer(done)
	}
}

func TestClient_ScanAndConnect(t *testing.T) {
	c, link := newClient()

	c.HandlePeer(event.Boot{Address: "local"})
	c.HandlePeer(event.ScanReport{Address: "11:22:33:44:55:66", Name: "other"})
	c.HandlePeer(event.ScanReport{Address: "00:0b:57:1a:2b:3c", Name: "vitals"})

	assert.Equal(t, []string{"scan", "connect 00:0b:57:1a:2b:3c"}, link.calls)
	assert.Equal(t, "local", c.Record().LocalAddress)

	c.HandlePeer(event.ConnectionOpened{Address: serverAddr})
	link.reset()
	c.HandlePeer(event.ScanReport{Address: serverAddr})
	assert.Empty(t, link.calls)
}

func TestClient_DiscoversEveryCapabilityInOrder(t *testing.T) {
	c, link := newClient()
	discoverAll(c)

	assert.Equal(t, []string{
		"service temperature", "characteristic temperature", "indicate temperature",
		"service button", "characteristic button", "indicate button",
		"service gesture", "characteristic gesture", "indicate gesture",
		"service pulse", "characteristic pulse", "indicate pulse",
	}, link.calls)
	assert.Equal(t, AllCapabilitiesReady, c.State())

	for i, cp := range gatt.Capabilities() {
		h, ok := c.Record().Handles(cp)
		require.True(t, ok)
		assert.Equal(t, Handles{Service: uint32(0x10 + i), Characteristic: uint16(0x20 + i)}, h)
		assert.True(t, c.Record().Enabled(cp))
	}

	c.HandlePeer(event.ConnectionParameters{})
	assert.Equal(t, WaitForClose, c.State())
}

func TestClient_DiscoveryStepsByState(t *testing.T) {
	tests := []struct {
		name   string
		events []event.PeerEvent
		state  DiscoveryState
		cap    gatt.Capability
	}{
		{"opened", []event.PeerEvent{event.ConnectionOpened{}}, DiscoverService, gatt.Temperature},
		{"service done", []event.PeerEvent{event.ConnectionOpened{}, done}, DiscoverCharacteristic, gatt.Temperature},
		{"characteristic done", []event.PeerEvent{event.ConnectionOpened{}, done, done}, EnableIndications, gatt.Temperature},
		{"first capability done", []event.PeerEvent{event.ConnectionOpened{}, done, done, done}, DiscoverService, gatt.Button},
		{"procedure failure", []event.PeerEvent{event.ConnectionOpened{}, event.ProcedureCompleted{Result: 0x0401}}, WaitForClose, gatt.Temperature},
		{"stray completion while idle", []event.PeerEvent{done}, ClientIdle, gatt.Temperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClient()
			for _, e := range tt.events {
				c.HandlePeer(e)
			}
			assert.Equal(t, tt.state, c.State())
			assert.Equal(t, tt.cap, c.Current())
		})
	}
}

func TestClient_InsufficientEncryptionRetriesAfterBonding(t *testing.T) {
	c, link := newClient()
	c.HandlePeer(event.ConnectionOpened{Address: serverAddr})
	c.HandlePeer(done)
	c.HandlePeer(done)
	require.Equal(t, EnableIndications, c.State())
	link.reset()

	c.HandlePeer(event.ProcedureCompleted{Result: ResultInsufficientEncryption})
	assert.Equal(t, []string{"security"}, link.calls)
	assert.Equal(t, EnableIndications, c.State())

	c.HandlePeer(event.BondingConfirmRequest{})
	c.HandlePeer(event.Bonded{})
	assert.Equal(t, []string{"security", "bonding true", "indicate temperature"}, link.calls)
	assert.True(t, c.Record().Bonded)

	c.HandlePeer(done)
	assert.Equal(t, DiscoverService, c.State())
	assert.Equal(t, gatt.Button, c.Current())
}

func TestClient_ProcedureStartFailure(t *testing.T) {
	c, link := newClient()
	link.enableErr = errors.New("not connected")

	c.HandlePeer(event.ConnectionOpened{Address: serverAddr})
	c.HandlePeer(done)
	c.HandlePeer(done)
	assert.Equal(t, WaitForClose, c.State())
}

func TestClient_DisconnectResets(t *testing.T) {
	c, link := newClient()
	discoverAll(c)
	c.Record().Bonded = true
	require.Equal(t, AllCapabilitiesReady, c.State())
	link.reset()

	c.HandlePeer(event.ConnectionClosed{Reason: 0x0208})

	assert.Equal(t, ClientIdle, c.State())
	assert.False(t, c.Record().Connected)
	assert.False(t, c.Record().Bonded)
	assert.False(t, c.Record().NotificationsEnabled())
	assert.Equal(t, []string{"scan"}, link.calls)

	c.HandlePeer(event.ConnectionOpened{Address: serverAddr})
	assert.Equal(t, DiscoverService, c.State())
	assert.Equal(t, gatt.Temperature, c.Current())
}

func TestClient_ValuesAndConfirmations(t *testing.T) {
	c, link := newClient()
	discoverAll(c)
	link.reset()

	c.HandlePeer(event.CharacteristicValue{Capability: gatt.Temperature, Value: gatt.EncodeTemperature(36.6), Indication: true})
	c.HandlePeer(event.CharacteristicValue{Capability: gatt.Gesture, Value: []byte{byte(gatt.GestureRight)}, Indication: true})
	c.HandlePeer(event.CharacteristicValue{Capability: gatt.Pulse, Value: []byte{78, 0}, Indication: true})
	c.HandlePeer(event.CharacteristicValue{Capability: gatt.Gesture, Value: []byte{byte(gatt.GestureLeft)}, Indication: true})
	c.HandlePeer(event.CharacteristicValue{Capability: gatt.Pulse, Value: []byte{98, 0}, Indication: true})
	c.HandlePeer(event.CharacteristicValue{Capability: gatt.Button, Value: []byte{1, 0}})

	view := c.View()
	assert.True(t, view.HasTemperature)
	assert.InDelta(t, 36.6, view.Temperature, 0.0005)
	assert.Equal(t, gatt.GestureLeft, view.Gesture)
	assert.Equal(t, uint8(78), view.HeartRate)
	assert.Equal(t, uint8(98), view.SpO2)
	assert.True(t, view.ButtonPressed)
	assert.Equal(t, uint64(5), view.Indications)
	assert.Equal(t, []string{"confirm", "confirm", "confirm", "confirm", "confirm"}, link.calls)
}

func TestClient_ButtonA(t *testing.T) {
	c, link := newClient()
	c.HandlePeer(event.ConnectionOpened{Address: serverAddr})
	c.HandlePeer(event.PasskeyConfirmRequest{Passkey: 42})
	link.reset()

	c.OnButtonA(true, true)
	assert.Equal(t, []string{"passkey true"}, link.calls)
	assert.False(t, c.Record().PasskeyPending)

	c.OnButtonA(true, false)
	c.OnButtonA(false, true)
	assert.Len(t, link.calls, 1)

	c.OnButtonA(true, true)
	assert.Equal(t, []string{"passkey true", "read button"}, link.calls)
}
