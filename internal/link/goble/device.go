// Package goble binds the session state machines to a go-ble host stack.
// go-ble reports connections, subscriptions and confirmations through
// callbacks and blocking calls; the adapters in this package turn them into
// peer events posted to the dispatcher.
package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/pkg/config"
)

var (
	ErrUnsupported   = errors.New("goble: operation not supported by the host stack")
	ErrNotSubscribed = errors.New("goble: peer is not subscribed")
	ErrNotConnected  = errors.New("goble: not connected")
	ErrBluetoothOff  = errors.New("goble: bluetooth is turned off")
)

// HCI reason and ATT result codes reported through peer events
const (
	ReasonRemoteUserTerminated uint16 = 0x0213
	ReasonConnectionFailed     uint16 = 0x023E
	ReasonAuthFailure          uint16 = 0x0305
	ResultAttributeNotFound    uint16 = 0x010A
	ResultUnlikelyError        uint16 = 0x010E
)

// Sink receives the events produced by an adapter
type Sink interface {
	PostPeer(p event.PeerEvent)
}

// DeviceFactory creates the host device for a role (can be overridden in tests)
var DeviceFactory = func(role config.Role) (ble.Device, error) {
	opt := ble.OptPeripheralRole()
	if role == config.RoleClient {
		opt = ble.OptCentralRole()
	}
	dev, err := newPlatformDevice(opt)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return dev, nil
}

// NormalizeError maps known go-ble error strings to the package errors
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case strings.Contains(msg, "not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// localAddress asks the device for its public address when the platform
// exposes one
func localAddress(dev ble.Device, fallback string) string {
	if a, ok := dev.(interface{ Address() ble.Addr }); ok && a.Address() != nil {
		return a.Address().String()
	}
	return fallback
}
