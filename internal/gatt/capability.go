package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Capability identifies one exposed sensor/button data channel
type Capability uint8

const (
	Temperature Capability = iota
	Button
	Gesture
	Pulse
)

func (c Capability) String() string {
	switch c {
	case Temperature:
		return "temperature"
	case Button:
		return "button"
	case Gesture:
		return "gesture"
	case Pulse:
		return "pulse"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// Spec describes the service/characteristic pair backing a capability
type Spec struct {
	Capability     Capability
	Service        ble.UUID
	Characteristic ble.UUID
	Readable       bool
	PayloadLen     int
}

// Health Thermometer (0x1809) / Temperature Measurement (0x2A1C) plus three vendor services.
var (
	ThermometerServiceUUID = ble.UUID16(0x1809)
	TemperatureCharUUID    = ble.UUID16(0x2A1C)
	ButtonServiceUUID      = ble.MustParse("00000001-38c8-433e-87ec-652a2d136289")
	ButtonCharUUID         = ble.MustParse("00000002-38c8-433e-87ec-652a2d136289")
	GestureServiceUUID     = ble.MustParse("855eb9c5-82e1-4f81-961f-9bce01d3547d")
	GestureCharUUID        = ble.MustParse("c07a50a6-0642-49f0-839d-2933b25c414b")
	OximeterServiceUUID    = ble.MustParse("cd7f3d54-989e-48a4-b742-5f5dbdd2a316")
	OximeterCharUUID       = ble.MustParse("202ce269-3f62-485b-a283-f48088e72f39")
)

// table keeps capabilities in discovery order.
var table = func() *orderedmap.OrderedMap[Capability, Spec] {
	t := orderedmap.New[Capability, Spec]()
	t.Set(Temperature, Spec{Temperature, ThermometerServiceUUID, TemperatureCharUUID, true, TemperaturePayloadLen})
	t.Set(Button, Spec{Button, ButtonServiceUUID, ButtonCharUUID, true, 2})
	t.Set(Gesture, Spec{Gesture, GestureServiceUUID, GestureCharUUID, false, 1})
	t.Set(Pulse, Spec{Pulse, OximeterServiceUUID, OximeterCharUUID, false, 2})
	return t
}()

// Capabilities returns every capability in discovery order
func Capabilities() []Capability {
	out := make([]Capability, 0, table.Len())
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Lookup returns the service/characteristic description of a capability
func Lookup(c Capability) (Spec, bool) {
	return table.Get(c)
}

// Next returns the capability discovered after c, false when c is the last one
func Next(c Capability) (Capability, bool) {
	pair := table.GetPair(c)
	if pair == nil || pair.Next() == nil {
		return 0, false
	}
	return pair.Next().Key, true
}

// ByCharacteristic resolves a characteristic UUID back to its capability
func ByCharacteristic(u ble.UUID) (Capability, bool) {
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Characteristic.Equal(u) {
			return pair.Key, true
		}
	}
	return 0, false
}
