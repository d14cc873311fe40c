package gatt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// TemperaturePayloadLen is the flags byte plus the 32-bit IEEE-11073 FLOAT
const TemperaturePayloadLen = 5

// temperatureExponent stores temperatures as milli-degrees
const temperatureExponent = -3

// GestureCode is the one byte classification reported on the gesture capability
type GestureCode uint8

const (
	GestureNone GestureCode = iota
	GestureLeft
	GestureRight
	GestureUp
	GestureDown
	GestureNear
	GestureFar
)

var gestureNames = [...]string{"none", "left", "right", "up", "down", "near", "far"}

func (g GestureCode) String() string {
	if int(g) < len(gestureNames) {
		return gestureNames[g]
	}
	return fmt.Sprintf("gesture(%d)", uint8(g))
}

// ParseGesture maps a gesture name (case-insensitive) to its code
func ParseGesture(name string) (GestureCode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range gestureNames {
		if n == name {
			return GestureCode(i), nil
		}
	}
	return GestureNone, fmt.Errorf("unknown gesture %q", name)
}

// EncodeTemperature builds the 5 byte temperature measurement payload:
// a zero flags byte (Celsius, no timestamp) followed by a little-endian FLOAT
// whose low 24 bits are the signed mantissa and high 8 bits the exponent.
func EncodeTemperature(celsius float64) []byte {
	mantissa := int32(math.Round(celsius * 1000))
	exponent := int8(temperatureExponent)
	raw := uint32(mantissa)&0x00FFFFFF | uint32(uint8(exponent))<<24

	buf := make([]byte, TemperaturePayloadLen)
	buf[0] = 0x00
	binary.LittleEndian.PutUint32(buf[1:], raw)
	return buf
}

// DecodeTemperature is the inverse of EncodeTemperature for any exponent
func DecodeTemperature(p []byte) (float64, error) {
	if len(p) < TemperaturePayloadLen {
		return 0, fmt.Errorf("temperature payload too short: %d bytes", len(p))
	}
	raw := binary.LittleEndian.Uint32(p[1:5])

	mantissa := int32(raw & 0x00FFFFFF)
	if mantissa&0x00800000 != 0 {
		mantissa |= ^0x00FFFFFF // sign-extend 24 bit value
	}
	exponent := int8(raw >> 24)

	return float64(mantissa) * math.Pow10(int(exponent)), nil
}

// ButtonPayload encodes the button state as {state, reserved}
func ButtonPayload(pressed bool) []byte {
	if pressed {
		return []byte{0x01, 0x00}
	}
	return []byte{0x00, 0x00}
}

// GesturePayload encodes a gesture classification
func GesturePayload(g GestureCode) []byte {
	return []byte{byte(g)}
}

// PulsePayload encodes a reduced pulse metric as {value, reserved}
func PulsePayload(value uint8) []byte {
	return []byte{value, 0x00}
}
