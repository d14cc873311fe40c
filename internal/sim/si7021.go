package sim

import (
	"fmt"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"
)

const si7021MeasureNoHold = 0xF3

// Si7021 answers the no-hold temperature command with the configured value
type Si7021 struct {
	mu          sync.Mutex
	celsius     float64
	out         *ringbuffer.RingBuffer
	conversions uint64
}

// NewSi7021 creates a sensor reading celsius
func NewSi7021(celsius float64) *Si7021 {
	return &Si7021{celsius: celsius, out: ringbuffer.New(8)}
}

// SetTemperature changes the value returned by the next conversion
func (s *Si7021) SetTemperature(celsius float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.celsius = celsius
}

// Conversions returns how many measurements were triggered
func (s *Si7021) Conversions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversions
}

// RawSi7021 is the inverse of the datasheet conversion formula
func RawSi7021(celsius float64) uint16 {
	v := math.Round((celsius + 46.85) * 65536 / 175.72)
	return uint16(max(0, min(v, math.MaxUint16)))
}

func (s *Si7021) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(w) > 0 {
		if w[0] != si7021MeasureNoHold {
			return fmt.Errorf("%w: si7021 0x%02x", ErrUnsupported, w[0])
		}
		raw := RawSi7021(s.celsius)
		s.out.Reset()
		if _, err := s.out.Write([]byte{byte(raw >> 8), byte(raw)}); err != nil {
			return err
		}
		s.conversions++
	}

	if len(r) > 0 {
		// a read without a finished conversion is NACKed
		if s.out.Length() < len(r) {
			return fmt.Errorf("%w: si7021 conversion not started", ErrNACK)
		}
		if _, err := s.out.Read(r); err != nil {
			return err
		}
	}
	return nil
}
