package sim

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/srg/vitals/internal/sensor"
)

var cmdReadFIFOData = []byte{0x12, 0x01}

// per-sample offsets applied to the configured heart rate and SpO2
var (
	heartRateJitter = [...]int{-2, 0, 3, -4, 8, 2, -1, -3, 5, 1}
	spo2Jitter      = [...]int{0, 1, -1, 0, 2, 1, 0, -1, 1, 0}
)

// MAX32664 is the biometric hub. Every command is accepted; a FIFO read
// returns an algorithm sample built from the configured vitals.
type MAX32664 struct {
	mu        sync.Mutex
	running   bool
	finger    bool
	heartRate int
	spo2      int
	lastCmd   []byte
	commands  [][]byte
	samples   int
}

// NewMAX32664 creates a running hub with a finger in place
func NewMAX32664(heartRate, spo2 int) *MAX32664 {
	return &MAX32664{running: true, finger: true, heartRate: heartRate, spo2: spo2}
}

// SetFinger places or removes the finger
func (m *MAX32664) SetFinger(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finger = on
}

// SetVitals changes the values the algorithm converges on
func (m *MAX32664) SetVitals(heartRate, spo2 int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartRate, m.spo2 = heartRate, spo2
}

// Commands returns a copy of every command frame received
func (m *MAX32664) Commands() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.commands))
	copy(out, m.commands)
	return out
}

// Running reports whether the hub is out of reset
func (m *MAX32664) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MAX32664) setRunning(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on && !m.running {
		m.lastCmd = nil
	}
	m.running = on
}

func (m *MAX32664) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("%w: max32664 held in reset", ErrNACK)
	}
	if len(w) > 0 {
		m.lastCmd = append([]byte(nil), w...)
		m.commands = append(m.commands, m.lastCmd)
	}
	if len(r) == 0 {
		return nil
	}

	block := make([]byte, sensor.ReadbackLen)
	if bytes.Equal(m.lastCmd, cmdReadFIFOData) {
		block = m.nextSample()
	}
	clear(r)
	copy(r, block)
	return nil
}

func (m *MAX32664) nextSample() []byte {
	if !m.finger {
		return sensor.EncodePulseSample(sensor.PulseSample{Status: sensor.AlgoObject})
	}
	i := m.samples % len(heartRateJitter)
	m.samples++
	return sensor.EncodePulseSample(sensor.PulseSample{
		HeartRate:  uint16(max(0, m.heartRate+heartRateJitter[i])),
		Confidence: 95,
		SpO2:       uint16(max(0, min(100, m.spo2+spo2Jitter[i]))),
		Status:     sensor.AlgoFinger,
	})
}

// Pins drives the hub RESET and MFIO lines of a simulated MAX32664
type Pins struct {
	hub *MAX32664

	mu    sync.Mutex
	reset bool
	mfio  bool
}

// NewPins wires the lines to hub
func NewPins(hub *MAX32664) *Pins {
	return &Pins{hub: hub, reset: true}
}

func (p *Pins) SetReset(high bool) error {
	p.mu.Lock()
	p.reset = high
	p.mu.Unlock()
	p.hub.setRunning(high)
	return nil
}

func (p *Pins) SetMFIO(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mfio = high
	return nil
}

// Levels returns the current line levels
func (p *Pins) Levels() (reset, mfio bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reset, p.mfio
}
