package sim

import (
	"sync"

	"github.com/smallnest/ringbuffer"
	"github.com/srg/vitals/internal/gatt"
)

const (
	apdsEnable  = 0x80
	apdsID      = 0x92
	apdsGConf4  = 0xAB
	apdsGFLevel = 0xAE
	apdsGStatus = 0xAF
	apdsGFIFOU  = 0xFC

	apdsGEN   = 0x40
	apdsGMode = 0x01
	apdsGIEN  = 0x02

	apdsFrameLen  = 4
	apdsFIFOTotal = 32 * apdsFrameLen
)

// APDS9960 is a register file with a gesture FIFO. Perform loads the FIFO
// with photodiode frames for a gesture and pulls the INT line.
type APDS9960 struct {
	mu   sync.Mutex
	regs [256]byte
	fifo *ringbuffer.RingBuffer
	irq  func()
}

// NewAPDS9960 creates the controller. irq is called for every gesture when
// the gesture interrupt is enabled.
func NewAPDS9960(irq func()) *APDS9960 {
	a := &APDS9960{fifo: ringbuffer.New(apdsFIFOTotal), irq: irq}
	a.regs[apdsID] = 0xAB
	return a
}

// SetInterrupt connects the INT line to irq
func (a *APDS9960) SetInterrupt(irq func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.irq = irq
}

// GestureEnabled reports whether the gesture engine is running
func (a *APDS9960) GestureEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gestureEnabled()
}

func (a *APDS9960) gestureEnabled() bool {
	return a.regs[apdsEnable]&apdsGEN != 0 && a.regs[apdsGConf4]&apdsGMode != 0
}

// Register returns the current value of reg
func (a *APDS9960) Register(reg uint8) byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regs[reg]
}

// Perform makes the gesture in front of the sensor. It reports false when
// the gesture engine is off and nothing was recorded.
func (a *APDS9960) Perform(g gatt.GestureCode) bool {
	a.mu.Lock()
	if !a.gestureEnabled() {
		a.mu.Unlock()
		return false
	}
	a.fifo.Reset()
	for _, f := range gestureFrames(g) {
		_, _ = a.fifo.Write(f[:])
	}
	irq := a.irq
	raise := a.regs[apdsGConf4]&apdsGIEN != 0
	a.mu.Unlock()

	if raise && irq != nil {
		irq()
	}
	return true
}

func (a *APDS9960) Tx(w, r []byte) error {
	if len(w) == 0 {
		return ErrNACK
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg := w[0]
	for i, v := range w[1:] {
		a.regs[reg+uint8(i)] = v
	}

	if len(r) == 0 {
		return nil
	}
	if reg == apdsGFIFOU {
		clear(r)
		_, _ = a.fifo.Read(r)
		return nil
	}
	for i := range r {
		r[i] = a.readReg(reg + uint8(i))
	}
	return nil
}

func (a *APDS9960) readReg(reg uint8) byte {
	switch reg {
	case apdsGFLevel:
		return byte(a.fifo.Length() / apdsFrameLen)
	case apdsGStatus:
		if a.fifo.Length() >= apdsFrameLen {
			return 0x01
		}
		return 0x00
	default:
		return a.regs[reg]
	}
}

type frame [apdsFrameLen]byte // U, D, L, R

// gestureFrames sweeps four frames from a start to an end reflection
// pattern
func gestureFrames(g gatt.GestureCode) []frame {
	var from, to frame
	switch g {
	case gatt.GestureUp:
		from, to = frame{200, 40, 100, 100}, frame{40, 200, 100, 100}
	case gatt.GestureDown:
		from, to = frame{40, 200, 100, 100}, frame{200, 40, 100, 100}
	case gatt.GestureLeft:
		from, to = frame{100, 100, 200, 40}, frame{100, 100, 40, 200}
	case gatt.GestureRight:
		from, to = frame{100, 100, 40, 200}, frame{100, 100, 200, 40}
	case gatt.GestureNear:
		from, to = frame{30, 30, 30, 30}, frame{150, 150, 150, 150}
	case gatt.GestureFar:
		from, to = frame{150, 150, 150, 150}, frame{30, 30, 30, 30}
	default:
		from, to = frame{5, 5, 5, 5}, frame{5, 5, 5, 5}
	}

	const steps = 4
	out := make([]frame, steps)
	for i := range out {
		for ch := range out[i] {
			a, b := int(from[ch]), int(to[ch])
			out[i][ch] = byte(a + (b-a)*i/(steps-1))
		}
	}
	return out
}
