package sensor

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
)

const (
	// Si7021Addr is the environmental sensor bus address
	Si7021Addr = 0x40

	// si7021MeasureNoHold triggers a temperature conversion without clock stretching
	si7021MeasureNoHold = 0xF3

	tempPowerUpWait    = 80 * time.Millisecond
	tempConversionWait = 10800 * time.Microsecond
)

// TempState enumerates the temperature acquisition cycle
type TempState int

const (
	TempSleep TempState = iota
	TempTimerWait
	TempWriteCmd
	TempWriteWait
	TempRead
)

func (s TempState) String() string {
	switch s {
	case TempSleep:
		return "Sleep"
	case TempTimerWait:
		return "TimerWait"
	case TempWriteCmd:
		return "WriteCmd"
	case TempWriteWait:
		return "WriteWait"
	case TempRead:
		return "Read"
	default:
		return "Unknown"
	}
}

// ConvertSi7021 turns a raw 16-bit reading into degrees Celsius
func ConvertSi7021(raw uint16) float64 {
	return 175.72*float64(raw)/65536 - 46.85
}

// Temperature samples the Si7021 once per timer period:
// Sleep -UF-> TimerWait -CM-> WriteCmd -TD-> WriteWait -CM-> Read -TD-> Sleep.
type Temperature struct {
	base
	bus   Bus
	delay Delayer
	sink  Sink

	state   TempState
	last    float64
	samples uint64
}

// NewTemperature creates the temperature machine in Sleep
func NewTemperature(bus Bus, delay Delayer, sink Sink, logger *logrus.Logger) *Temperature {
	return &Temperature{
		base:  newBase("temperature", logger),
		bus:   bus,
		delay: delay,
		sink:  sink,
	}
}

// State returns the current state name
func (t *Temperature) State() string { return t.state.String() }

// Current returns the current state
func (t *Temperature) Current() TempState { return t.state }

// Last returns the most recent converted value and how many were delivered
func (t *Temperature) Last() (float64, uint64) { return t.last, t.samples }

// Reset puts the machine back to Sleep
func (t *Temperature) Reset() { t.moveTo(TempSleep) }

func (t *Temperature) moveTo(s TempState) {
	from := t.state
	t.state = s
	t.transition(from.String(), s.String())
}

// abandon drops the current cycle; the next underflow starts a new one
func (t *Temperature) abandon(step string, err error) {
	t.logger.WithFields(logrus.Fields{
		"machine": t.name,
		"step":    step,
		"error":   err,
	}).Warn("Temperature cycle abandoned")
	t.moveTo(TempSleep)
}

// Step advances the machine by one event
func (t *Temperature) Step(e event.Event) {
	switch t.state {
	case TempSleep:
		if e.Kind != event.TimerUnderflow {
			return
		}
		if err := t.delay.Arm(t.name, tempPowerUpWait); err != nil {
			t.abandon("power-up wait", err)
			return
		}
		t.moveTo(TempTimerWait)

	case TempTimerWait:
		if e.Kind != event.TimerCompareMatch {
			return
		}
		if err := t.bus.Write(Si7021Addr, []byte{si7021MeasureNoHold}); err != nil {
			t.abandon("measure command", err)
			return
		}
		t.moveTo(TempWriteCmd)

	case TempWriteCmd:
		if e.Kind != event.TransportDone {
			return
		}
		if _, err := t.bus.Result(); err != nil {
			t.abandon("measure command", err)
			return
		}
		if err := t.delay.Arm(t.name, tempConversionWait); err != nil {
			t.abandon("conversion wait", err)
			return
		}
		t.moveTo(TempWriteWait)

	case TempWriteWait:
		if e.Kind != event.TimerCompareMatch {
			return
		}
		if err := t.bus.Read(Si7021Addr, 2); err != nil {
			t.abandon("read", err)
			return
		}
		t.moveTo(TempRead)

	case TempRead:
		if e.Kind != event.TransportDone {
			return
		}
		data, err := t.bus.Result()
		if err == nil && len(data) < 2 {
			err = errShortRead(len(data), 2)
		}
		if err != nil {
			t.abandon("read", err)
			return
		}

		raw := uint16(data[0])<<8 | uint16(data[1])
		t.last = ConvertSi7021(raw)
		t.samples++
		t.logger.WithFields(logrus.Fields{
			"raw":     raw,
			"celsius": t.last,
		}).Info("Temperature measured")

		t.sink.Deliver(gatt.Temperature, gatt.EncodeTemperature(t.last))
		t.moveTo(TempSleep)
	}
}
