package sensor

import (
	"testing"

	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	evUF = event.Event{Kind: event.TimerUnderflow}
	evCM = event.Event{Kind: event.TimerCompareMatch}
	evTD = event.Event{Kind: event.TransportDone}
	evAE = event.Event{Kind: event.AuxSensorEdge}
)

func TestConvertSi7021(t *testing.T) {
	tests := []struct {
		name string
		raw  uint16
		want float64
	}{
		{"zero", 0x0000, -46.85},
		{"room temperature", 0x664C, 23.3672},
		{"full scale", 0xFFFF, 128.8673},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ConvertSi7021(tt.raw), 0.001)
		})
	}
}

func TestTemperature_FullCycleDeliversOnce(t *testing.T) {
	bus := &fakeBus{result: []byte{0x66, 0x4C}}
	delay := &fakeDelay{}
	sink := &recordingSink{}
	var trace traceLog

	m := NewTemperature(bus, delay, sink, quietLogger())
	m.SetTracer(trace.tracer())

	for _, e := range []event.Event{evUF, evCM, evTD, evCM, evTD} {
		m.Step(e)
	}

	assert.Equal(t, traceLog{
		"Sleep->TimerWait",
		"TimerWait->WriteCmd",
		"WriteCmd->WriteWait",
		"WriteWait->Read",
		"Read->Sleep",
	}, trace)
	assert.Equal(t, TempSleep, m.Current())

	assert.Equal(t, [][]byte{{0xF3}}, bus.asyncWrites)
	assert.Equal(t, 1, bus.asyncReads)
	assert.Equal(t, []armRecord{
		{owner: "temperature", wait: tempPowerUpWait},
		{owner: "temperature", wait: tempConversionWait},
	}, delay.arms)

	require.Len(t, sink.got, 1)
	assert.Equal(t, gatt.Temperature, sink.got[0].cap)
	assert.Equal(t, gatt.EncodeTemperature(ConvertSi7021(0x664C)), sink.got[0].payload)

	last, n := m.Last()
	assert.InDelta(t, 23.3672, last, 0.001)
	assert.Equal(t, uint64(1), n)
}

func TestTemperature_IgnoresUnexpectedEvents(t *testing.T) {
	tests := []struct {
		name   string
		events []event.Event
		want   TempState
	}{
		{"sleep ignores compare match", []event.Event{evCM, evTD, evAE}, TempSleep},
		{"timer wait ignores transfer done", []event.Event{evUF, evTD, evUF}, TempTimerWait},
		{"write cmd ignores compare match", []event.Event{evUF, evCM, evCM}, TempWriteCmd},
		{"read ignores underflow", []event.Event{evUF, evCM, evTD, evCM, evUF}, TempRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			m := NewTemperature(&fakeBus{result: []byte{0, 0}}, &fakeDelay{}, sink, quietLogger())
			for _, e := range tt.events {
				m.Step(e)
			}
			assert.Equal(t, tt.want, m.Current())
			assert.Empty(t, sink.got)
		})
	}
}

func TestTemperature_TransportErrorAbandonsCycle(t *testing.T) {
	tests := []struct {
		name   string
		bus    *fakeBus
		events []event.Event
	}{
		{"write refused", &fakeBus{startErr: errNack}, []event.Event{evUF, evCM}},
		{"write failed", &fakeBus{resultErr: errNack}, []event.Event{evUF, evCM, evTD}},
		{"short read", &fakeBus{result: []byte{0x66}}, []event.Event{evUF, evCM, evTD, evCM, evTD}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			m := NewTemperature(tt.bus, &fakeDelay{}, sink, quietLogger())
			for _, e := range tt.events {
				m.Step(e)
			}
			assert.Equal(t, TempSleep, m.Current())
			assert.Empty(t, sink.got)
		})
	}
}

func TestTemperature_DelayBusyAbandonsCycle(t *testing.T) {
	delay := &fakeDelay{err: errNack}
	m := NewTemperature(&fakeBus{}, delay, &recordingSink{}, quietLogger())

	m.Step(evUF)
	assert.Equal(t, TempSleep, m.Current())

	delay.err = nil
	m.Step(evUF)
	assert.Equal(t, TempTimerWait, m.Current())
}

func TestTemperature_Reset(t *testing.T) {
	m := NewTemperature(&fakeBus{}, &fakeDelay{}, &recordingSink{}, quietLogger())
	m.Step(evUF)
	m.Step(evCM)
	require.Equal(t, TempWriteCmd, m.Current())

	m.Reset()
	assert.Equal(t, TempSleep, m.Current())
	assert.Equal(t, "Sleep", m.State())
}
