//go:build linux

package hw

import (
	"testing"

	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/warthog618/go-gpiocdev"
)

var (
	_ Inputs           = (*event.Dispatcher)(nil)
	_ sensor.PulsePins = (*GPIO)(nil)
)

func TestButtonHandler(t *testing.T) {
	tests := []struct {
		name string
		edge gpiocdev.LineEventType
		want bool
	}{
		{"press", gpiocdev.LineEventRisingEdge, true},
		{"release", gpiocdev.LineEventFallingEdge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []bool
			buttonHandler(func(p bool) { got = append(got, p) })(gpiocdev.LineEvent{Type: tt.edge})
			assert.Equal(t, []bool{tt.want}, got)
		})
	}
}

func TestWriteUnknownLine(t *testing.T) {
	g := &GPIO{lines: map[string]*gpiocdev.Line{}}
	assert.Error(t, g.SetReset(true))
	assert.Error(t, g.SetMFIO(false))
}
