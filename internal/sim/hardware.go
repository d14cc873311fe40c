package sim

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/sensor"
	"github.com/srg/vitals/pkg/config"
)

// Hardware is a complete simulated sensor board
type Hardware struct {
	Bus     *Bus
	Si7021  *Si7021
	Gesture *APDS9960
	Hub     *MAX32664
	Pins    *Pins
}

// NewHardware populates a bus with the three sensors. aux is the gesture
// controller INT line.
func NewHardware(cfg config.SimulationConfig, aux func(), logger *logrus.Logger) *Hardware {
	hw := &Hardware{
		Bus:     NewBus(logger),
		Si7021:  NewSi7021(cfg.Temperature),
		Gesture: NewAPDS9960(aux),
		Hub:     NewMAX32664(cfg.HeartRate, cfg.SpO2),
	}
	hw.Pins = NewPins(hw.Hub)
	hw.Bus.Attach(sensor.Si7021Addr, hw.Si7021)
	hw.Bus.Attach(sensor.APDS9960Addr, hw.Gesture)
	hw.Bus.Attach(sensor.MAX32664Addr, hw.Hub)
	return hw
}
