package sensor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/internal/event"
	"github.com/srg/vitals/internal/gatt"
)

// PulseWindowSize is the number of valid samples reduced into one report
const PulseWindowSize = 10

const (
	pulseResetHold   = 10 * time.Millisecond
	pulseBootWait    = time.Second
	pulseModeWait    = 10 * time.Millisecond
	pulseCommandWait = 6 * time.Millisecond
	pulseSettle      = 100 * time.Millisecond
	pulseWarmUp      = 6 * time.Second
	pulseSampleWait  = time.Second
)

// PulseState enumerates the sensor hub bring-up and sampling sequence
type PulseState int

const (
	PulseInit PulseState = iota
	PulseWait10ms
	PulseWait1s
	PulseReadReturnCheck
	PulseSetOutputMode
	PulseSetFIFOThreshold
	PulseAGCControl
	PulseMAX30101Control
	PulseFastAlgoControl
	PulseReadAlgoSamples
	PulseWaitBeforeReading
	PulseReadHubStatus
	PulseSamplesInFIFO
	PulseReadFillArray
	PulseDisableAFE
	PulseDisableAlgo
	PulseDone
)

var pulseStateNames = [...]string{
	"Init", "Wait10ms", "Wait1s", "ReadReturnCheck", "SetOutputMode",
	"SetFIFOThreshold", "AGCControl", "MAX30101Control", "FastAlgoControl",
	"ReadAlgoSamples", "WaitBeforeReading", "ReadHubStatus", "SamplesInFIFO",
	"ReadFillArray", "DisableAFE", "DisableAlgo", "Done",
}

func (s PulseState) String() string {
	if s >= 0 && int(s) < len(pulseStateNames) {
		return pulseStateNames[s]
	}
	return fmt.Sprintf("PulseState(%d)", int(s))
}

// PulsePins drives the hub RESET and MFIO lines
type PulsePins interface {
	SetReset(high bool) error
	SetMFIO(high bool) error
}

// PulseControl is the application state the pulse sequence reads and writes
type PulseControl interface {
	PulseOn() bool
	SetPulseOn(on bool)
	Gesture() gatt.GestureCode
	// RearmGesture clears the gesture selection and re-enables the gesture sensor
	RearmGesture()
}

// pulseStep is a CM-driven bring-up or sampling step: an optional settle
// time, an optional readback of the previous command, the next command and
// the wait before the following step.
type pulseStep struct {
	settle   time.Duration
	readback bool
	check    bool
	cmd      []byte
	wait     time.Duration
	next     PulseState
}

var pulseSteps = map[PulseState]pulseStep{
	PulseWait1s:            {cmd: cmdReadDeviceMode, wait: pulseModeWait, next: PulseReadReturnCheck},
	PulseReadReturnCheck:   {readback: true, check: true, cmd: cmdOutputAlgoData, wait: pulseCommandWait, next: PulseSetOutputMode},
	PulseSetOutputMode:     {readback: true, check: true, cmd: cmdFIFOThreshold, wait: pulseCommandWait, next: PulseSetFIFOThreshold},
	PulseSetFIFOThreshold:  {settle: pulseSettle, readback: true, check: true, cmd: cmdAGCEnable, wait: pulseCommandWait, next: PulseAGCControl},
	PulseAGCControl:        {settle: pulseSettle, readback: true, cmd: cmdMAX30101Enable, wait: pulseCommandWait, next: PulseMAX30101Control},
	PulseMAX30101Control:   {settle: pulseSettle, readback: true, cmd: cmdFastAlgoEnable, wait: pulseCommandWait, next: PulseFastAlgoControl},
	PulseFastAlgoControl:   {settle: pulseSettle, readback: true, cmd: cmdReadAlgoSamples, wait: pulseCommandWait, next: PulseReadAlgoSamples},
	PulseReadAlgoSamples:   {readback: true, check: true, wait: pulseWarmUp, next: PulseWaitBeforeReading},
	PulseWaitBeforeReading: {cmd: cmdHubStatus, wait: pulseCommandWait, next: PulseReadHubStatus},
	PulseReadHubStatus:     {readback: true, check: true, cmd: cmdSamplesInFIFO, wait: pulseCommandWait, next: PulseSamplesInFIFO},
	PulseSamplesInFIFO:     {readback: true, check: true, cmd: cmdReadFIFOData, wait: pulseCommandWait, next: PulseReadFillArray},
	PulseDisableAFE:        {cmd: cmdMAX30101Disable, wait: pulseCommandWait, next: PulseDisableAlgo},
	PulseDisableAlgo:       {readback: true, check: true, cmd: cmdFastAlgoDisable, wait: pulseCommandWait, next: PulseDone},
}

// PulseWindow accumulates valid samples and reduces them to their maximum
type PulseWindow struct {
	heartRate [PulseWindowSize]uint16
	spo2      [PulseWindowSize]uint16
	n         int
}

// Add stores a valid sample and reports whether the window is now full
func (w *PulseWindow) Add(s PulseSample) bool {
	if w.n == PulseWindowSize {
		w.n = 0
	}
	w.heartRate[w.n] = s.HeartRate
	w.spo2[w.n] = s.SpO2
	w.n++
	return w.n == PulseWindowSize
}

// Len returns the number of samples collected in the current window
func (w *PulseWindow) Len() int { return w.n }

// Max returns the per-metric maxima of the collected samples
func (w *PulseWindow) Max() (heartRate, spo2 uint8) {
	var hr, o2 uint16
	for i := 0; i < w.n; i++ {
		hr = max(hr, w.heartRate[i])
		o2 = max(o2, w.spo2[i])
	}
	return uint8(hr), uint8(o2)
}

// Clear empties the window
func (w *PulseWindow) Clear() { w.n = 0 }

// Pulse runs the MAX32664 sensor hub: pin reset, mode select, configuration
// writes each followed by a status readback, then a sampling loop that
// reports the maximum heart rate or SpO2 over PulseWindowSize valid samples.
//
// Readback status is logged but never gates the sequence; the hub is driven
// on a fixed schedule.
type Pulse struct {
	base
	bus   Bus
	delay Delayer
	pins  PulsePins
	ctl   PulseControl
	sink  Sink

	state     PulseState
	window    PulseWindow
	discarded uint64
	reports   uint64
}

// NewPulse creates the pulse machine in Init
func NewPulse(bus Bus, delay Delayer, pins PulsePins, ctl PulseControl, sink Sink, logger *logrus.Logger) *Pulse {
	return &Pulse{
		base:  newBase("pulse", logger),
		bus:   bus,
		delay: delay,
		pins:  pins,
		ctl:   ctl,
		sink:  sink,
	}
}

func (p *Pulse) State() string { return p.state.String() }

// Current returns the current state
func (p *Pulse) Current() PulseState { return p.state }

// Window exposes the sample window
func (p *Pulse) Window() *PulseWindow { return &p.window }

// Discarded counts samples dropped because the finger was not in place
func (p *Pulse) Discarded() uint64 { return p.discarded }

// Reports counts delivered reductions
func (p *Pulse) Reports() uint64 { return p.reports }

// Reset restarts the bring-up sequence and drops collected samples
func (p *Pulse) Reset() {
	p.window.Clear()
	p.moveTo(PulseInit)
}

func (p *Pulse) moveTo(s PulseState) {
	from := p.state
	p.state = s
	p.transition(from.String(), s.String())
}

// abandon drops the sequence; Init restarts it on the next routed event
func (p *Pulse) abandon(err error) {
	p.logger.WithFields(logrus.Fields{
		"machine": p.name,
		"state":   p.state,
		"error":   err,
	}).Warn("Pulse sequence abandoned")
	p.window.Clear()
	p.moveTo(PulseInit)
}

func (p *Pulse) readback() ([]byte, error) {
	buf := make([]byte, ReadbackLen)
	if err := p.bus.Tx(MAX32664Addr, nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Pulse) checkReadback(buf []byte) {
	if buf[0] == hubStatusSuccess {
		p.logger.WithField("machine", p.name).Debug("Hub readback ok")
		return
	}
	p.logger.WithFields(logrus.Fields{
		"machine": p.name,
		"state":   p.state,
		"status":  buf[0],
	}).Warn("Hub readback reports failure")
}

// Step advances the machine by one event
func (p *Pulse) Step(e event.Event) {
	switch p.state {
	case PulseInit:
		// acts on any routed event
		if err := p.pins.SetReset(false); err != nil {
			p.abandon(err)
			return
		}
		if err := p.pins.SetMFIO(true); err != nil {
			p.abandon(err)
			return
		}
		p.arm(pulseResetHold, PulseWait10ms)

	case PulseWait10ms:
		if e.Kind != event.TimerCompareMatch {
			return
		}
		if err := p.pins.SetReset(true); err != nil {
			p.abandon(err)
			return
		}
		p.arm(pulseBootWait, PulseWait1s)

	case PulseReadFillArray:
		if e.Kind != event.TimerCompareMatch {
			return
		}
		p.readFillArray()

	case PulseDone:
		if e.Kind == event.TimerCompareMatch {
			if buf, err := p.readback(); err == nil {
				p.checkReadback(buf)
			}
			return
		}
		if p.ctl.PulseOn() {
			p.ctl.RearmGesture()
			p.moveTo(PulseInit)
		}

	default:
		if e.Kind != event.TimerCompareMatch {
			return
		}
		step, ok := pulseSteps[p.state]
		if !ok {
			p.logger.WithField("state", p.state).Error("Pulse machine in unknown state")
			p.moveTo(PulseInit)
			return
		}
		p.runStep(step)
	}
}

func (p *Pulse) runStep(step pulseStep) {
	if step.settle > 0 {
		p.delay.PolledWait(step.settle)
	}
	if step.readback {
		buf, err := p.readback()
		if err != nil {
			p.abandon(err)
			return
		}
		if step.check {
			p.checkReadback(buf)
		}
	}
	if step.cmd != nil {
		if err := p.bus.Tx(MAX32664Addr, step.cmd, nil); err != nil {
			p.abandon(err)
			return
		}
	}
	p.arm(step.wait, step.next)
}

func (p *Pulse) arm(wait time.Duration, next PulseState) {
	if err := p.delay.Arm(p.name, wait); err != nil {
		p.abandon(err)
		return
	}
	p.moveTo(next)
}

func (p *Pulse) readFillArray() {
	buf, err := p.readback()
	if err != nil {
		p.abandon(err)
		return
	}
	sample, err := ParsePulseSample(buf)
	if err != nil {
		p.abandon(err)
		return
	}

	if !sample.Valid() {
		p.discarded++
		p.logger.WithFields(logrus.Fields{
			"machine": p.name,
			"status":  sample.Status,
		}).Info("Place the finger on the sensor")
		p.arm(pulseSampleWait, PulseWaitBeforeReading)
		return
	}

	p.logger.WithFields(logrus.Fields{
		"heart_rate": sample.HeartRate,
		"spo2":       sample.SpO2,
		"confidence": sample.Confidence,
		"collected":  p.window.Len() + 1,
	}).Debug("Pulse sample")

	if !p.window.Add(sample) {
		p.arm(pulseSampleWait, PulseWaitBeforeReading)
		return
	}

	p.report()
	p.window.Clear()
	p.ctl.SetPulseOn(false)
	p.arm(pulseCommandWait, PulseDisableAFE)
}

func (p *Pulse) report() {
	hr, o2 := p.window.Max()
	fields := logrus.Fields{"heart_rate": hr, "spo2": o2}

	var value uint8
	switch p.ctl.Gesture() {
	case gatt.GestureLeft:
		value = o2
	case gatt.GestureRight:
		value = hr
	default:
		p.logger.WithFields(fields).Warn("Pulse reduction without a metric selection")
		return
	}

	p.reports++
	p.logger.WithFields(fields).Info("Pulse measurement complete")
	p.sink.Deliver(gatt.Pulse, gatt.PulsePayload(value))
}
