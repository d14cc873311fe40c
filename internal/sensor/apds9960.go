package sensor

import (
	"fmt"
	"time"

	"github.com/srg/vitals/internal/gatt"
	"tinygo.org/x/drivers/apds9960"
)

// APDS9960Addr is the gesture controller bus address
const APDS9960Addr = apds9960.ADPS9960_ADDRESS

// APDS-9960 registers
const (
	apdsEnable    = apds9960.APDS9960_ENABLE_REG
	apdsATime     = apds9960.APDS9960_ATIME_REG
	apdsWTime     = apds9960.APDS9960_WTIME_REG
	apdsPILT      = apds9960.APDS9960_PILT_REG
	apdsPIHT      = apds9960.APDS9960_PIHT_REG
	apdsPers      = apds9960.APDS9960_PERS_REG
	apdsConfig1   = apds9960.APDS9960_CONFIG1_REG
	apdsPPulse    = apds9960.APDS9960_PPULSE_REG
	apdsControl   = apds9960.APDS9960_CONTROL_REG
	apdsConfig2   = apds9960.APDS9960_CONFIG2_REG
	apdsID        = apds9960.APDS9960_ID_REG
	apdsPOffsetUR = apds9960.APDS9960_POFFSET_UR_REG
	apdsPOffsetDL = apds9960.APDS9960_POFFSET_DL_REG
	apdsConfig3   = apds9960.APDS9960_CONFIG3_REG
	apdsGPEnTh    = apds9960.APDS9960_GPENTH_REG
	apdsGExTh     = apds9960.APDS9960_GEXTH_REG
	apdsGConf1    = apds9960.APDS9960_GCONF1_REG
	apdsGConf2    = apds9960.APDS9960_GCONF2_REG
	apdsGOffsetU  = apds9960.APDS9960_GOFFSET_U_REG
	apdsGOffsetD  = apds9960.APDS9960_GOFFSET_D_REG
	apdsGPulse    = apds9960.APDS9960_GPULSE_REG
	apdsGOffsetL  = apds9960.APDS9960_GOFFSET_L_REG
	apdsGOffsetR  = apds9960.APDS9960_GOFFSET_R_REG
	apdsGConf3    = apds9960.APDS9960_GCONF3_REG
	apdsGConf4    = apds9960.APDS9960_GCONF4_REG
	apdsGFLevel   = apds9960.APDS9960_GFLVL_REG
	apdsGStatus   = apds9960.APDS9960_GSTATUS_REG
	apdsGFIFOU    = apds9960.APDS9960_GFIFO_U_REG
)

// ENABLE register bits
const (
	apdsPON = 0x01
	apdsPEN = 0x04
	apdsWEN = 0x08
	apdsGEN = 0x40
)

const (
	apdsGMode = 0x01 // GCONF4
	apdsGIEN  = 0x02 // GCONF4
	apdsGVald = 0x01 // GSTATUS

	apdsLEDBoost300 = 0x30 // CONFIG2 LED_BOOST bits

	gestureThreshold    = 10
	gestureSensitivity1 = 50
	gestureSensitivity2 = 20
	gestureFIFOPause    = 30 * time.Millisecond
	gestureMaxPolls     = 32
)

var apdsKnownIDs = map[byte]bool{0xAB: true, 0x9C: true, 0xA8: true}

// APDS9960 is a polled driver for the gesture engine of the APDS-9960.
// Every access is a short blocking register transaction on the shared bus.
//
// Pulse, gain and LED settings go through the tinygo apds9960 driver, which
// drops bus errors, so each batch is read back before it is trusted. The
// gesture interrupt (GIEN), FIFO draining and near/far classification are
// done here; the tinygo driver has none of them.
type APDS9960 struct {
	bus   Bus
	dev   apds9960.Device
	delay Delayer
}

// NewAPDS9960 binds the driver to the bus
func NewAPDS9960(bus Bus, delay Delayer) *APDS9960 {
	return &APDS9960{bus: bus, dev: apds9960.New(bus), delay: delay}
}

func (d *APDS9960) read(reg uint8) (byte, error) {
	buf := make([]byte, 1)
	if err := d.bus.ReadRegister(APDS9960Addr, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *APDS9960) write(reg uint8, v byte) error {
	return d.bus.WriteRegister(APDS9960Addr, reg, v)
}

type regValue struct {
	reg uint8
	val byte
}

// verify reads every register back and compares it with the value a
// configuration call should have left there
func (d *APDS9960) verify(want ...regValue) error {
	for _, rv := range want {
		got, err := d.read(rv.reg)
		if err != nil {
			return err
		}
		if got != rv.val {
			return fmt.Errorf("%w: register 0x%02X is 0x%02X, want 0x%02X", ErrConfigMismatch, rv.reg, got, rv.val)
		}
	}
	return nil
}

// Init checks the device id and loads the default proximity and gesture
// configuration with every engine off
func (d *APDS9960) Init() error {
	id, err := d.read(apdsID)
	if err != nil {
		return err
	}
	if !apdsKnownIDs[id] {
		return ErrUnknownDevice
	}

	d.dev.SetADCIntegrationCycles(37)
	d.dev.SetProximityPulse(16, 8)
	d.dev.SetGesturePulse(32, 10)
	d.dev.SetGains(1, 4, 4) // PGAIN 1x, GGAIN 4x, AGAIN 4x
	if err := d.verify(
		regValue{apdsATime, 219},
		regValue{apdsPPulse, 0x87},
		regValue{apdsGPulse, 0xC9},
		regValue{apdsControl, 0x01},
	); err != nil {
		return err
	}

	defaults := []regValue{
		{apdsEnable, 0x00},
		{apdsWTime, 246},
		{apdsPOffsetUR, 0},
		{apdsPOffsetDL, 0},
		{apdsConfig1, 0x60},
		{apdsPILT, 0},
		{apdsPIHT, 50},
		{apdsPers, 0x11},
		{apdsConfig2, 0x01},
		{apdsConfig3, 0x00},
		{apdsGPEnTh, 40},
		{apdsGExTh, 30},
		{apdsGConf1, 0x40},
		{apdsGConf2, 0x41}, // GGAIN 4x, GLDRIVE 100mA, GWTIME 2.8ms
		{apdsGOffsetU, 0},
		{apdsGOffsetD, 0},
		{apdsGOffsetL, 0},
		{apdsGOffsetR, 0},
		{apdsGConf3, 0x00},
		{apdsGConf4, 0x00},
	}
	for _, rv := range defaults {
		if err := d.write(rv.reg, rv.val); err != nil {
			return err
		}
	}
	return nil
}

// EnableGesture starts the gesture engine, optionally raising the INT line
// when a gesture is available
func (d *APDS9960) EnableGesture(interrupts bool) error {
	if err := d.write(apdsWTime, 0xFF); err != nil {
		return err
	}
	d.dev.SetProximityPulse(16, 10)
	d.dev.LEDBoost(300)
	if err := d.verify(
		regValue{apdsPPulse, 0x89},
		regValue{apdsConfig2, 0x01 | apdsLEDBoost300},
	); err != nil {
		return err
	}

	gconf4 := byte(apdsGMode)
	if interrupts {
		gconf4 |= apdsGIEN
	}
	if err := d.write(apdsGConf4, gconf4); err != nil {
		return err
	}
	return d.write(apdsEnable, apdsPON|apdsWEN|apdsPEN|apdsGEN)
}

// DisableGesture stops the gesture engine and its interrupt
func (d *APDS9960) DisableGesture() error {
	if err := d.write(apdsGConf4, 0x00); err != nil {
		return err
	}
	enable, err := d.read(apdsEnable)
	if err != nil {
		return err
	}
	return d.write(apdsEnable, enable&^apdsGEN)
}

// GestureAvailable reports whether the gesture FIFO holds valid data
func (d *APDS9960) GestureAvailable() (bool, error) {
	status, err := d.read(apdsGStatus)
	if err != nil {
		return false, err
	}
	return status&apdsGVald != 0, nil
}

// gestureFrame is one U/D/L/R photodiode dataset
type gestureFrame struct {
	u, d, l, r int
}

func (f gestureFrame) valid() bool {
	return f.u > gestureThreshold && f.d > gestureThreshold &&
		f.l > gestureThreshold && f.r > gestureThreshold
}

func (f gestureFrame) total() int { return f.u + f.d + f.l + f.r }

// ReadGesture drains the gesture FIFO until the engine reports no more valid
// data and classifies what it collected
func (d *APDS9960) ReadGesture() (gatt.GestureCode, error) {
	var frames []gestureFrame

	for poll := 0; poll < gestureMaxPolls; poll++ {
		d.delay.PolledWait(gestureFIFOPause)

		ok, err := d.GestureAvailable()
		if err != nil {
			return gatt.GestureNone, err
		}
		if !ok {
			break
		}

		level, err := d.read(apdsGFLevel)
		if err != nil {
			return gatt.GestureNone, err
		}
		if level == 0 {
			continue
		}

		raw := make([]byte, int(level)*4)
		if err := d.bus.ReadRegister(APDS9960Addr, apdsGFIFOU, raw); err != nil {
			return gatt.GestureNone, err
		}
		for i := 0; i+3 < len(raw); i += 4 {
			frames = append(frames, gestureFrame{
				u: int(raw[i]), d: int(raw[i+1]), l: int(raw[i+2]), r: int(raw[i+3]),
			})
		}
	}

	return classifyGesture(frames), nil
}

// classifyGesture compares the first and last frames above the noise
// threshold. Large swings of the up/down or left/right ratio are swipes;
// small swings with a change in reflected energy are near/far.
func classifyGesture(frames []gestureFrame) gatt.GestureCode {
	var first, last gestureFrame
	found := false
	for _, f := range frames {
		if !f.valid() {
			continue
		}
		if !found {
			first = f
			found = true
		}
		last = f
	}
	if !found {
		return gatt.GestureNone
	}

	ratio := func(a, b int) int { return (a - b) * 100 / (a + b) }
	udDelta := ratio(last.u, last.d) - ratio(first.u, first.d)
	lrDelta := ratio(last.l, last.r) - ratio(first.l, first.r)

	absUD, absLR := abs(udDelta), abs(lrDelta)
	switch {
	case absUD >= gestureSensitivity1 && absUD >= absLR:
		if udDelta > 0 {
			return gatt.GestureDown
		}
		return gatt.GestureUp
	case absLR >= gestureSensitivity1:
		if lrDelta > 0 {
			return gatt.GestureRight
		}
		return gatt.GestureLeft
	case absUD < gestureSensitivity2 && absLR < gestureSensitivity2:
		switch {
		case last.total() > first.total()*2:
			return gatt.GestureNear
		case first.total() > last.total()*2:
			return gatt.GestureFar
		}
	}
	return gatt.GestureNone
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
