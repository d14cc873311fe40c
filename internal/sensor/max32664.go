package sensor

import "fmt"

// MAX32664Addr is the biometric sensor hub bus address
const MAX32664Addr = 0x55

// ReadbackLen is the size of every hub response block
const ReadbackLen = 8

// hubStatusSuccess is the first readback byte of an accepted command
const hubStatusSuccess = 0x00

// Sensor hub command frames: family, index, data...
var (
	cmdReadDeviceMode  = []byte{0x02, 0x00}
	cmdOutputAlgoData  = []byte{0x10, 0x00, 0x02}
	cmdFIFOThreshold   = []byte{0x10, 0x01, 0x01}
	cmdAGCEnable       = []byte{0x52, 0x00, 0x01}
	cmdMAX30101Enable  = []byte{0x44, 0x03, 0x01}
	cmdFastAlgoEnable  = []byte{0x52, 0x02, 0x01}
	cmdReadAlgoSamples = []byte{0x51, 0x00, 0x03}
	cmdHubStatus       = []byte{0x00, 0x00}
	cmdSamplesInFIFO   = []byte{0x12, 0x00}
	cmdReadFIFOData    = []byte{0x12, 0x01}
	cmdMAX30101Disable = []byte{0x44, 0x03, 0x00}
	cmdFastAlgoDisable = []byte{0x52, 0x02, 0x00}
)

// AlgoStatus is the finger detection status reported in byte 6 of a sample
type AlgoStatus uint8

const (
	AlgoSuccess AlgoStatus = iota
	AlgoNotReady
	AlgoObject
	AlgoFinger
)

func (s AlgoStatus) String() string {
	switch s {
	case AlgoSuccess:
		return "success"
	case AlgoNotReady:
		return "not-ready"
	case AlgoObject:
		return "object-detected"
	case AlgoFinger:
		return "finger-detected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// PulseSample is one decoded algorithm record
type PulseSample struct {
	HeartRate  uint16 // beats per minute
	Confidence uint8
	SpO2       uint16 // percent
	Status     AlgoStatus
}

// Valid reports whether the finger was in place for this sample
func (s PulseSample) Valid() bool { return s.Status == AlgoFinger }

// ParsePulseSample decodes a readback block: byte 0 is the hub status,
// bytes 1-2 heart rate x10, byte 3 confidence, bytes 4-5 SpO2 x10 and byte 6
// the algorithm status.
func ParsePulseSample(b []byte) (PulseSample, error) {
	if len(b) < 7 {
		return PulseSample{}, errShortRead(len(b), 7)
	}
	return PulseSample{
		HeartRate:  (uint16(b[1])<<8 | uint16(b[2])) / 10,
		Confidence: b[3],
		SpO2:       (uint16(b[4])<<8 | uint16(b[5])) / 10,
		Status:     AlgoStatus(b[6]),
	}, nil
}

// EncodePulseSample builds the readback block for a sample
func EncodePulseSample(s PulseSample) []byte {
	hr := s.HeartRate * 10
	o2 := s.SpO2 * 10
	return []byte{
		hubStatusSuccess,
		byte(hr >> 8), byte(hr),
		s.Confidence,
		byte(o2 >> 8), byte(o2),
		byte(s.Status),
		0x00,
	}
}
