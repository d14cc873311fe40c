package sensor

import (
	"errors"
	"fmt"
)

var (
	ErrShortRead      = errors.New("short sensor read")
	ErrUnknownDevice  = errors.New("unexpected device id")
	ErrNotEnabled     = errors.New("sensor not enabled")
	ErrConfigMismatch = errors.New("sensor configuration readback mismatch")
)

func errShortRead(got, want int) error {
	return fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, got, want)
}
