package main

import (
	"errors"
	"strings"

	"github.com/srg/vitals/internal/core"
	"github.com/srg/vitals/internal/hw"
	"github.com/srg/vitals/internal/link/goble"
)

var errNoI2C = errors.New("i2c bus is only available on linux")

// FormatUserError adds a hint to the errors a user can act on
func FormatUserError(err error) string {
	msg := err.Error()
	var hint string
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		hint = "turn Bluetooth on and check adapter permissions"
	case errors.Is(err, hw.ErrUnsupported), errors.Is(err, errNoI2C):
		hint = "the run command needs a Linux board; try \"vitals simulate\""
	case errors.Is(err, core.ErrWrongRole):
		hint = "check the role in the configuration"
	}
	if hint == "" {
		return msg
	}
	return strings.TrimSpace(msg) + " (" + hint + ")"
}
