//go:build linux

package main

import (
	"github.com/srg/vitals/internal/bus"
	"tinygo.org/x/drivers"
)

func openI2C(path string) (drivers.I2C, func(), error) {
	dev, err := bus.OpenDevI2C(path)
	if err != nil {
		return nil, nil, err
	}
	return dev, func() { _ = dev.Close() }, nil
}
