//go:build !linux

package main

import (
	"fmt"

	"tinygo.org/x/drivers"
)

func openI2C(path string) (drivers.I2C, func(), error) {
	return nil, nil, fmt.Errorf("%w: %s", errNoI2C, path)
}
