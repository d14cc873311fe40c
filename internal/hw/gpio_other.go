//go:build !linux

package hw

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/vitals/pkg/config"
)

// GPIO is unavailable off linux
type GPIO struct{}

func Open(config.GPIOConfig, Inputs, *logrus.Logger) (*GPIO, error) {
	return nil, ErrUnsupported
}

func (g *GPIO) SetReset(bool) error { return ErrUnsupported }
func (g *GPIO) SetMFIO(bool) error  { return ErrUnsupported }
func (g *GPIO) Close()              {}
