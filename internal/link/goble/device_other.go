//go:build !linux && !darwin

package goble

import "github.com/go-ble/ble"

func newPlatformDevice(...ble.Option) (ble.Device, error) {
	return nil, ErrUnsupported
}
