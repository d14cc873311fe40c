//go:build linux

package bus

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h
const i2cSlave = 0x0703

// DevI2C drives a Linux /dev/i2c-N character device. It satisfies
// drivers.I2C so it can back a Sequencer directly.
type DevI2C struct {
	mu   sync.Mutex
	path string
	fd   int
	addr int
}

// OpenDevI2C opens the bus character device at path
func OpenDevI2C(path string) (*DevI2C, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DevI2C{path: path, fd: fd, addr: -1}, nil
}

// Tx writes w and then reads len(r) bytes from the device at addr
func (d *DevI2C) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.addr != int(addr) {
		if err := unix.IoctlSetInt(d.fd, i2cSlave, int(addr)); err != nil {
			return fmt.Errorf("%s: select 0x%02x: %w", d.path, addr, err)
		}
		d.addr = int(addr)
	}

	if len(w) > 0 {
		n, err := unix.Write(d.fd, w)
		if err != nil {
			return fmt.Errorf("%s: write: %w", d.path, err)
		}
		if n != len(w) {
			return fmt.Errorf("%s: wrote %d of %d bytes: %w", d.path, n, len(w), ErrShortTransfer)
		}
	}

	if len(r) > 0 {
		n, err := unix.Read(d.fd, r)
		if err != nil {
			return fmt.Errorf("%s: read: %w", d.path, err)
		}
		if n != len(r) {
			return fmt.Errorf("%s: read %d of %d bytes: %w", d.path, n, len(r), ErrShortTransfer)
		}
	}
	return nil
}

// Close releases the character device
func (d *DevI2C) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
