package bus

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a transaction is requested while another one is
// still on the bus
var ErrBusy = errors.New("bus transaction in progress")

// ErrShortTransfer is wrapped when a backend moved fewer bytes than requested
var ErrShortTransfer = errors.New("short transfer")

// TransportError describes a failed bus transaction (NACK, arbitration loss,
// short transfer)
type TransportError struct {
	Addr uint16
	Op   string // "write", "read", "write_read"
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("i2c %s at 0x%02x: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *TransportError with the same Op; an empty Op matches all
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// ErrTransport matches every TransportError via errors.Is
var ErrTransport = &TransportError{}
