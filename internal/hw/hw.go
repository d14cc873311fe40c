// Package hw connects the node to its GPIO lines: buttons A and B, the
// gesture sensor interrupt and the RESET/MFIO pins of the pulse hub.
package hw

import "errors"

// ErrUnsupported is returned on platforms without the GPIO character device
var ErrUnsupported = errors.New("hw: gpio is only available on linux")

// Inputs receives the edges of the input lines. The event dispatcher
// implements it.
type Inputs interface {
	OnButtonA(pressed bool)
	OnButtonB(pressed bool)
	OnAuxEdge()
}
