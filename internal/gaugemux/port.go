package gaugemux

import "io"

// GaugePorter defines the minimal interface needed for a gauge port.
// This abstraction enables unit testing without real serial hardware.
type GaugePorter interface {
	io.ReadWriter
	io.Closer
}
