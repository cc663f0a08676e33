package gaugemux

import (
	"go.bug.st/serial"
)

// NewRealGaugeMux creates a GaugeMux instance backed by a real serial port at
// the given path using the provided serial options.
func NewRealGaugeMux(path string, opts PortOptions) (*GaugeMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewGaugeMux[serial.Port](port), nil
}
