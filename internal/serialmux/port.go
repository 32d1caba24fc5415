package serialmux

import "io"

// SerialPorter is the minimal surface of a serial port. It lets the mux run
// over real hardware, a replay file or a test double.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
