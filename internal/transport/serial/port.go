package serial

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port the channel needs. It lets tests run
// without hardware.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
	Drain() error
}

// Opener opens the port at path.
type Opener func(path string, mode *serial.Mode) (Port, error)

// Lister enumerates port paths.
type Lister func() ([]string, error)

// OpenPort opens a real serial port.
func OpenPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}
