package device

import (
	"encoding/json"
	"io"
)

// Channel is the byte-level boundary over a physical or virtual transport.
// A Channel is owned by exactly one Device and is closed when that Device is
// torn down.
type Channel interface {
	io.Reader
	io.Writer
	// Flush blocks until buffered output has been transmitted.
	Flush() error
	// Available reports how many bytes can be read without blocking.
	Available() (int, error)
	// Close releases the transport. Reads and writes after Close fail.
	Close() error
}

// Config is the transport-specific configuration a Device was opened with.
type Config interface {
	Name() string
	Serialize() (json.RawMessage, error)
}
