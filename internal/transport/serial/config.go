package serial

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 115200
	DefaultTimeout  = time.Millisecond
)

// Config describes a serial device. Zero values are replaced with defaults by
// Normalize.
type Config struct {
	DeviceName string `json:"name"`
	BaudRate   int    `json:"baud_rate"`
	// Timeout is the read timeout in milliseconds.
	Timeout  int    `json:"timeout"`
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty"`
}

func (c Config) Name() string { return c.DeviceName }

// Serialize returns the configuration as JSON.
func (c Config) Serialize() (json.RawMessage, error) {
	return json.Marshal(c)
}

// ReadTimeout returns Timeout as a duration, or DefaultTimeout if unset.
func (c Config) ReadTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// Normalize validates the options and applies defaults for any unset values.
func (c Config) Normalize() (Config, error) {
	opts := c

	if strings.TrimSpace(opts.DeviceName) == "" {
		return opts, fmt.Errorf("missing port name")
	}

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	if opts.Timeout < 0 {
		return opts, fmt.Errorf("invalid timeout %dms", opts.Timeout)
	}
	return opts, nil
}

// Mode converts the configuration into the serial.Mode used to open the port.
func (c Config) Mode() (*serial.Mode, error) {
	opts, err := c.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}
