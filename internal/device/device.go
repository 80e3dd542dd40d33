package device

import (
	"sync"

	"github.com/banshee-data/serialdebug/internal/fault"
)

// Device owns one Channel and the configuration it was opened with. Devices are
// created by a Manager and destroyed by the Pool when the last reference to
// them is released; callers reach them only through Pool.WithDevice or
// Ref.Use, which serialise access.
type Device struct {
	Name string

	channel Channel
	config  Config

	closeOnce sync.Once
	closeErr  error
}

// New assembles a Device. The Device takes ownership of ch.
func New(name string, ch Channel, cfg Config) *Device {
	return &Device{
		Name:    name,
		channel: ch,
		config:  cfg,
	}
}

// Config returns the configuration the device was opened with.
func (d *Device) Config() Config {
	return d.config
}

// Read reads from the underlying channel.
func (d *Device) Read(p []byte) (int, error) {
	n, err := d.channel.Read(p)
	if err != nil {
		return n, fault.Wrap(fault.IO, err, "read "+d.Name)
	}
	return n, nil
}

// Write writes to the underlying channel.
func (d *Device) Write(p []byte) (int, error) {
	n, err := d.channel.Write(p)
	if err != nil {
		return n, fault.Wrap(fault.IO, err, "write "+d.Name)
	}
	return n, nil
}

// Flush flushes the underlying channel.
func (d *Device) Flush() error {
	return fault.Wrap(fault.IO, d.channel.Flush(), "flush "+d.Name)
}

// Available reports the number of bytes that can be read without blocking.
func (d *Device) Available() (int, error) {
	n, err := d.channel.Available()
	if err != nil {
		return 0, fault.Wrap(fault.IO, err, "available "+d.Name)
	}
	return n, nil
}

// ReadAvailable reads whatever the channel reports as available. Some
// transports over-report, so the result is truncated to what was actually
// read. Zero available bytes is not an error and yields an empty slice.
func (d *Device) ReadAvailable() ([]byte, error) {
	available, err := d.Available()
	if err != nil {
		return nil, err
	}
	if available == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, available)
	n, err := d.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Close closes the channel. Only the first call reaches the transport.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.channel.Close()
	})
	return d.closeErr
}
