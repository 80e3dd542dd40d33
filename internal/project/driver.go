// Package project connects open devices to event consumers.
//
// A Driver is the scheduler task that pumps one device: each tick it drains
// the bytes the device has available, emits them raw, parses them into
// commands and emits those too. Drivers hold their own reference to the
// device and only begin polling once a second holder (a project, an API
// client) has attached; when that holder lets go the driver closes the device
// and removes itself.
package project

import (
	"io"

	"github.com/banshee-data/serialdebug/internal/command"
	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/drive"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// Driver is a drive.Task that pumps one device into an Emitter.
type Driver struct {
	emitter Emitter
	parser  *command.Parser
	ref     *device.Ref
	driving bool
	done    bool
}

var (
	_ drive.Task = (*Driver)(nil)
	_ io.Closer  = (*Driver)(nil)
)

// NewDriver returns a driver that owns ref. The driver releases ref itself
// when it finishes, on every exit path.
func NewDriver(ref *device.Ref, emitter Emitter, opts ...command.Option) *Driver {
	return &Driver{
		emitter: emitter,
		parser:  command.NewParser(opts...),
		ref:     ref,
	}
}

// Handle returns the handle of the driven device.
func (d *Driver) Handle() device.Handle {
	return d.ref.ID()
}

// Driving reports whether polling has begun.
func (d *Driver) Driving() bool {
	return d.driving
}

// Drive runs one tick. See the package documentation for the lifecycle.
func (d *Driver) Drive() (bool, error) {
	if d.done {
		return false, nil
	}

	rc := d.ref.RC()
	if rc == 0 {
		// the entry is gone; nothing left to poll
		return false, d.finish()
	}
	if rc > 1 && !d.driving {
		d.driving = true
		monitoring.Logf("driver %d: second holder attached, polling", d.ref.ID())
	}

	if d.driving {
		released, err := d.ref.ReleaseIfLast()
		if err != nil {
			monitoring.Logf("driver %d: %v", d.ref.ID(), err)
		}
		if released {
			monitoring.Logf("driver %d: last holder detached, device closed", d.ref.ID())
			return false, d.finish()
		}
	}

	if !d.driving {
		return true, nil
	}

	var content []byte
	ok, err := d.ref.Use(func(dev *device.Device) error {
		var err error
		content, err = dev.ReadAvailable()
		return err
	})
	if err != nil || !ok {
		if err != nil {
			monitoring.Logf("driver %d: %v", d.ref.ID(), err)
		}
		return false, d.finish()
	}

	d.parser.Feed(content)
	if err := d.send(RawEvent(content)); err != nil {
		return false, err
	}
	for _, cmd := range d.parser.Drain() {
		if err := d.send(CommandEvent(cmd)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Close stops a driver that will not be ticked again, releasing its reference
// and emitting Close. It is a no-op once the driver has finished.
func (d *Driver) Close() error {
	if d.done {
		return nil
	}
	return d.finish()
}

// finish releases the driver's reference and emits Close.
func (d *Driver) finish() error {
	d.done = true
	if err := d.ref.Release(); err != nil {
		monitoring.Logf("driver %d: %v", d.ref.ID(), err)
	}
	if err := d.emitter.Send(CloseEvent()); err != nil {
		return fault.Wrap(fault.Delivery, err, "Failed to send message through channel")
	}
	return nil
}

// send emits e, releasing the device if the emitter has failed.
func (d *Driver) send(e Event) error {
	if err := d.emitter.Send(e); err != nil {
		d.done = true
		if rerr := d.ref.Release(); rerr != nil {
			monitoring.Logf("driver %d: %v", d.ref.ID(), rerr)
		}
		return fault.Wrap(fault.Delivery, err, "Failed to send message through channel")
	}
	return nil
}
