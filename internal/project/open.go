package project

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/serialdebug/internal/command"
	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/drive"
	"github.com/banshee-data/serialdebug/internal/fault"
)

// OpenDevice opens a device of the given sort and registers a Driver for it on
// sched. The returned reference belongs to the caller and is the second holder
// that starts the driver polling; releasing it (directly or by closing the
// project holding it) stops the driver and closes the device.
func OpenDevice(managers *device.Managers, sched *drive.Scheduler, sort string, raw json.RawMessage, emitter Emitter, opts ...command.Option) (*device.Ref, error) {
	ref, err := managers.Open(sort, raw)
	if err != nil {
		return nil, err
	}

	driver := NewDriver(ref.Clone(), emitter, opts...)
	if err := sched.Register(driver); err != nil {
		_ = driver.ref.Release()
		_ = ref.Release()
		return nil, fault.Wrap(fault.Delivery, err, fmt.Sprintf("register driver for %s device", sort))
	}
	return ref, nil
}
