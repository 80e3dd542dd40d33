package device

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// Ref is a counted reference to a pool entry. Every Ref obtained from
// Pool.Register, Pool.Adopt or Ref.Clone must be released exactly once;
// releasing the last one tears the Device down.
//
// Ref is safe for concurrent use. Release is idempotent per Ref value.
type Ref struct {
	pool     *Pool
	id       Handle
	released atomic.Bool
}

// ID returns the handle this reference points at.
func (r *Ref) ID() Handle {
	return r.id
}

// Pool returns the pool the reference belongs to.
func (r *Ref) Pool() *Pool {
	return r.pool
}

// Clone returns a new counted reference to the same entry. Cloning a released
// reference, or one whose entry is gone, yields an already-released Ref.
func (r *Ref) Clone() *Ref {
	clone := &Ref{pool: r.pool, id: r.id}
	if r.released.Load() || !r.pool.Duplicate(r.id) {
		clone.released.Store(true)
	}
	return clone
}

// RC returns the current reference count of the entry, 0 once fully released.
func (r *Ref) RC() int {
	return r.pool.Count(r.id)
}

// Released reports whether this reference has been released.
func (r *Ref) Released() bool {
	return r.released.Load()
}

// Use runs fn against the live device. It reports false if the device is gone.
func (r *Ref) Use(fn func(*Device) error) (bool, error) {
	err, ok := WithDevice(r.pool, r.id, fn)
	return ok, err
}

// Release gives up this reference. If it was the last one the Device is
// removed from the pool and its channel is closed before Release returns; the
// close error, if any, is returned.
func (r *Ref) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return nil
	}
	return r.teardown(r.pool.Release(r.id))
}

// ReleaseIfLast releases this reference only when no other holder remains,
// closing the device. It reports whether the reference was released.
func (r *Ref) ReleaseIfLast() (bool, error) {
	if r.released.Load() {
		return false, nil
	}
	dev := r.pool.ReleaseIfLast(r.id)
	if dev == nil {
		return false, nil
	}
	r.released.Store(true)
	return true, r.teardown(dev)
}

func (r *Ref) teardown(dev *Device) error {
	if dev == nil {
		return nil
	}
	if err := dev.Close(); err != nil {
		monitoring.Logf("device %d (%s): close failed: %v", r.id, dev.Name, err)
		return fmt.Errorf("close device %d: %w", r.id, err)
	}
	monitoring.Logf("device %d (%s) closed", r.id, dev.Name)
	return nil
}

func (r *Ref) String() string {
	return fmt.Sprintf("DeviceRef(%d)", r.id)
}

// MarshalJSON encodes the reference as {"id": n}. Decoding a handle on the
// other side must go through Pool.Adopt so it is counted.
func (r *Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID Handle `json:"id"`
	}{r.id})
}
