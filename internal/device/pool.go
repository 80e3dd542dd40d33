package device

import (
	"sort"
	"sync"

	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// Handle is an opaque identifier of a pool entry. Holding a Handle does not by
// itself grant ownership; ownership is expressed by a Ref.
type Handle uint64

// Pool is the sole authority over device lifetime. It maps handles to a live
// Device and the number of outstanding Refs to it.
//
// A single mutex guards the whole table. WithDevice holds that mutex while fn
// runs, so a slow device read serialises every other pool operation for its
// duration. Compound operations such as ReleaseIfLast rely on this to stay
// atomic.
type Pool struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*entry
}

type entry struct {
	device *Device
	refs   int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[Handle]*entry)}
}

// Register takes ownership of dev under a freshly minted handle and returns
// the first reference to it (reference count 1).
func (p *Pool) Register(dev *Device) *Ref {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	p.entries[id] = &entry{device: dev, refs: 1}

	monitoring.Debugf("Device (%d), registered %q", id, dev.Name)
	return &Ref{pool: p, id: id}
}

// Duplicate increments the reference count of id. It reports false, and does
// nothing, when id is unknown.
func (p *Pool) Duplicate(id Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return false
	}
	e.refs++
	monitoring.Debugf("Device (%d), new RC: %d", id, e.refs)
	return true
}

// Release decrements the reference count of id. When the count reaches zero
// the entry is removed and its Device is returned so the caller can tear it
// down; otherwise Release returns nil. Unknown ids are ignored.
func (p *Pool) Release(id Handle) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return nil
	}
	e.refs--
	monitoring.Debugf("Device (%d), new RC: %d", id, e.refs)
	if e.refs > 0 {
		return nil
	}
	delete(p.entries, id)
	return e.device
}

// ReleaseIfLast removes id and returns its Device only if exactly one
// reference is outstanding. The check and the removal happen under one lock
// acquisition.
func (p *Pool) ReleaseIfLast(id Handle) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok || e.refs != 1 {
		return nil
	}
	delete(p.entries, id)
	monitoring.Debugf("Device (%d), new RC: 0", id)
	return e.device
}

// Count returns the reference count of id, 0 if unknown.
func (p *Pool) Count(id Handle) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[id]; ok {
		return e.refs
	}
	return 0
}

// Name returns the name of the device registered under id.
func (p *Pool) Name(id Handle) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[id]; ok && e.device != nil {
		return e.device.Name, true
	}
	return "", false
}

// Live returns, in ascending order, the handles that have outstanding
// references and a present Device.
func (p *Pool) Live() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]Handle, 0, len(p.entries))
	for id, e := range p.entries {
		if e.refs > 0 && e.device != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of entries in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Adopt reconstructs a reference for an existing handle, for example one that
// crossed a process or API boundary as a bare integer. The new reference is
// counted; it reports false if id is unknown.
func (p *Pool) Adopt(id Handle) (*Ref, bool) {
	if !p.Duplicate(id) {
		return nil, false
	}
	return &Ref{pool: p, id: id}, true
}

// WithDevice runs fn against the live device registered under id while
// holding the pool lock. It reports false without calling fn if id is unknown
// or its device slot is empty.
func WithDevice[T any](p *Pool, id Handle, fn func(*Device) T) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	e, ok := p.entries[id]
	if !ok || e.device == nil {
		return zero, false
	}
	return fn(e.device), true
}
