package device

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/banshee-data/serialdebug/internal/fault"
)

// Manager constructs devices for one transport family. Managers are opaque
// factories keyed by Sort.
type Manager interface {
	// Sort identifies the transport family, for example "serial" or "mock".
	Sort() string
	// Open decodes raw into the family's configuration, opens the transport
	// and registers the resulting Device in pool.
	Open(pool *Pool, raw json.RawMessage) (*Ref, error)
	// Available lists discoverable instances.
	Available() []string
}

// Managers is the registry of device managers by sort, bound to one pool.
type Managers struct {
	pool *Pool

	mu     sync.RWMutex
	bySort map[string]Manager
}

// NewManagers creates a registry that opens devices into pool.
func NewManagers(pool *Pool, managers ...Manager) *Managers {
	m := &Managers{
		pool:   pool,
		bySort: make(map[string]Manager),
	}
	for _, mgr := range managers {
		m.Register(mgr)
	}
	return m
}

// Pool returns the pool devices are registered into.
func (m *Managers) Pool() *Pool {
	return m.pool
}

// Register adds mgr, replacing any manager with the same sort.
func (m *Managers) Register(mgr Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySort[mgr.Sort()] = mgr
}

// Get returns the manager for sort.
func (m *Managers) Get(sort string) (Manager, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mgr, ok := m.bySort[sort]
	return mgr, ok
}

// Open opens a device with the manager registered for sort.
func (m *Managers) Open(sort string, raw json.RawMessage) (*Ref, error) {
	mgr, ok := m.Get(sort)
	if !ok {
		return nil, fault.Newf(fault.UnknownResource, "unknown device type %q", sort)
	}
	return mgr.Open(m.pool, raw)
}

// Available lists instances for sort; an unknown sort yields nothing.
func (m *Managers) Available(sort string) []string {
	mgr, ok := m.Get(sort)
	if !ok {
		return []string{}
	}
	return mgr.Available()
}

// Sorts returns the registered sorts in lexical order.
func (m *Managers) Sorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sorts := make([]string, 0, len(m.bySort))
	for s := range m.bySort {
		sorts = append(sorts, s)
	}
	sort.Strings(sorts)
	return sorts
}

// DecodeConfig unmarshals a manager's raw configuration into v, classifying
// failures as configuration faults.
func DecodeConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fault.New(fault.Config, "the config passed to this handler is empty")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Wrap(fault.Config, err, "the config passed to this handler is not valid")
	}
	return nil
}
