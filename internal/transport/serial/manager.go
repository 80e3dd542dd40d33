// Package serial opens devices on serial ports through go.bug.st/serial.
package serial

import (
	"encoding/json"
	"sort"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// Sort is the manager sort for serial devices.
const Sort = "serial"

var (
	_ device.Channel = (*Channel)(nil)
	_ device.Manager = (*Manager)(nil)
)

// Manager opens serial devices.
type Manager struct {
	open Opener
	list Lister

	baudRate int
	timeout  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces the function used to open ports.
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithLister replaces the function used to enumerate ports.
func WithLister(list Lister) Option {
	return func(m *Manager) { m.list = list }
}

// WithDefaults sets the baud rate and read timeout used when a device
// configuration leaves them unset.
func WithDefaults(baudRate int, timeout time.Duration) Option {
	return func(m *Manager) {
		m.baudRate = baudRate
		m.timeout = timeout
	}
}

// NewManager returns a manager for real serial ports.
func NewManager(opts ...Option) *Manager {
	m := &Manager{open: OpenPort, list: serial.GetPortsList}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Sort() string { return Sort }

// Open opens the port named in raw and registers it in pool.
func (m *Manager) Open(pool *device.Pool, raw json.RawMessage) (*device.Ref, error) {
	var cfg Config
	if err := device.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = m.baudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = int(m.timeout / time.Millisecond)
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "invalid serial configuration")
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "invalid serial configuration")
	}

	port, err := m.open(cfg.DeviceName, mode)
	if err != nil {
		return nil, fault.Wrap(fault.IO, err, "Failed to open serial port")
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout()); err != nil {
		port.Close()
		return nil, fault.Wrap(fault.IO, err, "Failed to set serial read timeout")
	}

	monitoring.Logf("opened serial port %s at %d baud", cfg.DeviceName, cfg.BaudRate)
	return pool.Register(device.New(cfg.DeviceName, NewChannel(port), cfg)), nil
}

// Available lists the serial ports present on the system. Enumeration
// failures yield an empty list.
func (m *Manager) Available() []string {
	ports, err := m.list()
	if err != nil {
		monitoring.Logf("failed to list serial ports: %v", err)
		return []string{}
	}
	if ports == nil {
		return []string{}
	}
	sort.Strings(ports)
	return ports
}
