//go:build !linux

package tty

import (
	"encoding/json"

	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/fault"
)

// Manager is unavailable off Linux; Open always fails.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Sort() string { return Sort }

func (m *Manager) Open(*device.Pool, json.RawMessage) (*device.Ref, error) {
	return nil, fault.New(fault.IO, "tty devices are only supported on linux")
}

func (m *Manager) Available() []string { return []string{} }
