// Package mock provides a synthetic device that produces log lines and
// readouts without any hardware attached.
package mock

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/serialdebug/internal/device"
)

// Sort is the manager sort for mock devices.
const Sort = "mock"

// reportedAvailable is what Available always claims. It is deliberately larger
// than any single line so that readers must cope with short reads.
const reportedAvailable = 256

var errClosed = errors.New("mock channel closed")

var (
	_ device.Channel = (*Channel)(nil)
	_ device.Manager = (*Manager)(nil)
)

var (
	levels   = []string{"ERROR", "WARN", "INFO", "DEBUG"}
	files    = []string{"src/main.rs", "database/connect.ts", "api/user.rs", "core/engine.rs"}
	messages = []string{
		"Failed to establish database connection: timeout.",
		"User login attempt failed: invalid credentials.",
		"Request processed successfully.",
		"Cache hit for key: user_session_123",
		"Starting background task: data_cleanup",
		"High memory usage detected.",
	}
	components = []string{"motor_speed", "fan_level", "fan_speed", "torque", "battery_level", "ground_speed"}
)

// Config is the configuration of a mock device.
type Config struct {
	DeviceName string `json:"name"`
}

func (c Config) Name() string { return c.DeviceName }

// Serialize returns the configuration as JSON.
func (c Config) Serialize() (json.RawMessage, error) {
	return json.Marshal(c)
}

// Channel emits one synthetic line per Read. Writes are discarded.
type Channel struct {
	mu     sync.Mutex
	rng    *rand.Rand
	closed bool
}

// NewChannel returns a channel whose output is fully determined by seed.
func NewChannel(seed uint64) *Channel {
	return &Channel{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// line renders the next synthetic line. Most lines are bracketed log records;
// the rest are key = value readouts.
func (c *Channel) line() string {
	if c.rng.Float64() < 0.7 {
		level := levels[c.rng.IntN(len(levels))]
		file := files[c.rng.IntN(len(files))]
		line := 10 + c.rng.IntN(290)
		timestamp := 1678886400 + c.rng.IntN(86400)
		message := messages[c.rng.IntN(len(messages))]
		return fmt.Sprintf("[%s Time: %d File: %s Line: %d] %s\n", level, timestamp, file, line, message)
	}
	key := components[c.rng.IntN(len(components))]
	return fmt.Sprintf("%s = %v\n", key, c.rng.Float64())
}

func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClosed
	}
	return copy(p, c.line()), nil
}

func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClosed
	}
	return 0, nil
}

func (c *Channel) Flush() error { return nil }

// Available over-reports; see reportedAvailable.
func (c *Channel) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClosed
	}
	return reportedAvailable, nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Manager opens mock devices.
type Manager struct {
	mu   sync.Mutex
	seed uint64
	rng  *rand.Rand
}

// Option configures a Manager.
type Option func(*Manager)

// WithSeed makes every channel the manager opens reproducible.
func WithSeed(seed uint64) Option {
	return func(m *Manager) { m.seed = seed }
}

// NewManager returns a mock device manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{seed: uint64(time.Now().UnixNano())}
	for _, opt := range opts {
		opt(m)
	}
	m.rng = rand.New(rand.NewPCG(m.seed, 0))
	return m
}

func (m *Manager) Sort() string { return Sort }

// Open registers a new mock device in pool.
func (m *Manager) Open(pool *device.Pool, raw json.RawMessage) (*device.Ref, error) {
	var cfg Config
	if err := device.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	m.mu.Lock()
	seed := m.rng.Uint64()
	m.mu.Unlock()

	return pool.Register(device.New(cfg.DeviceName, NewChannel(seed), cfg)), nil
}

// Available always lists a single instance.
func (m *Manager) Available() []string {
	return []string{Sort}
}
