//go:build linux

package tty

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// ErrClosed is returned by Channel operations after Close.
var ErrClosed = errors.New("tty is closed")

var (
	_ device.Channel = (*Channel)(nil)
	_ device.Manager = (*Manager)(nil)
)

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// Channel is a raw, non-blocking terminal file descriptor.
type Channel struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// Open opens path in raw mode at baud.
func Open(path string, baud int) (*Channel, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	termios.Ispeed = speed
	termios.Ospeed = speed
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}
	return &Channel{fd: fd}, nil
}

// Read returns whatever is waiting. An empty input queue is not an error.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	n, err := unix.Read(c.fd, p)
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Flush waits until the output queue has been transmitted (tcdrain).
func (c *Channel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return unix.IoctlSetInt(c.fd, unix.TCSBRK, 1)
}

// Available returns the size of the kernel input queue.
func (c *Channel) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	return unix.IoctlGetInt(c.fd, unix.TIOCINQ)
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// Manager opens tty devices.
type Manager struct {
	patterns []string
}

// NewManager returns a manager that discovers the usual USB and onboard
// serial device nodes.
func NewManager() *Manager {
	return &Manager{patterns: discoveryPatterns}
}

func (m *Manager) Sort() string { return Sort }

// Open opens the device named in raw and registers it in pool.
func (m *Manager) Open(pool *device.Pool, raw json.RawMessage) (*device.Ref, error) {
	var cfg Config
	if err := device.DecodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.DeviceName == "" {
		return nil, fault.New(fault.Config, "missing tty name")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if _, ok := baudRates[cfg.BaudRate]; !ok {
		return nil, fault.Newf(fault.Config, "unsupported baud rate %d", cfg.BaudRate)
	}

	ch, err := Open(cfg.DeviceName, cfg.BaudRate)
	if err != nil {
		return nil, fault.Wrap(fault.IO, err, "Failed to open tty")
	}
	monitoring.Logf("opened tty %s at %d baud", cfg.DeviceName, cfg.BaudRate)
	return pool.Register(device.New(cfg.DeviceName, ch, cfg)), nil
}

// Available lists device nodes matching the discovery patterns.
func (m *Manager) Available() []string {
	return glob(m.patterns)
}
