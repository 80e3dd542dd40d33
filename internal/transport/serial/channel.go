package serial

import (
	"bytes"
	"errors"
	"sync"

	"github.com/banshee-data/serialdebug/internal/monitoring"
)

// ErrClosed is returned by Channel operations after Close.
var ErrClosed = errors.New("serial port is closed")

const readChunk = 256

// Channel adapts a Port to device.Channel. go.bug.st/serial cannot report how
// many bytes are waiting, so a pump goroutine reads continuously into a
// buffer and Available reports its length.
type Channel struct {
	port Port

	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	closed bool

	wg sync.WaitGroup
}

// NewChannel starts pumping port. The channel owns port.
func NewChannel(port Port) *Channel {
	c := &Channel{port: port}
	c.wg.Add(1)
	go c.pump()
	return c
}

func (c *Channel) pump() {
	defer c.wg.Done()
	chunk := make([]byte, readChunk)
	for {
		n, err := c.port.Read(chunk)

		c.mu.Lock()
		if n > 0 {
			c.buf.Write(chunk[:n])
		}
		if err != nil && !c.closed {
			c.err = err
		}
		stop := err != nil || c.closed
		c.mu.Unlock()

		if stop {
			if err != nil {
				monitoring.Debugf("serial pump stopped: %v", err)
			}
			return
		}
	}
}

// Read drains buffered bytes. It never blocks; with nothing buffered it
// returns 0, or the error that stopped the pump.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.buf.Len() == 0 {
		return 0, c.err
	}
	return c.buf.Read(p)
}

func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return c.port.Write(p)
}

// Flush waits until written bytes have been transmitted.
func (c *Channel) Flush() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.port.Drain()
}

// Available returns the number of buffered bytes. Once the pump has stopped
// and the buffer is empty it returns the pump's error.
func (c *Channel) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if n := c.buf.Len(); n > 0 || c.err == nil {
		return n, nil
	}
	return 0, c.err
}

// Close closes the port and waits for the pump to exit.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.port.Close()
	c.wg.Wait()
	return err
}
