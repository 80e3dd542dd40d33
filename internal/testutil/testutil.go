// Package testutil provides shared test utilities and fixtures.
//
// FakeChannel satisfies device.Channel structurally so that any package can
// use it without this package importing the device runtime.
package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ErrChannelClosed is returned by FakeChannel operations after Close.
var ErrChannelClosed = errors.New("fake channel closed")

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// LocalRequest creates a test request that appears to come from localhost,
// which tsweb debug handlers require.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// FakeChannel is an in-memory transport with injectable failures.
type FakeChannel struct {
	mu sync.Mutex

	in  bytes.Buffer
	out bytes.Buffer

	// OverReport is added to Available to mimic transports whose count is
	// not reliable.
	OverReport int

	ReadErr      error
	WriteErr     error
	AvailableErr error
	CloseErr     error

	closed     bool
	closeCalls int
	reads      int
	flushes    int
}

// NewFakeChannel returns a channel preloaded with input.
func NewFakeChannel(input string) *FakeChannel {
	c := &FakeChannel{}
	c.in.WriteString(input)
	return c
}

// Feed appends bytes the device side will read.
func (c *FakeChannel) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(p)
}

func (c *FakeChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.closed {
		return 0, ErrChannelClosed
	}
	if c.ReadErr != nil {
		return 0, c.ReadErr
	}
	if c.in.Len() == 0 {
		return 0, nil
	}
	return c.in.Read(p)
}

func (c *FakeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrChannelClosed
	}
	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	return c.out.Write(p)
}

func (c *FakeChannel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.flushes++
	return nil
}

func (c *FakeChannel) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrChannelClosed
	}
	if c.AvailableErr != nil {
		return 0, c.AvailableErr
	}
	n := c.in.Len()
	if n > 0 {
		n += c.OverReport
	}
	return n, nil
}

func (c *FakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCalls++
	return c.CloseErr
}

// Written returns everything written so far.
func (c *FakeChannel) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// CloseCalls returns how many times Close was called.
func (c *FakeChannel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// Reads returns how many times Read was called.
func (c *FakeChannel) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Flushes returns how many times Flush succeeded.
func (c *FakeChannel) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// FakeConfig is a minimal device configuration.
type FakeConfig struct {
	DeviceName string `json:"name"`
}

func (c FakeConfig) Name() string { return c.DeviceName }

// Serialize returns the configuration as JSON.
func (c FakeConfig) Serialize() (json.RawMessage, error) {
	return json.Marshal(c)
}
