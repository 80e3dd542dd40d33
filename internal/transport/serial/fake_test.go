package serial

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

var errPortClosed = errors.New("port closed")

// fakePort is a Port with scripted input. Reads honour the read timeout so the
// pump does not spin.
type fakePort struct {
	mu sync.Mutex

	input   bytes.Buffer
	written bytes.Buffer
	timeout time.Duration

	readErr    error
	timeoutErr error
	closed     bool
	drains     int
}

func newFakePort(input string) *fakePort {
	p := &fakePort{timeout: time.Millisecond}
	p.input.WriteString(input)
	return p
}

func (p *fakePort) feed(b string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input.WriteString(b)
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if p.input.Len() > 0 {
		defer p.mu.Unlock()
		return p.input.Read(b)
	}
	timeout := p.timeout
	p.mu.Unlock()

	time.Sleep(timeout)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeoutErr != nil {
		return p.timeoutErr
	}
	p.timeout = t
	return nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drains++
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener records Open calls and hands out port.
type fakeOpener struct {
	port  *fakePort
	err   error
	paths []string
	modes []*serial.Mode
}

func (o *fakeOpener) open(path string, mode *serial.Mode) (Port, error) {
	o.paths = append(o.paths, path)
	o.modes = append(o.modes, mode)
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}
