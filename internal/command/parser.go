package command

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

const (
	frameStart = '['
	frameEnd   = ']'
)

// Parser is a streaming tokenizer. Feed it bytes as they arrive and drain it
// by calling Next until it reports false. A Parser is not safe for concurrent
// use; each device driver owns one.
type Parser struct {
	buf     []byte
	inFrame bool
	maxSize int
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxFrameSize bounds the interior of an open frame. When more than n
// bytes arrive without a closing bracket the partial frame is dropped and the
// parser waits for the next '['. Zero disables the bound.
func WithMaxFrameSize(n int) Option {
	return func(p *Parser) {
		p.maxSize = n
	}
}

// NewParser returns an empty parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed appends b to the parse buffer.
func (p *Parser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Buffered returns the number of unconsumed bytes.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Next extracts the next complete frame.
//
// Leading bytes before '[' are discarded; if no '[' is buffered the whole
// buffer is discarded. Once '[' has been consumed the parser stays inside the
// frame across calls and feeds until ']' arrives. A frame whose interior is
// not valid UTF-8, or exceeds the maximum frame size, is consumed and dropped.
func (p *Parser) Next() (Command, bool) {
	if !p.inFrame {
		start := bytes.IndexByte(p.buf, frameStart)
		if start < 0 {
			p.reset()
			return Command{}, false
		}
		p.consume(start + 1)
		p.inFrame = true
	}

	end := bytes.IndexByte(p.buf, frameEnd)
	if end < 0 {
		if p.maxSize > 0 && len(p.buf) > p.maxSize {
			p.reset()
			p.inFrame = false
		}
		return Command{}, false
	}

	interior := p.buf[:end]
	p.inFrame = false
	if !utf8.Valid(interior) || (p.maxSize > 0 && len(interior) > p.maxSize) {
		p.consume(end + 1)
		return Command{}, false
	}

	cmd := split(string(interior))
	p.consume(end + 1)
	return cmd, true
}

// Drain returns every complete frame currently buffered, in order.
func (p *Parser) Drain() []Command {
	var cmds []Command
	for {
		cmd, ok := p.Next()
		if !ok {
			// An invalid frame also reports false; keep going while whole
			// frames remain so one bad frame does not stall the rest.
			if !p.hasFrame() {
				return cmds
			}
			continue
		}
		cmds = append(cmds, cmd)
	}
}

// hasFrame reports whether a complete frame may still be buffered.
func (p *Parser) hasFrame() bool {
	if p.inFrame {
		return bytes.IndexByte(p.buf, frameEnd) >= 0
	}
	start := bytes.IndexByte(p.buf, frameStart)
	return start >= 0 && bytes.IndexByte(p.buf[start:], frameEnd) >= 0
}

func (p *Parser) consume(n int) {
	p.buf = p.buf[n:]
	if len(p.buf) == 0 {
		p.buf = p.buf[:0:0]
	}
}

func (p *Parser) reset() {
	p.buf = p.buf[:0]
}

func split(s string) Command {
	parts := strings.Split(s, " ")
	return Command{
		Action:    parts[0],
		Arguments: append([]string{}, parts[1:]...),
	}
}
