package project

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/serialdebug/internal/fault"
)

// ErrEmitterClosed is the cause of Delivery faults from closed emitters.
var ErrEmitterClosed = errors.New("emitter closed")

// Emitter is a one-way sink for device events. A Send failure is fatal for the
// driver that produced the event.
type Emitter interface {
	Send(Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event) error

// Send calls f.
func (f EmitterFunc) Send(e Event) error {
	return f(e)
}

// WriterEmitter writes each event as one line of JSON.
type WriterEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterEmitter returns an emitter writing JSON lines to w.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{enc: json.NewEncoder(w)}
}

// Send encodes e to the writer.
func (w *WriterEmitter) Send(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(e); err != nil {
		if fault.IsKind(err, fault.Serialization) {
			return err
		}
		return fault.Wrap(fault.Delivery, err, "write event")
	}
	return nil
}

// Broadcaster fans events out to any number of subscribers. A subscriber
// that is not keeping up misses events rather than blocking the driver.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	buffer      int
	closed      bool
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold buffer
// events.
func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		buffer:      buffer,
	}
}

// Subscribe creates a new channel for receiving events. The ID identifies the
// channel when unsubscribing. Subscribing to a closed broadcaster returns a
// closed channel.
func (b *Broadcaster) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Send delivers e to every subscriber that has room for it.
func (b *Broadcaster) Send(e Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fault.Wrap(fault.Delivery, ErrEmitterClosed, "broadcast")
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// if the channel is full skip so as not to block the driver
		}
	}
	return nil
}

// Close closes all subscriber channels. Later Sends fail.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}

// Tee sends each event to every emitter in order, stopping at the first
// failure.
func Tee(emitters ...Emitter) Emitter {
	return EmitterFunc(func(e Event) error {
		for _, em := range emitters {
			if err := em.Send(e); err != nil {
				return err
			}
		}
		return nil
	})
}
