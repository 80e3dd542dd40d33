package project

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialdebug/internal/fault"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterEmitter(t *testing.T) {
	var buf bytes.Buffer
	em := NewWriterEmitter(&buf)

	require.NoError(t, em.Send(RawEvent([]byte{1, 2})))
	require.NoError(t, em.Send(CloseEvent()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		`{"type":"RecRaw","data":[1,2]}`,
		`{"type":"Close"}`,
	}, lines)
}

func TestWriterEmitter_Failures(t *testing.T) {
	err := NewWriterEmitter(failingWriter{}).Send(CloseEvent())
	assert.True(t, fault.IsKind(err, fault.Delivery), "err = %v", err)

	var buf bytes.Buffer
	err = NewWriterEmitter(&buf).Send(Event{Type: "Reboot"})
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(2)

	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, b.Subscribers())

	require.NoError(t, b.Send(CloseEvent()))
	assert.Equal(t, CloseEvent(), <-ch1)
	assert.Equal(t, CloseEvent(), <-ch2)

	b.Unsubscribe(id2)
	_, open := <-ch2
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
	b.Unsubscribe("no-such-subscriber")

	require.NoError(t, b.Close())
	_, open = <-ch1
	assert.False(t, open)
	require.NoError(t, b.Close())

	err := b.Send(CloseEvent())
	assert.True(t, fault.IsKind(err, fault.Delivery))
	assert.ErrorIs(t, err, ErrEmitterClosed)

	_, late := b.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(1)
	defer b.Close()
	_, ch := b.Subscribe()

	for range 5 {
		require.NoError(t, b.Send(RawEvent([]byte{0})))
	}
	assert.Len(t, ch, 1)
}

func TestTee(t *testing.T) {
	var first, second recorder
	broken := EmitterFunc(func(Event) error { return errors.New("nope") })

	require.NoError(t, Tee(&first, &second).Send(CloseEvent()))
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)

	err := Tee(&first, broken, &second).Send(CloseEvent())
	assert.Error(t, err)
	assert.Len(t, first.Events(), 2)
	assert.Len(t, second.Events(), 1, "emitters after a failure are skipped")
}
