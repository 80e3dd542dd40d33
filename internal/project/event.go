package project

import (
	"encoding/json"

	"github.com/banshee-data/serialdebug/internal/command"
	"github.com/banshee-data/serialdebug/internal/fault"
)

// EventType tags an Event on the wire.
type EventType string

const (
	EventRecRaw     EventType = "RecRaw"
	EventRecCommand EventType = "RecCommand"
	EventClose      EventType = "Close"
)

// Event is what a driver emits for one device.
type Event struct {
	Type    EventType
	Raw     []byte
	Command command.Command
}

// RawEvent carries the bytes read in one tick.
func RawEvent(b []byte) Event {
	return Event{Type: EventRecRaw, Raw: b}
}

// CommandEvent carries one parsed command.
func CommandEvent(c command.Command) Event {
	return Event{Type: EventRecCommand, Command: c}
}

// CloseEvent signals that the driver released its device.
func CloseEvent() Event {
	return Event{Type: EventClose}
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the event as {"type": ..., "data": ...}. Raw bytes are
// encoded as an array of numbers rather than base64 so that consumers in any
// language can read them without decoding.
func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventRecRaw:
		ints := make([]int, len(e.Raw))
		for i, b := range e.Raw {
			ints[i] = int(b)
		}
		data = ints
	case EventRecCommand:
		cmd := e.Command
		if cmd.Arguments == nil {
			cmd.Arguments = []string{}
		}
		data = cmd
	case EventClose:
		return json.Marshal(wireEvent{Type: e.Type})
	default:
		return nil, fault.Newf(fault.Serialization, "unknown event type %q", e.Type)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fault.Wrap(fault.Serialization, err, "encode event data")
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: raw})
}

// UnmarshalJSON decodes the MarshalJSON form.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fault.Wrap(fault.Serialization, err, "decode event")
	}

	switch w.Type {
	case EventRecRaw:
		var ints []int
		if err := json.Unmarshal(w.Data, &ints); err != nil {
			return fault.Wrap(fault.Serialization, err, "decode raw data")
		}
		raw := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fault.Newf(fault.Serialization, "raw byte %d out of range", v)
			}
			raw[i] = byte(v)
		}
		*e = RawEvent(raw)
	case EventRecCommand:
		var cmd command.Command
		if err := json.Unmarshal(w.Data, &cmd); err != nil {
			return fault.Wrap(fault.Serialization, err, "decode command")
		}
		if cmd.Arguments == nil {
			cmd.Arguments = []string{}
		}
		*e = CommandEvent(cmd)
	case EventClose:
		*e = CloseEvent()
	default:
		return fault.Newf(fault.Serialization, "unknown event type %q", w.Type)
	}
	return nil
}
