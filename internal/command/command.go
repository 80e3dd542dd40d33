// Package command extracts bracket-delimited command records from a byte
// stream.
//
// A frame is '[' action (' ' argument)* ']'. There is no escaping: brackets and
// spaces cannot appear inside tokens. Bytes outside frames are discarded,
// which lets a reader synchronise part way through output from firmware that
// was already running.
package command

import (
	"fmt"
	"strings"
)

// Command is one parsed frame.
type Command struct {
	Action    string   `json:"action"`
	Arguments []string `json:"arguments"`
}

func (c Command) String() string {
	return fmt.Sprintf("Command [%s -> %s]", c.Action, strings.Join(c.Arguments, ", "))
}
