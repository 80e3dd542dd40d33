// Package tty opens Linux terminal devices directly through termios, without
// going through a serial library. It is useful for pseudo-terminals and for
// adapters whose drivers go.bug.st/serial does not enumerate.
package tty

import (
	"encoding/json"
	"path/filepath"
	"sort"
)

// Sort is the manager sort for tty devices.
const Sort = "tty"

// DefaultBaudRate is used when the configuration leaves baud_rate unset.
const DefaultBaudRate = 115200

// discoveryPatterns are globbed by Available.
var discoveryPatterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"}

// Config describes a tty device.
type Config struct {
	DeviceName string `json:"name"`
	BaudRate   int    `json:"baud_rate"`
}

func (c Config) Name() string { return c.DeviceName }

// Serialize returns the configuration as JSON.
func (c Config) Serialize() (json.RawMessage, error) {
	return json.Marshal(c)
}

func glob(patterns []string) []string {
	found := []string{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		found = append(found, matches...)
	}
	sort.Strings(found)
	return found
}
