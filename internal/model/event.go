package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies a device lifecycle or message event.
type EventType string

const (
	EventConnected    EventType = "CONNECTED"
	EventDisconnected EventType = "DISCONNECTED"
	EventMessage      EventType = "MESSAGE"
	EventLog          EventType = "LOG"
)

// SystemDeviceID is the device id recorded for lines that do not belong to a
// single device (server notices, message lines, handler errors).
const SystemDeviceID = "SYSTEM"

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks whether the event type is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventConnected, EventDisconnected, EventMessage, EventLog:
		return true
	}
	return false
}

// Persisted maps an event type to the value stored in the log table.
// MESSAGE events are stored as LOG rows.
func (t EventType) Persisted() EventType {
	if t == EventMessage {
		return EventLog
	}
	return t
}

// ParseEventType parses s into an EventType, rejecting unknown values.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Event is a single occurrence produced by the listener, mirroring what is
// published to NATS and streamed over SSE.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id,omitempty"`
	Type      EventType `json:"event_type"`
	Message   string    `json:"message,omitempty"`
}

// NewEvent returns an Event stamped with the current UTC time.
func NewEvent(typ EventType, deviceID, message string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Type:      typ,
		Message:   message,
	}
}

// FormatMessageLine renders a chunk received from a device as a message line.
func FormatMessageLine(deviceID, chunk string) string {
	return "[" + deviceID + "] " + chunk
}

// MessageLineDevice returns the device id of a line produced by
// FormatMessageLine, or "" for any other line. Marker lines such as
// "[+] ..." and "[!] ..." are not device lines.
func MessageLineDevice(line string) string {
	if !strings.HasPrefix(line, "[") {
		return ""
	}
	end := strings.Index(line, "] ")
	if end <= 1 {
		return ""
	}
	id := line[1:end]
	switch id {
	case "+", "-", "!":
		return ""
	}
	return id
}
