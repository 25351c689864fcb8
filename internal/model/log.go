package model

import "time"

// TimestampLayout is the ISO-8601 layout used for persisted log timestamps.
// Timestamps are always UTC with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// LogRecord is one row of the append-only event log.
type LogRecord struct {
	ID        int64     `json:"id"`
	Timestamp string    `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	EventType EventType `json:"event_type"`
	Message   string    `json:"message"`
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a persisted log timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
