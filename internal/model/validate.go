package model

import (
	"strings"
	"unicode/utf8"
)

// MaxDeviceIDLength bounds a device id; it matches the handshake read size.
const MaxDeviceIDLength = 1024

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// ValidateDeviceID checks an identity taken from a handshake.
func ValidateDeviceID(id string) error {
	var ve ValidationError
	switch {
	case id == "":
		ve.add("device_id", "must not be empty")
	case !utf8.ValidString(id):
		ve.add("device_id", "must be valid UTF-8")
	case len(id) > MaxDeviceIDLength:
		ve.add("device_id", "must be at most 1024 bytes")
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateLogFilter checks a LogFilter built from user input.
func ValidateLogFilter(f LogFilter) error {
	var ve ValidationError
	if f.EventType != "" && !f.EventType.IsValid() {
		ve.add("event_type", "unknown event type "+string(f.EventType))
	}
	if f.AfterID < 0 {
		ve.add("after_id", "must not be negative")
	}
	if f.Limit < 0 {
		ve.add("limit", "must not be negative")
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
