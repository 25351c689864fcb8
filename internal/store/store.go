package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// ErrClosed is returned by every LogStore method after Close.
var ErrClosed = errors.New("store: closed")

// LogStore defines the persistence interface for the append-only event log.
// Implementations must be safe for concurrent use; records are never updated
// or deleted.
type LogStore interface {
	// LogEvent appends one record stamped with the current UTC time and an
	// auto-assigned, monotonically increasing id.
	LogEvent(ctx context.Context, deviceID string, eventType model.EventType, message string) (*model.LogRecord, error)

	// ListLogs returns records matching filter in ascending id order.
	ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.LogRecord, error)

	// CountLogs returns the total number of records.
	CountLogs(ctx context.Context) (int64, error)

	// Close releases underlying resources. It is safe to call more than once.
	Close() error
}
