// Package memory implements store.LogStore in process memory. It is not
// durable and is intended for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/store"
)

// Store is an in-memory store.LogStore.
type Store struct {
	mu      sync.RWMutex
	records []model.LogRecord
	nextID  int64
	closed  bool

	now func() time.Time
}

var _ store.LogStore = (*Store)(nil)

// New returns an empty in-memory log store.
func New() *Store {
	return &Store{nextID: 1, now: time.Now}
}

func (s *Store) LogEvent(_ context.Context, deviceID string, eventType model.EventType, message string) (*model.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	rec := model.LogRecord{
		ID:        s.nextID,
		Timestamp: model.FormatTimestamp(s.now()),
		DeviceID:  deviceID,
		EventType: eventType.Persisted(),
		Message:   message,
	}
	s.nextID++
	s.records = append(s.records, rec)

	return &rec, nil
}

func (s *Store) ListLogs(_ context.Context, filter model.LogFilter) ([]*model.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	limit := filter.EffectiveLimit()
	out := make([]*model.LogRecord, 0)
	for i := range s.records {
		rec := s.records[i]
		if rec.ID <= filter.AfterID {
			continue
		}
		if filter.DeviceID != "" && rec.DeviceID != filter.DeviceID {
			continue
		}
		if filter.EventType != "" && rec.EventType != filter.EventType.Persisted() {
			continue
		}
		out = append(out, &rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountLogs(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	return int64(len(s.records)), nil
}

// Close marks the store closed. Records are kept so tests can inspect them
// through Records.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Records returns a copy of every record, including after Close.
func (s *Store) Records() []model.LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}
