// Package sync archives the device log to external destinations on a
// fixed interval.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/alfredjeanlab/aegis/internal/store"
)

// Destination receives a complete JSONL export.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the log table to every destination once on Start and then
// on every tick until Stop.
//
// The log is append-only, so a round whose record count matches the last
// round that reached every destination is skipped. A failed destination
// keeps the next round from being skipped.
type Scheduler struct {
	store        store.LogStore
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu        gosync.Mutex // serializes rounds
	lastCount int64
	synced    bool

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

func NewScheduler(s store.LogStore, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight export to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// SyncOnce runs a single round outside the schedule. It reports whether an
// export was written, which is false when nothing was logged since the last
// complete round or the export itself failed.
func (s *Scheduler) SyncOnce(ctx context.Context) bool {
	return s.syncOnce(ctx)
}

func (s *Scheduler) syncOnce(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Counted before the export, so records landing mid-round only cause the
	// next round to run again.
	count, err := s.store.CountLogs(ctx)
	if err != nil {
		s.logger.Error("log count failed", "err", err)
		return false
	}
	if s.synced && count == s.lastCount {
		s.logger.Debug("log archive unchanged, skipping", "records", count)
		return false
	}

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		s.logger.Error("log export failed", "err", err)
		return false
	}

	data := buf.Bytes()
	failed := 0
	for _, d := range s.destinations {
		if err := d.Write(ctx, data); err != nil {
			s.logger.Error("log archive write failed", "err", err)
			failed++
		}
	}
	s.synced = failed == 0
	s.lastCount = count
	s.logger.Debug("log archive synced",
		"records", count,
		"bytes", len(data),
		"destinations", len(s.destinations),
		"failed", failed,
	)
	return true
}
