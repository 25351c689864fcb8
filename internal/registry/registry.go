// Package registry tracks live device connections.
//
// The Registry maps a device id to the connection that most recently
// identified itself with that id. Registration is last-writer-wins and
// Unregister removes by id only, without checking which connection is
// asking: when two connections share an id, the first one to disconnect
// removes the entry even if it belongs to the newer connection. Callers that
// need per-connection bookkeeping should key on Device.ConnID instead.
//
// An optional sweeper flags devices that have been silent for longer than a
// threshold. It never closes connections; a silent peer keeps its handler
// for as long as the transport stays open.
package registry

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// Device is a live connection that completed its identity handshake.
// It is owned by the handler that created it; the registry only references it.
type Device struct {
	ID          string
	ConnID      string
	RemoteAddr  string
	ConnectedAt time.Time
	Conn        io.Closer
}

// SweepConfig configures the background idle sweeper.
type SweepConfig struct {
	// IdleThreshold is how long a device must be silent before being flagged.
	// Default: 5 minutes.
	IdleThreshold time.Duration

	// SweepInterval is how often the sweeper scans for idle devices.
	// Default: 30 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each device newly flagged as idle.
	// Called outside the lock.
	OnIdle func(deviceID, connID string, idle time.Duration)
}

// Registry is a concurrency-safe map of device id to live connection.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*deviceState

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type deviceState struct {
	dev          *Device
	lastSeen     time.Time
	messageCount int64
	idle         bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*deviceState),
	}
}

// Register inserts d, replacing any existing entry with the same id.
func (r *Registry) Register(d *Device) {
	if d == nil {
		return
	}
	now := time.Now()
	if d.ConnectedAt.IsZero() {
		d.ConnectedAt = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.devices[d.ID]; ok && prev.dev.ConnID != d.ConnID {
		slog.Debug("registry: device id overwritten",
			"device_id", d.ID,
			"prev_conn_id", prev.dev.ConnID,
			"conn_id", d.ConnID)
	}
	r.devices[d.ID] = &deviceState{dev: d, lastSeen: now}
}

// Unregister removes the entry for id if present and reports whether an
// entry was removed. The entry goes regardless of which connection
// registered it, so a stale connection closing can evict its replacement.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	return true
}

// Lookup returns the device currently registered under id.
func (r *Registry) Lookup(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return st.dev, true
}

// Touch records inbound traffic for id, clearing its idle flag.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.devices[id]
	if !ok {
		return
	}
	st.lastSeen = time.Now()
	st.messageCount++
	if st.idle {
		slog.Info("registry: device active again", "device_id", id)
		st.idle = false
	}
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Snapshot returns the currently registered ids in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Roster returns a snapshot of every registered device, most recently
// connected first.
func (r *Registry) Roster() []model.DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	entries := make([]model.DeviceEntry, 0, len(r.devices))
	for id, st := range r.devices {
		entries = append(entries, model.DeviceEntry{
			DeviceID:     id,
			ConnID:       st.dev.ConnID,
			RemoteAddr:   st.dev.RemoteAddr,
			ConnectedAt:  st.dev.ConnectedAt,
			LastSeen:     st.lastSeen,
			IdleSecs:     now.Sub(st.lastSeen).Seconds(),
			MessageCount: st.messageCount,
			Idle:         st.idle,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ConnectedAt.Equal(entries[j].ConnectedAt) {
			return entries[i].DeviceID < entries[j].DeviceID
		}
		return entries[i].ConnectedAt.After(entries[j].ConnectedAt)
	})
	return entries
}

// StartSweeper launches a background goroutine that periodically flags idle
// devices. Call Stop() to shut it down.
func (r *Registry) StartSweeper(cfg *SweepConfig) {
	if cfg == nil {
		cfg = &SweepConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 5 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})

	go r.sweepLoop(cfg)
	slog.Info("registry: idle sweeper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the sweeper goroutine.
func (r *Registry) Stop() {
	if r.sweepStop != nil {
		close(r.sweepStop)
		<-r.sweepDone
		r.sweepStop = nil
		r.sweepDone = nil
	}
}

func (r *Registry) sweepLoop(cfg *SweepConfig) {
	defer close(r.sweepDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.sweepStop:
			return
		case <-ticker.C:
			r.sweep(cfg)
		}
	}
}

func (r *Registry) sweep(cfg *SweepConfig) {
	now := time.Now()

	type idleDevice struct {
		id     string
		connID string
		idle   time.Duration
	}
	var newlyIdle []idleDevice

	r.mu.Lock()
	for id, st := range r.devices {
		if st.idle {
			continue
		}
		if idle := now.Sub(st.lastSeen); idle > cfg.IdleThreshold {
			st.idle = true
			newlyIdle = append(newlyIdle, idleDevice{id: id, connID: st.dev.ConnID, idle: idle})
		}
	}
	r.mu.Unlock()

	for _, d := range newlyIdle {
		slog.Info("registry: device idle",
			"device_id", d.id,
			"conn_id", d.connID,
			"threshold", cfg.IdleThreshold)
		if cfg.OnIdle != nil {
			cfg.OnIdle(d.id, d.connID, d.idle)
		}
	}
}
