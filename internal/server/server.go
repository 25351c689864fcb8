// Package server hosts the command center: the consumer of listener
// notifications that records them to the log store, fans them out to NATS
// and SSE subscribers, renders them on the console, and serves the HTTP and
// gRPC APIs.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/aegis/internal/events"
	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/registry"
	"github.com/alfredjeanlab/aegis/internal/store"
	"github.com/alfredjeanlab/aegis/internal/ui"
)

// RetryPolicy bounds how hard a log write is retried before it is dropped.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration // first delay; doubles after each failure
}

// DefaultRetry is used when Options.Retry is zero.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

// Options configures a CommandCenter.
type Options struct {
	Store     store.LogStore
	Publisher events.Publisher
	Registry  *registry.Registry
	// Port is shown in the status line.
	Port string
	// Console receives rendered log lines. Nil disables console output.
	Console io.Writer
	Logger  *slog.Logger
	Retry   RetryPolicy
	// ActiveConns reports running connection handlers for /v1/status.
	ActiveConns func() int64
}

// CommandCenter implements events.Dispatcher. It expects to be driven from a
// single goroutine (wrap it in events.Serial); its HTTP handlers may run
// concurrently with that goroutine.
type CommandCenter struct {
	store       store.LogStore
	publisher   events.Publisher
	registry    *registry.Registry
	sseHub      *sseHub
	port        string
	console     io.Writer
	log         *slog.Logger
	retry       RetryPolicy
	activeConns func() int64
	startedAt   time.Time

	mu     sync.Mutex
	view   map[string]struct{} // devices as seen through notifications
	status string
}

// NewCommandCenter returns a CommandCenter. Store and Registry are required.
func NewCommandCenter(opts Options) *CommandCenter {
	if opts.Publisher == nil {
		opts.Publisher = &events.DiscardPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry
	}
	return &CommandCenter{
		store:       opts.Store,
		publisher:   opts.Publisher,
		registry:    opts.Registry,
		sseHub:      newSSEHub(),
		port:        opts.Port,
		console:     opts.Console,
		log:         opts.Logger,
		retry:       opts.Retry,
		activeConns: opts.ActiveConns,
		startedAt:   time.Now(),
		view:        make(map[string]struct{}),
		status:      "Server starting...",
	}
}

// OnConnected records a CONNECTED row and announces the device.
func (c *CommandCenter) OnConnected(deviceID string) {
	c.mu.Lock()
	c.view[deviceID] = struct{}{}
	c.mu.Unlock()

	c.record(model.NewEvent(model.EventConnected, deviceID, "Device connected"))
	c.appendLog(model.EventLog, "[+] Device connected: "+deviceID)
	c.refreshStatus()
}

// OnDisconnected records a DISCONNECTED row and withdraws the device.
func (c *CommandCenter) OnDisconnected(deviceID string) {
	c.mu.Lock()
	delete(c.view, deviceID)
	c.mu.Unlock()

	c.record(model.NewEvent(model.EventDisconnected, deviceID, "Device disconnected"))
	c.appendLog(model.EventLog, "[-] Device disconnected: "+deviceID)
	c.refreshStatus()
}

// startupPrefix opens the line the listener emits once it is accepting.
const startupPrefix = "Secure server started on port "

// OnMessage records a line from the listener.
func (c *CommandCenter) OnMessage(line string) {
	c.appendLog(model.EventMessage, line)
	if strings.HasPrefix(line, startupPrefix) {
		c.refreshStatus()
	}
}

// appendLog renders line on the console and records it under SYSTEM.
func (c *CommandCenter) appendLog(typ model.EventType, line string) {
	if c.console != nil {
		fmt.Fprintf(c.console, "> %s\n", ui.RenderLogLine(line))
	}
	c.record(model.NewEvent(typ, model.SystemDeviceID, line))
}

// record persists, publishes and broadcasts ev. Every step is best-effort: a
// failure is logged and the remaining steps still run.
func (c *CommandCenter) record(ev model.Event) {
	ctx := context.Background()

	if _, err := c.persist(ctx, ev); err != nil {
		c.log.Warn("dropping log row",
			"device_id", ev.DeviceID,
			"event_type", ev.Type.Persisted(),
			"err", err)
	}
	if err := events.PublishEvent(ctx, c.publisher, ev); err != nil {
		c.log.Warn("failed to publish event", "topic", events.TopicFor(ev.Type), "err", err)
	}
	c.broadcastEvent(events.TopicFor(ev.Type), ev)
}

// persist writes ev with bounded retry. store.ErrClosed is not retried.
func (c *CommandCenter) persist(ctx context.Context, ev model.Event) (*model.LogRecord, error) {
	if c.store == nil {
		return nil, errors.New("no log store configured")
	}

	delay := c.retry.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		rec, err := c.store.LogEvent(ctx, ev.DeviceID, ev.Type.Persisted(), ev.Message)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if errors.Is(err, store.ErrClosed) || attempt == c.retry.Attempts {
			break
		}
		c.log.Debug("log write failed, retrying", "attempt", attempt, "retry_in", delay, "err", err)
		time.Sleep(delay)
		delay *= 2
	}
	return nil, fmt.Errorf("logging %s event: %w", ev.Type.Persisted(), lastErr)
}

func (c *CommandCenter) refreshStatus() {
	line := c.StatusLine()

	c.mu.Lock()
	changed := line != c.status
	c.status = line
	c.mu.Unlock()

	if changed && c.console != nil {
		fmt.Fprintln(c.console, ui.RenderMuted(line))
	}
}

// StatusLine renders the status bar text. The device count comes from the
// registry when one is configured.
func (c *CommandCenter) StatusLine() string {
	return fmt.Sprintf("Server running on port %s — %d device(s) connected", c.port, c.ConnectedCount())
}

// ConnectedCount returns the number of connected devices, preferring the
// registry over the notification-derived view.
func (c *CommandCenter) ConnectedCount() int {
	if c.registry != nil {
		return c.registry.Len()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.view)
}

// View returns the sorted device ids as seen through notifications.
func (c *CommandCenter) View() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.view))
	for id := range c.view {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reconcile replaces the notification-derived view with the registry's
// snapshot and reports whether the two had diverged.
func (c *CommandCenter) Reconcile() bool {
	if c.registry == nil {
		return false
	}
	ids := c.registry.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	diverged := len(ids) != len(c.view)
	if !diverged {
		for _, id := range ids {
			if _, ok := c.view[id]; !ok {
				diverged = true
				break
			}
		}
	}
	if diverged {
		c.log.Info("console view reconciled with registry", "view", len(c.view), "registry", len(ids))
		c.view = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			c.view[id] = struct{}{}
		}
	}
	return diverged
}

// Status returns the most recently rendered status line.
func (c *CommandCenter) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
