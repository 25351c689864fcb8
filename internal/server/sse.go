package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/aegis/internal/events"
	"github.com/alfredjeanlab/aegis/internal/model"
)

const (
	// sseReplaySize is how many recent events are kept for Last-Event-ID
	// reconnection.
	sseReplaySize = 1000

	// sseClientBuffer is the per-client backlog before events are dropped.
	sseClientBuffer = 64

	sseKeepaliveInterval = 15 * time.Second
)

// sseEvent is one frame on the stream. Data is the JSON-encoded model.Event.
type sseEvent struct {
	ID       uint64
	Topic    string
	Type     model.EventType
	DeviceID string // for MESSAGE lines, the device named in the line
	Data     []byte
}

// sseFilter selects which events a stream receives. Zero fields match all.
type sseFilter struct {
	topics   []string // NATS-style patterns, see events.MatchTopic
	types    map[model.EventType]bool
	deviceID string
}

func (f sseFilter) matches(evt *sseEvent) bool {
	if f.deviceID != "" && f.deviceID != evt.DeviceID {
		return false
	}
	if len(f.types) > 0 && !f.types[evt.Type] {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	for _, p := range f.topics {
		if events.MatchTopic(p, evt.Topic) {
			return true
		}
	}
	return false
}

// parseSSEFilter reads ?topics=a,b&types=CONNECTED,LOG&device_id=x.
func parseSSEFilter(q url.Values) (sseFilter, error) {
	f := sseFilter{
		topics:   splitList(q.Get("topics")),
		deviceID: strings.TrimSpace(q.Get("device_id")),
	}
	for _, s := range splitList(q.Get("types")) {
		t, err := model.ParseEventType(strings.ToUpper(s))
		if err != nil {
			return sseFilter{}, err
		}
		if f.types == nil {
			f.types = make(map[model.EventType]bool)
		}
		f.types[t] = true
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// eventRing holds the most recent events in arrival order.
type eventRing struct {
	mu   sync.RWMutex
	buf  []sseEvent
	next int
	full bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]sseEvent, size)}
}

func (r *eventRing) push(evt sseEvent) {
	r.mu.Lock()
	r.buf[r.next] = evt
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// since returns buffered events with ID > lastID, oldest first. Events that
// were already evicted are silently missing.
func (r *eventRing) since(lastID uint64) []*sseEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, start := r.next, 0
	if r.full {
		n, start = len(r.buf), r.next
	}
	var out []*sseEvent
	for i := range n {
		evt := &r.buf[(start+i)%len(r.buf)]
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

// sseClient is one connected stream.
type sseClient struct {
	filter  sseFilter
	ch      chan *sseEvent
	dropped atomic.Int64
}

// sseHub fans recorded events out to SSE streams.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  atomic.Uint64
	recent  *eventRing
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
		recent:  newEventRing(sseReplaySize),
	}
}

// broadcast assigns evt the next id, remembers it for replay and offers it to
// every matching client. A client whose buffer is full misses the event and
// is told how many it missed on its next write.
func (h *sseHub) broadcast(evt sseEvent) uint64 {
	evt.ID = h.nextID.Add(1)
	h.recent.push(evt)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.filter.matches(&evt) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
			c.dropped.Add(1)
		}
	}
	return evt.ID
}

func (h *sseHub) subscribe(f sseFilter) *sseClient {
	c := &sseClient{filter: f, ch: make(chan *sseEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *sseHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleEventStream handles GET /v1/events/stream.
//
// Query parameters topics, types and device_id narrow the stream; an unknown
// event type is a 400. Last-Event-ID replays what is still buffered.
func (c *CommandCenter) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	filter, err := parseSSEFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client := c.sseHub.subscribe(filter)
	defer c.sseHub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Replayed ids are skipped when the live copy arrives on client.ch.
	var lastSent uint64
	if lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		lastSent = lastID
		for _, evt := range c.sseHub.recent.since(lastID) {
			if filter.matches(evt) {
				writeSSEEvent(w, evt)
				lastSent = evt.ID
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			if evt.ID <= lastSent {
				continue
			}
			if n := client.dropped.Swap(0); n > 0 {
				fmt.Fprintf(w, ":dropped %d\n\n", n)
			}
			writeSSEEvent(w, evt)
			lastSent = evt.ID
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}

// broadcastEvent fans ev out to SSE clients. MESSAGE lines are attributed to
// the device named in their "[id]" prefix so device_id filters see them.
func (c *CommandCenter) broadcastEvent(topic string, ev model.Event) {
	if c.sseHub == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Warn("failed to marshal event for SSE broadcast", "topic", topic, "err", err)
		return
	}
	deviceID := ev.DeviceID
	if ev.Type == model.EventMessage {
		if id := model.MessageLineDevice(ev.Message); id != "" {
			deviceID = id
		}
	}
	c.sseHub.broadcast(sseEvent{Topic: topic, Type: ev.Type, DeviceID: deviceID, Data: payload})
}
