package events

import (
	"sync"
)

// Dispatcher receives connection lifecycle notifications from the listener.
//
// For any single connection the listener calls OnConnected once, then
// OnMessage zero or more times, then OnDisconnected exactly once. Calls for
// different connections interleave arbitrarily and may arrive from many
// goroutines at once, so implementations must be safe for concurrent use.
// OnMessage is also used for server-level lines (startup, accept errors,
// per-connection error reports).
type Dispatcher interface {
	OnConnected(deviceID string)
	OnMessage(line string)
	OnDisconnected(deviceID string)
}

// Funcs adapts plain callbacks to a Dispatcher. Nil fields are skipped.
type Funcs struct {
	Connected    func(deviceID string)
	Message      func(line string)
	Disconnected func(deviceID string)
}

func (f Funcs) OnConnected(deviceID string) {
	if f.Connected != nil {
		f.Connected(deviceID)
	}
}

func (f Funcs) OnMessage(line string) {
	if f.Message != nil {
		f.Message(line)
	}
}

func (f Funcs) OnDisconnected(deviceID string) {
	if f.Disconnected != nil {
		f.Disconnected(deviceID)
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) OnConnected(string)    {}
func (Nop) OnMessage(string)      {}
func (Nop) OnDisconnected(string) {}

// Multi fans each notification out to every dispatcher in order.
type Multi []Dispatcher

func (m Multi) OnConnected(deviceID string) {
	for _, d := range m {
		d.OnConnected(deviceID)
	}
}

func (m Multi) OnMessage(line string) {
	for _, d := range m {
		d.OnMessage(line)
	}
}

func (m Multi) OnDisconnected(deviceID string) {
	for _, d := range m {
		d.OnDisconnected(deviceID)
	}
}

type callKind int

const (
	callConnected callKind = iota
	callMessage
	callDisconnected
)

type call struct {
	kind callKind
	arg  string
}

// Serial delivers every notification to a single consumer goroutine.
//
// Calls are queued in the order they are made and the wrapped dispatcher sees
// them one at a time, so it need not be safe for concurrent use. When the
// queue is full the caller blocks; notifications are never dropped.
type Serial struct {
	next  Dispatcher
	queue chan call

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// DefaultSerialBuffer is the queue depth used when NewSerial is given 0.
const DefaultSerialBuffer = 256

// NewSerial starts the consumer goroutine for next.
func NewSerial(next Dispatcher, buffer int) *Serial {
	if buffer <= 0 {
		buffer = DefaultSerialBuffer
	}
	s := &Serial{
		next:  next,
		queue: make(chan call, buffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for c := range s.queue {
		switch c.kind {
		case callConnected:
			s.next.OnConnected(c.arg)
		case callMessage:
			s.next.OnMessage(c.arg)
		case callDisconnected:
			s.next.OnDisconnected(c.arg)
		}
	}
}

func (s *Serial) enqueue(c call) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.queue <- c
}

func (s *Serial) OnConnected(deviceID string)    { s.enqueue(call{callConnected, deviceID}) }
func (s *Serial) OnMessage(line string)          { s.enqueue(call{callMessage, line}) }
func (s *Serial) OnDisconnected(deviceID string) { s.enqueue(call{callDisconnected, deviceID}) }

// Close stops accepting notifications and waits until every queued one has
// been delivered. Calls made after Close are discarded.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}
