package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// Subscriber receives raw payloads from the event bus.
type Subscriber interface {
	// Subscribe delivers payloads for topic on the returned channel until
	// the returned cancel function is called, which also closes the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// EventSubscriber is a Subscriber that decodes payloads into device events.
type EventSubscriber interface {
	Subscriber
	SubscribeEvents(topic string) (<-chan model.Event, func(), error)
}

// DecodeEvent parses a bus payload. Payloads without a known event type are
// rejected so a watcher never renders a half-decoded record.
func DecodeEvent(data []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if !ev.Type.IsValid() {
		return model.Event{}, fmt.Errorf("decoding event: unknown event type %q", ev.Type)
	}
	return ev, nil
}

// DiscardPublisher drops every event. It stands in for the bus when no NATS
// URL is configured and counts what it dropped.
type DiscardPublisher struct {
	dropped atomic.Int64
}

func (p *DiscardPublisher) Publish(context.Context, string, any) error {
	p.dropped.Add(1)
	return nil
}

// Dropped returns how many events were published into the void.
func (p *DiscardPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *DiscardPublisher) Close() error {
	return nil
}

var (
	_ Publisher       = (*DiscardPublisher)(nil)
	_ Publisher       = (*NATSPublisher)(nil)
	_ EventSubscriber = (*NATSSubscriber)(nil)
	_ Dispatcher      = Funcs{}
	_ Dispatcher      = Nop{}
	_ Dispatcher      = Multi(nil)
	_ Dispatcher      = (*Serial)(nil)
)
