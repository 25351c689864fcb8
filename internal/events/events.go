package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// Event topic constants
const (
	TopicDeviceConnected    = "aegis.device.connected"
	TopicDeviceDisconnected = "aegis.device.disconnected"
	TopicLog                = "aegis.log"

	// TopicAll matches every aegis topic (NATS wildcard syntax).
	TopicAll = "aegis.>"
)

// TopicFor returns the topic an event of type t is published on.
// MESSAGE and LOG both go to TopicLog.
func TopicFor(t model.EventType) string {
	switch t {
	case model.EventConnected:
		return TopicDeviceConnected
	case model.EventDisconnected:
		return TopicDeviceDisconnected
	default:
		return TopicLog
	}
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// PublishEvent publishes ev on the topic matching its type.
func PublishEvent(ctx context.Context, p Publisher, ev model.Event) error {
	return p.Publish(ctx, TopicFor(ev.Type), ev)
}

// MatchTopic reports whether topic matches a NATS-style pattern: "*" matches
// exactly one dot-separated token and a trailing ">" matches one or more.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pat := strings.Split(pattern, ".")
	tok := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i == len(pat)-1 && i < len(tok)
		}
		if i >= len(tok) || (p != "*" && p != tok[i]) {
			return false
		}
	}
	return len(pat) == len(tok)
}
