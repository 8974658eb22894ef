// Package eventbus implements the daemon's in-process publish/subscribe
// dispatcher, with NATS-style wildcard subjects and an optional NATS-backed
// implementation behind the same interface.
package eventbus

import (
	"context"
	"time"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Handler processes one delivered event. An error return is logged; it
// never aborts delivery to other subscribers.
type Handler func(ctx context.Context, evt v1.Event) error

// Subscription is returned by Subscribe/QueueSubscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the publish/subscribe contract used by every component. Publish
// delivers to every matching subscriber before returning; it never blocks
// on a slow external subscriber (those hold their own bounded buffer).
type Bus interface {
	// Publish delivers evt to every subscriber whose subject pattern
	// matches name. The order among different subscribers is not defined.
	Publish(ctx context.Context, name string, payload map[string]interface{}) error
	// Subscribe registers handler for every event whose name matches
	// pattern ("*" = exactly one dotted token, ">" = one-or-more
	// remaining tokens, anything else = literal).
	Subscribe(pattern string, handler Handler) (Subscription, error)
	// QueueSubscribe registers handler in a named queue group: events
	// matching pattern are delivered to exactly one member of the group,
	// round robin.
	QueueSubscribe(pattern, queue string, handler Handler) (Subscription, error)
	// Request publishes to subject and waits up to timeout for a single
	// reply published to the matching temporary inbox.
	Request(ctx context.Context, subject string, payload map[string]interface{}, timeout time.Duration) (v1.Event, error)
	Close() error
	IsConnected() bool
}

// NewEvent constructs an Event stamped with the current time.
func NewEvent(name string, payload map[string]interface{}) v1.Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return v1.Event{Name: name, Payload: payload, Timestamp: time.Now()}
}
