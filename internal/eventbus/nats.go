package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kandev/daemon/internal/platform/logger"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// NATSBus lets multiple daemon processes share one event bus, selected
// when config nats.url is non-empty. It satisfies the same Bus interface
// as MemoryBus so callers never know which backend is wired in.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSBus dials url and returns a Bus backed by it.
func NewNATSBus(url string, log *logger.Logger) (*NATSBus, error) {
	if log == nil {
		log = logger.Default()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: nats connect: %w", err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

func (b *NATSBus) Publish(_ context.Context, name string, payload map[string]interface{}) error {
	evt := NewEvent(name, payload)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return b.conn.Publish(name, data)
}

func (b *NATSBus) decode(data []byte) (v1.Event, error) {
	var evt v1.Event
	err := json.Unmarshal(data, &evt)
	return evt, err
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSubscription) IsValid() bool      { return s.sub.IsValid() }

func (b *NATSBus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		evt, err := b.decode(msg.Data)
		if err != nil {
			b.log.Error("eventbus: nats decode error on %s: %v", pattern, err)
			return
		}
		if err := handler(context.Background(), evt); err != nil {
			b.log.Error("eventbus: nats subscriber error on %s: %v", pattern, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) QueueSubscribe(pattern, queue string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(pattern, queue, func(msg *nats.Msg) {
		evt, err := b.decode(msg.Data)
		if err != nil {
			b.log.Error("eventbus: nats decode error on %s: %v", pattern, err)
			return
		}
		if err := handler(context.Background(), evt); err != nil {
			b.log.Error("eventbus: nats subscriber error on %s: %v", pattern, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, payload map[string]interface{}, timeout time.Duration) (v1.Event, error) {
	evt := NewEvent(subject, payload)
	data, err := json.Marshal(evt)
	if err != nil {
		return v1.Event{}, err
	}
	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return v1.Event{}, err
	}
	return b.decode(msg.Data)
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}
