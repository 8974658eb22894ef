package eventbus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/daemon/internal/platform/logger"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// MemoryBus is the default, single-process Bus implementation: a mutex-
// guarded subscriber table whose Publish calls every matching handler on
// the publisher's goroutine before returning. Handlers that feed slow
// external sinks keep their own bounded buffers so they do not block it.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[string]*memorySubscription // id -> sub
	queues   map[string]*queueGroup         // "pattern|queue" -> group
	log      *logger.Logger
	closed   bool
}

type memorySubscription struct {
	id      string
	bus     *MemoryBus
	pattern string
	re      *regexp.Regexp
	handler Handler
	valid   bool
	mu      sync.Mutex
}

func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
	s.bus.removeSub(s.id)
	return nil
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

type queueGroup struct {
	pattern string
	re      *regexp.Regexp
	queue   string
	members []*memorySubscription
	next    int
	mu      sync.Mutex
}

// NewMemoryBus constructs an empty in-process event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subs:   make(map[string]*memorySubscription),
		queues: make(map[string]*queueGroup),
		log:    log.WithFields(),
	}
}

// compilePattern translates a NATS-style dotted subject pattern ("*" single
// token, ">" remaining tokens) into a matching regexp.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	tokens := strings.Split(pattern, ".")
	parts := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		switch tok {
		case "*":
			parts = append(parts, `[^.]+`)
		case ">":
			if i != len(tokens)-1 {
				return nil, fmt.Errorf("eventbus: '>' must be the last token in pattern %q", pattern)
			}
			parts = append(parts, `.+`)
		default:
			parts = append(parts, regexp.QuoteMeta(tok))
		}
	}
	return regexp.Compile("^" + strings.Join(parts, `\.`) + "$")
}

func (b *MemoryBus) Publish(ctx context.Context, name string, payload map[string]interface{}) error {
	evt := NewEvent(name, payload)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("eventbus: closed")
	}
	matched := make([]*memorySubscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.re.MatchString(name) {
			matched = append(matched, s)
		}
	}
	queueMatches := make([]*queueGroup, 0)
	for _, q := range b.queues {
		if q.re.MatchString(name) {
			queueMatches = append(queueMatches, q)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		sub := s
		b.deliver(ctx, sub.handler, evt, sub.pattern)
	}
	for _, q := range queueMatches {
		b.publishToQueue(ctx, q, evt)
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, h Handler, evt v1.Event, pattern string) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: subscriber panic on pattern %s: %v", pattern, r)
		}
	}()
	if err := h(ctx, evt); err != nil {
		b.log.Error("eventbus: subscriber error on pattern %s: %v", pattern, err)
	}
}

func (b *MemoryBus) publishToQueue(ctx context.Context, q *queueGroup, evt v1.Event) {
	q.mu.Lock()
	if len(q.members) == 0 {
		q.mu.Unlock()
		return
	}
	member := q.members[q.next%len(q.members)]
	q.next++
	q.mu.Unlock()
	b.deliver(ctx, member.handler, evt, q.pattern)
}

func (b *MemoryBus) Subscribe(pattern string, handler Handler) (Subscription, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	sub := &memorySubscription{id: uuid.NewString(), bus: b, pattern: pattern, re: re, handler: handler, valid: true}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: closed")
	}
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *MemoryBus) QueueSubscribe(pattern, queue string, handler Handler) (Subscription, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	sub := &memorySubscription{id: uuid.NewString(), bus: b, pattern: pattern, re: re, handler: handler, valid: true}

	key := pattern + "|" + queue
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: closed")
	}
	q, ok := b.queues[key]
	if !ok {
		q = &queueGroup{pattern: pattern, re: re, queue: queue}
		b.queues[key] = q
	}
	q.mu.Lock()
	q.members = append(q.members, sub)
	q.mu.Unlock()
	return sub, nil
}

func (b *MemoryBus) removeSub(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	for _, q := range b.queues {
		q.mu.Lock()
		for i, m := range q.members {
			if m.id == id {
				q.members = append(q.members[:i], q.members[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
	}
}

// Request publishes to subject and blocks for a single reply on a private
// inbox subject, matching the teacher's inbox request/reply idiom.
func (b *MemoryBus) Request(ctx context.Context, subject string, payload map[string]interface{}, timeout time.Duration) (v1.Event, error) {
	inbox := "_inbox." + uuid.NewString()
	replies := make(chan v1.Event, 1)

	sub, err := b.Subscribe(inbox, func(_ context.Context, evt v1.Event) error {
		select {
		case replies <- evt:
		default:
		}
		return nil
	})
	if err != nil {
		return v1.Event{}, err
	}
	defer sub.Unsubscribe()

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["replyTo"] = inbox
	if err := b.Publish(ctx, subject, payload); err != nil {
		return v1.Event{}, err
	}

	select {
	case evt := <-replies:
		return evt, nil
	case <-time.After(timeout):
		return v1.Event{}, fmt.Errorf("eventbus: request to %s timed out after %s", subject, timeout)
	case <-ctx.Done():
		return v1.Event{}, ctx.Err()
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]*memorySubscription)
	b.queues = make(map[string]*queueGroup)
	return nil
}

func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
