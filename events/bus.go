// Package events is an in-process publish/subscribe bus. Messages are
// published on named topics with JSON payloads.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultBufferSize is the buffer size of subscriptions if not specified.
const DefaultBufferSize = 100

// Message is a message delivered to subscribers.
type Message struct {
	Topic   string
	Payload json.RawMessage
}

// Decode decodes the payload of the message into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Topic, err)
	}
	return nil
}

// Subscription receives the messages published on the matching topics.
type Subscription struct {
	bus     *Bus
	pattern string
	out     chan Message
	once    sync.Once
}

// Out returns the channel of the subscription. It is closed when the
// subscription is cancelled.
func (s *Subscription) Out() <-chan Message {
	return s.out
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) matches(topic string) bool {
	if prefix, ok := strings.CutSuffix(s.pattern, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return s.pattern == topic
}

// Opt is an option for Bus.
type Opt func(*Bus)

// WithLogger specifies the logger for the bus.
func WithLogger(logger *zap.Logger) Opt {
	return func(b *Bus) {
		b.logger = logger
	}
}

// Bus dispatches published messages to subscribers. Delivery never blocks
// the publisher: messages are dropped for subscribers whose buffer is full.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []*Subscription
}

// NewBus creates a new Bus.
func NewBus(opts ...Opt) *Bus {
	b := &Bus{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe subscribes to the topic. A pattern ending with "*" subscribes
// to all the topics starting with the rest of the pattern.
func (b *Bus) Subscribe(pattern string, size int) *Subscription {
	if size <= 0 {
		size = DefaultBufferSize
	}
	s := &Subscription{bus: b, pattern: pattern, out: make(chan Message, size)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	s.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == s {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(s.out)
	})
}

// Publish encodes the payload as JSON and delivers it to the subscribers
// of the topic. It returns the number of subscribers the message was
// delivered to.
func (b *Bus) Publish(topic string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg := Message{Topic: topic, Payload: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, s := range b.subs {
		if !s.matches(topic) {
			continue
		}
		select {
		case s.out <- msg:
			delivered++
		default:
			dropped.WithLabelValues(topic).Inc()
			b.logger.Debug("subscriber buffer full, dropping message",
				zap.String("topic", topic),
				zap.String("pattern", s.pattern),
			)
		}
	}
	published.WithLabelValues(topic).Inc()
	return delivered, nil
}

// Report publishes the payload and logs failures.
func (b *Bus) Report(topic string, payload any) {
	if _, err := b.Publish(topic, payload); err != nil {
		b.logger.Error("failed to publish", zap.String("topic", topic), zap.Error(err))
	}
}
