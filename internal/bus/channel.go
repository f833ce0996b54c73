// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// requestTimeout bounds Request calls that carry no context deadline.
const requestTimeout = 30 * time.Second

// ChannelBus implements EventBus in-process using Go channels.
// Used as the Community edition event bus. Routing is strictly
// tenant-scoped: a subscription only ever sees messages published
// under its own tenant id.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[route]map[string]*channelSubscription // route -> sub id -> sub
	closed     bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// route identifies one tenant-scoped topic.
type route struct {
	tenantID string
	topic    string
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	route   route
	handler domain.MessageHandler
	inbox   chan *domain.Message
	done    chan struct{}
	once    sync.Once
}

// NewChannelBus creates a channel-based event bus. bufferSize is the
// per-subscription inbox depth; once an inbox is full, further messages
// for that subscriber are dropped.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route]map[string]*channelSubscription),
	}
}

// Publish fans a message out to every subscription on the tenant's topic.
// Delivery is best-effort: a subscriber whose inbox is full misses the
// message, and the drop is counted rather than blocking the publisher.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := make([]*channelSubscription, 0, len(b.routes[route{tenantID, topic}]))
	for _, sub := range b.routes[route{tenantID, topic}] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	msg := newMessage(tenantID, topic, payload)
	b.published.Add(1)

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			slog.Debug("channel bus dropped message",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a tenant's topic. The handler runs
// on a dedicated goroutine until Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		route:   route{tenantID, topic},
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		done:    make(chan struct{}),
	}

	if b.routes[sub.route] == nil {
		b.routes[sub.route] = make(map[string]*channelSubscription)
	}
	b.routes[sub.route][sub.id] = sub

	go sub.run(ctx)

	return sub, nil
}

// run drains the inbox until the subscription or its parent context ends.
func (s *channelSubscription) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Unsubscribe()
			return
		case msg := <-s.inbox:
			if err := s.handler(ctx, msg); err != nil {
				slog.Debug("subscription handler error",
					"topic", s.route.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes and waits for a single reply on a private reply
// topic. The caller's context deadline wins over the default timeout.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout on %s", topic)
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Stats reports publish and delivery counters since the bus was created.
func (b *ChannelBus) Stats() (published, delivered, dropped int64) {
	return b.published.Load(), b.delivered.Load(), b.dropped.Load()
}

// Close stops every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	b.routes = make(map[route]map[string]*channelSubscription)
	return nil
}

// Unsubscribe detaches the subscription from the bus and stops its
// goroutine. Safe to call more than once.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs := s.bus.routes[s.route]; subs != nil {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.bus.routes, s.route)
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.route.topic
}
