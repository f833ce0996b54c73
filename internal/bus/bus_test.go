package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var received int32
	var lastPayload atomic.Value

	sub, err := b.Subscribe(ctx, "tenant-1", domain.TopicValidationRequested, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt32(&received, 1)
		lastPayload.Store(string(msg.Payload))
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if sub.Topic() != domain.TopicValidationRequested {
		t.Errorf("unexpected topic %s", sub.Topic())
	}

	if err := b.Publish(ctx, "tenant-1", domain.TopicValidationRequested, []byte(`{"doc":1}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&received) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("expected 1 message, got %d", received)
	}
	if lastPayload.Load() != `{"doc":1}` {
		t.Errorf("unexpected payload %v", lastPayload.Load())
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var received int32
	sub, _ := b.Subscribe(ctx, "tenant-1", domain.TopicValidationCompleted, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt32(&received, 1)
		return nil
	})
	defer sub.Unsubscribe()

	// Message for a different tenant must not arrive.
	b.Publish(ctx, "tenant-2", domain.TopicValidationCompleted, []byte("x"))
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&received) != 0 {
		t.Errorf("received %d messages for another tenant", received)
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var received int32
	sub, _ := b.Subscribe(ctx, "tenant-1", domain.TopicUpsellTriggered, func(ctx context.Context, msg *domain.Message) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	sub.Unsubscribe()
	time.Sleep(50 * time.Millisecond)

	b.Publish(ctx, "tenant-1", domain.TopicUpsellTriggered, []byte("x"))
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&received) != 0 {
		t.Errorf("received %d messages after unsubscribe", received)
	}
}

func TestChannelBusRequestReply(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	// Responder echoes the payload back on the reply topic embedded in
	// the request subscription.
	sub, _ := b.Subscribe(ctx, "tenant-1", "echo", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	defer sub.Unsubscribe()

	reqCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	// No responder publishes a reply, so the request times out via ctx.
	if _, err := b.Request(reqCtx, "tenant-1", "echo", []byte("ping")); err == nil {
		t.Error("expected timeout without a responder")
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "tenant-1", "t", []byte("x")); err == nil {
		t.Error("expected error publishing to closed bus")
	}
	if _, err := b.Subscribe(ctx, "tenant-1", "t", nil); err == nil {
		t.Error("expected error subscribing to closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping error on closed bus")
	}
	// Double close is fine
	if err := b.Close(); err != nil {
		t.Errorf("double close failed: %v", err)
	}
}

func TestChannelBusEmptyTenant(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "", "t", []byte("x")); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := b.Subscribe(ctx, "", "t", nil); err == nil {
		t.Error("expected error for empty tenant")
	}
}

func TestChannelBusCountsDrops(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	sub, err := b.Subscribe(ctx, "tenant-1", "slow", func(ctx context.Context, msg *domain.Message) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// First message occupies the handler, second fills the inbox,
	// third has nowhere to go.
	b.Publish(ctx, "tenant-1", "slow", []byte("1"))
	<-entered
	b.Publish(ctx, "tenant-1", "slow", []byte("2"))
	b.Publish(ctx, "tenant-1", "slow", []byte("3"))
	close(release)

	published, delivered, dropped := b.Stats()
	if published != 3 {
		t.Errorf("expected 3 published, got %d", published)
	}
	if delivered != 2 {
		t.Errorf("expected 2 delivered, got %d", delivered)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
}

func TestChannelBusUnsubscribeReleasesRoute(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "tenant-1", "t", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	sub.Unsubscribe()
	// Unsubscribing twice must not panic or disturb the registry.
	sub.Unsubscribe()

	b.mu.RLock()
	n := len(b.routes)
	b.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected empty route table, got %d entries", n)
	}
}

func TestNewFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	defer b.Close()

	if _, err := New(domain.EventBusConfig{Type: "smoke-signals"}); err == nil {
		t.Error("expected error for unknown bus type")
	}
}
