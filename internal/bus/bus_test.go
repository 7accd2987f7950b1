package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/loandesk/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()
	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.ID == "" || msg.Topic != "test.topic" {
				t.Errorf("unexpected envelope: %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var a, b atomic.Int32
		bus.Subscribe(ctx, "iso.a", func(ctx context.Context, msg *domain.Message) error { a.Add(1); return nil })
		bus.Subscribe(ctx, "iso.b", func(ctx context.Context, msg *domain.Message) error { b.Add(1); return nil })

		_ = bus.Publish(ctx, "iso.a", nil)
		_ = bus.Publish(ctx, "iso.a", nil)
		waitFor(t, func() bool { return a.Load() == 2 })
		if b.Load() != 0 {
			t.Errorf("topic b received %d messages", b.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var n atomic.Int32
		sub, _ := bus.Subscribe(ctx, "unsub", func(ctx context.Context, msg *domain.Message) error { n.Add(1); return nil })
		_ = bus.Publish(ctx, "unsub", nil)
		waitFor(t, func() bool { return n.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		_ = bus.Publish(ctx, "unsub", nil)
		time.Sleep(20 * time.Millisecond)
		if n.Load() != 1 {
			t.Errorf("expected no delivery after unsubscribe, got %d", n.Load())
		}
		if sub.Topic() != "unsub" {
			t.Errorf("unexpected topic %s", sub.Topic())
		}
	})

	t.Run("PublishJSON", func(t *testing.T) {
		got := make(chan domain.TransitionEvent, 1)
		bus.Subscribe(ctx, domain.TopicApplicationTransitioned, func(ctx context.Context, msg *domain.Message) error {
			var ev domain.TransitionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			got <- ev
			return nil
		})

		err := PublishJSON(ctx, bus, domain.TopicApplicationTransitioned, domain.TransitionEvent{
			AppNumber: "LN-1", ToStatus: domain.StatusPending,
		})
		if err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
		select {
		case ev := <-got:
			if ev.AppNumber != "LN-1" || ev.ToStatus != domain.StatusPending {
				t.Errorf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	})
}

func TestChannelBusFullBufferDrops(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	var n atomic.Int32
	bus.Subscribe(ctx, "slow", func(ctx context.Context, msg *domain.Message) error {
		<-release
		n.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "slow", nil); err != nil {
			t.Fatalf("publish must not fail on a full buffer: %v", err)
		}
	}
	close(release)
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got < 1 || got > 2 {
		t.Errorf("expected one or two deliveries, got %d", got)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()
	sub, _ := bus.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error { return nil })

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := bus.Publish(ctx, "t", nil); err == nil {
		t.Error("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(ctx, "t", nil); err == nil {
		t.Error("expected subscribe on closed bus to fail")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping on closed bus to fail")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("unsubscribe after close failed: %v", err)
	}
}

func TestNewUnsupported(t *testing.T) {
	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
