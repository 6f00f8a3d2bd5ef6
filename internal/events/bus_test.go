package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	sent := NewEvent(TypeDecision, "agent-1")
	sent.Action = "TRADE"
	bus.Publish(sent)

	select {
	case got := <-ch:
		if got.ID != sent.ID || got.Action != "TRADE" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestBusSlowSubscriberNeverBlocksPublisher(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// 容量 1 的订阅者从不消费。
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(NewEvent(TypeAction, "agent-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked by slow subscriber")
	}

	if dropped := bus.Dropped(); dropped != 99 {
		t.Fatalf("expected 99 dropped events, got %d", dropped)
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Fatalf("channel must be closed after cancel")
	}

	// 取消后发布不会 panic，也不会计入丢弃。
	bus.Publish(NewEvent(TypeError, "agent-1"))
	if dropped := bus.Dropped(); dropped != 0 {
		t.Fatalf("cancelled subscriber must not count drops: %d", dropped)
	}
}

type countingSink struct {
	emitted atomic.Int64
	closed  atomic.Bool
}

func (s *countingSink) Emit(_ context.Context, _ Event) error {
	s.emitted.Add(1)
	return nil
}

func (s *countingSink) Close() error {
	s.closed.Store(true)
	return nil
}

func TestBusMirrorsToSink(t *testing.T) {
	sink := &countingSink{}
	bus := NewBus(WithSink(sink))

	bus.Publish(NewEvent(TypeDecision, "agent-1"))
	bus.Publish(NewEvent(TypeAction, "agent-1"))

	// Close 排空镜像队列后才关闭 Sink。
	if err := bus.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sink.emitted.Load(); got != 2 {
		t.Fatalf("expected 2 mirrored events, got %d", got)
	}
	if !sink.closed.Load() {
		t.Fatalf("sink must be closed with the bus")
	}
}

// blockingSink 模拟卡死的外部镜像端。
type blockingSink struct {
	gate chan struct{}
}

func (s *blockingSink) Emit(_ context.Context, _ Event) error {
	<-s.gate
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestBusSlowSinkNeverBlocksPublisher(t *testing.T) {
	sink := &blockingSink{gate: make(chan struct{})}
	bus := NewBus(WithSink(sink))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(NewEvent(TypeAction, "agent-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked by slow sink")
	}

	close(sink.gate)
	if err := bus.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	if err := bus.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bus.Publish(NewEvent(TypeDecision, "agent-1"))

	if _, open := <-ch; open {
		t.Fatalf("subscriber channel must be closed")
	}
}
