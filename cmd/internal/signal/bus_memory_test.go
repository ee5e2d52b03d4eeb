package signal

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := NewMemoryBus()
	got := make(chan Signal, 1)
	cancel := b.Subscribe(func(s Signal) { got <- s })
	defer cancel()

	sent := New(TopicLogin, "terminal-a")
	if err := b.Publish(context.Background(), sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case s := <-got:
		if s.Topic != TopicLogin || s.Origin != "terminal-a" || s.ID != sent.ID {
			t.Fatalf("received %+v, want %+v", s, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal never delivered")
	}
}

func TestMemoryBusCancel(t *testing.T) {
	t.Parallel()

	b := NewMemoryBus()
	got := make(chan Signal, 4)
	cancel := b.Subscribe(func(s Signal) { got <- s })

	cancel()
	cancel() // double-cancel is safe

	if err := b.Publish(context.Background(), New(TopicLogout, "x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case s := <-got:
		t.Fatalf("cancelled subscriber received %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusClose(t *testing.T) {
	t.Parallel()

	b := NewMemoryBus()
	b.Subscribe(func(Signal) {})

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(context.Background(), New(TopicLogin, "x")); err != ErrClosed {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestNewSignal(t *testing.T) {
	t.Parallel()

	a := New(TopicLogin, "origin-1")
	b := New(TopicLogin, "origin-1")

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("IDs not unique: %q vs %q", a.ID, b.ID)
	}
	if a.At.IsZero() {
		t.Fatal("timestamp not set")
	}
}
