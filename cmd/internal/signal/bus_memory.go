package signal

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-process dev runs.
//
// Dispatch is asynchronous, mirroring how storage-change notifications arrive
// in sibling terminals with a small delay.
type MemoryBus struct {
	mu     sync.Mutex
	next   int
	subs   map[int]func(Signal)
	closed bool
}

// NewMemoryBus constructs an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Signal))}
}

// Publish dispatches sig to every subscriber, each on its own goroutine.
func (b *MemoryBus) Publish(_ context.Context, sig Signal) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	fns := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		go fn(sig)
	}
	return nil
}

// Subscribe registers fn and returns its cancel.
func (b *MemoryBus) Subscribe(fn func(Signal)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Close drops all subscribers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = make(map[int]func(Signal))
	return nil
}
