package events

import (
	"context"
	"sync"
)

// MemoryBus delivers events to in-process subscribers. Handlers run on the publisher's goroutine.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(Event)
	history  []Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(Event))}
}

func (b *MemoryBus) Publish(_ context.Context, stream string, event Event) error {
	b.mu.Lock()
	b.history = append(b.history, event)
	hs := append([]func(Event){}, b.handlers[stream]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(event)
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	b.mu.Lock()
	b.handlers[stream] = append(b.handlers[stream], handler)
	idx := len(b.handlers[stream]) - 1
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[stream]
		if idx < len(hs) {
			hs[idx] = func(Event) {}
		}
	}()
	return nil
}

// Published returns every event seen so far, in order.
func (b *MemoryBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Types returns the type of every published event, in order.
func (b *MemoryBus) Types() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.history))
	for _, e := range b.history {
		out = append(out, e.Type)
	}
	return out
}
