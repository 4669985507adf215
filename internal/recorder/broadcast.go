package recorder

import (
	"context"
	"sync"
)

// Broadcaster fans out "new data" hints. Notifications coalesce: a slow
// subscriber sees at most one pending hint, never one per record.
type Broadcaster struct {
	mu      sync.Mutex
	gen     uint64
	changed chan struct{}
	subs    map[int]chan struct{}
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		changed: make(chan struct{}),
		subs:    make(map[int]chan struct{}),
	}
}

// Notify bumps the generation and wakes every subscriber and waiter.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	b.gen++
	close(b.changed)
	b.changed = make(chan struct{})
	subs := make([]chan struct{}, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives a hint after new data lands,
// and a cancel func that unregisters it.
func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Generation returns the number of notifications sent so far.
func (b *Broadcaster) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Wait blocks until the generation moves past since or ctx is done, and
// returns the current generation.
func (b *Broadcaster) Wait(ctx context.Context, since uint64) (uint64, error) {
	for {
		b.mu.Lock()
		gen, changed := b.gen, b.changed
		b.mu.Unlock()

		if gen > since {
			return gen, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return gen, ctx.Err()
		}
	}
}
