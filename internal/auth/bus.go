package auth

import (
	"context"
	"sync"

	"github.com/erazemk/shramba/internal/model"
)

// IdentityHandler is called for every identity event.
type IdentityHandler func(ctx context.Context, ev model.IdentityEvent)

// Bus delivers sign-in and sign-out events to subscribers synchronously,
// in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]IdentityHandler
	order    []int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]IdentityHandler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h IdentityHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ctx context.Context, ev model.IdentityEvent) {
	b.mu.RLock()
	handlers := make([]IdentityHandler, 0, len(b.handlers))
	for _, id := range b.order {
		if h, ok := b.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// SignedIn publishes a sign-in for userID.
func (b *Bus) SignedIn(ctx context.Context, userID string) {
	b.Publish(ctx, model.IdentityEvent{UserID: userID, SignedIn: true})
}

// SignedOut publishes a sign-out for userID.
func (b *Bus) SignedOut(ctx context.Context, userID string) {
	b.Publish(ctx, model.IdentityEvent{UserID: userID, SignedIn: false})
}
