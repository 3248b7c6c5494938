package inventory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/erazemk/shramba/internal/model"
)

// Registry holds one Controller per signed-in user.
type Registry struct {
	coll Collection
	opts []Option

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewRegistry returns a registry whose controllers share coll and opts.
func NewRegistry(coll Collection, opts ...Option) *Registry {
	return &Registry{
		coll:        coll,
		opts:        opts,
		controllers: make(map[string]*Controller),
	}
}

// HandleIdentity reacts to sign-in and sign-out. Signing in loads the user's
// collection; signing out resets and drops the controller.
func (r *Registry) HandleIdentity(ctx context.Context, ev model.IdentityEvent) {
	if ev.UserID == "" {
		return
	}
	if !ev.SignedIn {
		r.mu.Lock()
		c, ok := r.controllers[ev.UserID]
		delete(r.controllers, ev.UserID)
		r.mu.Unlock()
		if ok {
			c.Reset()
		}
		return
	}

	c := r.controller(ev.UserID)
	if err := c.Load(ctx, ev.UserID); err != nil {
		slog.Warn("initial inventory load failed", "user", ev.UserID, "error", err)
	}
}

// Get returns the user's controller, creating and loading it on first use.
func (r *Registry) Get(ctx context.Context, userID string) (*Controller, error) {
	if userID == "" {
		return nil, ErrNotSignedIn
	}
	c := r.controller(userID)
	if err := c.EnsureLoaded(ctx, userID); err != nil {
		return nil, err
	}
	return c, nil
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

func (r *Registry) controller(userID string) *Controller {
	r.mu.RLock()
	c, ok := r.controllers[userID]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[userID]; ok {
		return c
	}
	c = New(r.coll, r.opts...)
	r.controllers[userID] = c
	return c
}
