// Package memory provides an in-process cart store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/minmin-cart/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps carts in a map guarded by a mutex. Carts are cloned on the
// way in and out so callers never share state with the store.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
	now   func() time.Time
}

// NewCartStore returns an empty CartStore.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]*cart.Cart), now: time.Now}
}

// Create stores a new cart.
func (s *CartStore) Create(_ context.Context, c *cart.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[c.ID]; ok {
		return errors.Errorf("cart %q already exists", c.ID)
	}
	stored := c.Clone()
	stored.UpdatedAt = s.now()
	s.carts[c.ID] = stored
	return nil
}

// Get returns a copy of the cart.
func (s *CartStore) Get(_ context.Context, id string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c.Clone(), nil
}

// Apply applies the patch under the store lock.
func (s *CartStore) Apply(_ context.Context, id string, p cart.Patch) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	updated, err := p.ApplyTo(c)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	s.carts[id] = updated
	return updated.Clone(), nil
}

// Delete removes the cart.
func (s *CartStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[id]; !ok {
		return cart.ErrNotFound
	}
	delete(s.carts, id)
	return nil
}
