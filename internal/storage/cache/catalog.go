// Package cache provides read-through caches in front of slower repositories.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xenking/minmin-cart/internal/domain/catalog"
)

var _ catalog.Repository = (*Catalog)(nil)

// Catalog caches menu items by id. Tenant listings are not cached.
//
// Misses are not cached, so a missing free item is looked up again on the
// next reconciliation.
type Catalog struct {
	next  catalog.Repository
	items *expirable.LRU[string, catalog.MenuItem]
}

// NewCatalog wraps next with an LRU of size entries that expire after ttl.
func NewCatalog(next catalog.Repository, size int, ttl time.Duration) *Catalog {
	return &Catalog{
		next:  next,
		items: expirable.NewLRU[string, catalog.MenuItem](size, nil, ttl),
	}
}

// GetByID returns the cached item or loads it.
func (c *Catalog) GetByID(ctx context.Context, id string) (*catalog.MenuItem, error) {
	if it, ok := c.items.Get(id); ok {
		return &it, nil
	}
	it, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.items.Add(id, *it)
	return it, nil
}

// GetByIDs serves what it can from the cache and loads the rest in one call.
// Cached items come first.
func (c *Catalog) GetByIDs(ctx context.Context, ids []string) ([]catalog.MenuItem, error) {
	out := make([]catalog.MenuItem, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if it, ok := c.items.Get(id); ok {
			out = append(out, it)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, it := range loaded {
		c.items.Add(it.ID, it)
	}
	return append(out, loaded...), nil
}

// ListByTenant loads the menu and refreshes the cached items.
func (c *Catalog) ListByTenant(ctx context.Context, tenantID string) ([]catalog.MenuItem, error) {
	items, err := c.next.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		c.items.Add(it.ID, it)
	}
	return items, nil
}

// Purge drops every cached item.
func (c *Catalog) Purge() {
	c.items.Purge()
}
