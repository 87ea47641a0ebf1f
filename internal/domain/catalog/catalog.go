// Package catalog describes the restaurant menu as seen by the cart.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a menu item does not exist.
var ErrNotFound = errors.New("menu item not found")

// Tenant is the restaurant owning a menu item, with the payment and pricing
// settings a cart inherits when one of its items is added.
type Tenant struct {
	ID               string
	Name             string
	PaymentAPIKey    string
	PaymentPublicKey string
	Tax              decimal.Decimal
	ServiceCharge    decimal.Decimal
}

// MenuItem is a catalog entry.
type MenuItem struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Image       string
	Price       decimal.Decimal
	Available   bool
	Tenant      Tenant
}

// Repository provides read access to the catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*MenuItem, error)
	// GetByIDs returns the items that exist; unknown ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]MenuItem, error)
	ListByTenant(ctx context.Context, tenantID string) ([]MenuItem, error)
}

// Index maps items by id.
func Index(items []MenuItem) map[string]MenuItem {
	m := make(map[string]MenuItem, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}
