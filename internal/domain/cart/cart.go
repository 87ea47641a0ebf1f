// Package cart holds the shopping-session cart model and the patch operations
// used to mutate it.
package cart

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a cart does not exist.
	ErrNotFound = errors.New("cart not found")
	// ErrContextMismatch is returned when a line from another restaurant or
	// branch is added to a cart that already holds items.
	ErrContextMismatch = errors.New("cannot add items from a different restaurant or branch")
	// ErrVersionConflict is returned when a patch expected a cart version that
	// is no longer current.
	ErrVersionConflict = errors.New("cart version conflict")
	// ErrInvalidQuantity is returned when a line is added with a non-positive
	// quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Origin tells who put a line into the cart.
type Origin string

const (
	// OriginUser marks a line the customer selected and pays for.
	OriginUser Origin = "user"
	// OriginPromotion marks a zero-priced line granted by a promotion.
	OriginPromotion Origin = "promotion"
)

// LineKey identifies a line within a cart. A paid and a free line for the
// same item are distinct lines.
type LineKey struct {
	ItemID string
	Origin Origin
}

// PaidKey returns the key of the customer-selected line for itemID.
func PaidKey(itemID string) LineKey {
	return LineKey{ItemID: itemID, Origin: OriginUser}
}

// FreeKey returns the key of the promotion line for itemID.
func FreeKey(itemID string) LineKey {
	return LineKey{ItemID: itemID, Origin: OriginPromotion}
}

// Line is a single cart entry.
type Line struct {
	ItemID      string
	Name        string
	Image       string
	Description string
	Quantity    int
	Price       decimal.Decimal
	Origin      Origin
}

// IsFree reports whether the line was granted by a promotion. Lines without
// an explicit origin fall back to the zero-price convention.
func (l Line) IsFree() bool {
	switch l.Origin {
	case OriginPromotion:
		return true
	case OriginUser:
		return false
	default:
		return l.Price.IsZero()
	}
}

// Key returns the identity of the line.
func (l Line) Key() LineKey {
	if l.IsFree() {
		return FreeKey(l.ItemID)
	}
	return PaidKey(l.ItemID)
}

func (l Line) normalize() Line {
	l.Origin = l.Key().Origin
	if l.Origin == OriginPromotion {
		l.Price = decimal.Zero
	}
	return l
}

// Context is the restaurant, branch and table a cart is bound to.
type Context struct {
	RestaurantID string
	BranchID     string
	TableID      string
}

// IsZero reports whether the cart is not bound to any restaurant.
func (c Context) IsZero() bool {
	return c.RestaurantID == "" && c.BranchID == ""
}

// Tenant holds restaurant-level settings copied into the cart when items are
// added. Tax and ServiceCharge are percentages.
type Tenant struct {
	PaymentAPIKey    string
	PaymentPublicKey string
	Tax              decimal.Decimal
	ServiceCharge    decimal.Decimal
}

// Cart is a shopping session cart.
type Cart struct {
	ID           string
	Lines        []Line
	Context      Context
	Tenant       Tenant
	Discount     decimal.Decimal
	RedeemAmount decimal.Decimal
	Coupon       string
	Remarks      map[string]string
	Version      int64
	UpdatedAt    time.Time
}

// New returns an empty cart with the given id.
func New(id string) *Cart {
	return &Cart{ID: id, Remarks: map[string]string{}}
}

// Line returns the line with the given key.
func (c *Cart) Line(key LineKey) (Line, bool) {
	if i := c.index(key); i >= 0 {
		return c.Lines[i], true
	}
	return Line{}, false
}

// PaidLines returns the customer-selected lines.
func (c *Cart) PaidLines() []Line {
	return slices.DeleteFunc(slices.Clone(c.Lines), Line.IsFree)
}

// FreeLines returns the promotion-granted lines.
func (c *Cart) FreeLines() []Line {
	return slices.DeleteFunc(slices.Clone(c.Lines), func(l Line) bool { return !l.IsFree() })
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Lines = slices.Clone(c.Lines)
	out.Remarks = maps.Clone(c.Remarks)
	if out.Remarks == nil {
		out.Remarks = map[string]string{}
	}
	return &out
}

func (c *Cart) index(key LineKey) int {
	return slices.IndexFunc(c.Lines, func(l Line) bool { return l.Key() == key })
}

// reset drops the session state once the cart holds no lines.
func (c *Cart) reset() {
	c.Context = Context{}
	c.Discount = decimal.Zero
	c.RedeemAmount = decimal.Zero
	c.Coupon = ""
	c.Remarks = map[string]string{}
}

// Store persists carts. Apply must be atomic: either every op of the patch is
// stored or none is.
type Store interface {
	Create(ctx context.Context, c *Cart) error
	Get(ctx context.Context, id string) (*Cart, error)
	Apply(ctx context.Context, id string, p Patch) (*Cart, error)
	Delete(ctx context.Context, id string) error
}
