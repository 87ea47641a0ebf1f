// Package discount describes the contract of the remote discount-check
// service. Discount amounts and free-item grants are computed remotely; this
// package only carries them.
package discount

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Type is the kind of promotion that produced a result.
type Type string

const (
	// TypeBOGO grants extra units of purchased items.
	TypeBOGO Type = "bogo"
	// TypeFreeItem grants specific catalog items.
	TypeFreeItem Type = "freeItem"
)

// CheckItem is a single priced line sent for evaluation.
type CheckItem struct {
	MenuItem string
	Quantity int
}

// CheckRequest is the input of a discount check.
type CheckRequest struct {
	Tenant string
	Branch string
	// Coupon is optional; an empty value is omitted from the request.
	Coupon string
	Items  []CheckItem
}

// NormalizeCoupon trims a user-supplied coupon code.
func NormalizeCoupon(code string) string {
	return strings.TrimSpace(code)
}

// FreeItem is a required free quantity for an item.
type FreeItem struct {
	ItemID   string
	Quantity int
}

// Result is the outcome of a discount check.
type Result struct {
	Amount       decimal.Decimal
	RedeemAmount decimal.Decimal
	Type         Type
	FreeItems    []FreeItem
}

// RequiredFreeItems folds FreeItems into an id → quantity mapping and the ids
// in first-seen order. Later duplicates overwrite earlier ones; negative
// quantities count as zero.
func (r *Result) RequiredFreeItems() (map[string]int, []string) {
	required := make(map[string]int, len(r.FreeItems))
	order := make([]string, 0, len(r.FreeItems))
	for _, fi := range r.FreeItems {
		if _, seen := required[fi.ItemID]; !seen {
			order = append(order, fi.ItemID)
		}
		required[fi.ItemID] = max(fi.Quantity, 0)
	}
	return required, order
}

// Checker evaluates a cart against the active promotions.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (*Result, error)
}
