// Package events publishes notifications about cart reconciliation.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ItemQuantity is an item id with a quantity.
type ItemQuantity struct {
	ItemID   string
	Quantity int
}

// CartReconciled is emitted when a reconciliation changed the free lines or
// the discount of a cart.
type CartReconciled struct {
	CartID   string
	Type     string
	Discount decimal.Decimal
	Added    []ItemQuantity
	Updated  []ItemQuantity
	Removed  []string
	At       time.Time
}

// Encode writes the event as JSON.
func (e CartReconciled) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("cartId")
	enc.Str(e.CartID)
	enc.FieldStart("typeDiscount")
	enc.Str(e.Type)
	enc.FieldStart("discount")
	enc.Float64(e.Discount.InexactFloat64())
	enc.FieldStart("added")
	encodeItems(enc, e.Added)
	enc.FieldStart("updated")
	encodeItems(enc, e.Updated)
	enc.FieldStart("removed")
	enc.ArrStart()
	for _, id := range e.Removed {
		enc.Str(id)
	}
	enc.ArrEnd()
	enc.FieldStart("at")
	enc.Str(e.At.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
}

func encodeItems(enc *jx.Encoder, items []ItemQuantity) {
	enc.ArrStart()
	for _, it := range items {
		enc.ObjStart()
		enc.FieldStart("itemId")
		enc.Str(it.ItemID)
		enc.FieldStart("quantity")
		enc.Int(it.Quantity)
		enc.ObjEnd()
	}
	enc.ArrEnd()
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	PublishCartReconciled(ctx context.Context, e CartReconciled) error
}

// Nop drops every event.
type Nop struct{}

// PublishCartReconciled implements Publisher.
func (Nop) PublishCartReconciled(context.Context, CartReconciled) error { return nil }
