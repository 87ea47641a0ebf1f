// Package reconcile keeps the promotion lines of a cart consistent with the
// latest result of the remote discount check.
package reconcile

import (
	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/discount"
)

// Change is a scheduled mutation of a free line.
type Change struct {
	ItemID   string
	Quantity int
	// New is set when the free line does not exist yet and has to be
	// created from the catalog.
	New bool
}

// IsRemoval reports whether the change drops an existing free line.
func (c Change) IsRemoval() bool {
	return !c.New && c.Quantity == 0
}

// Plan computes the free-line changes that bring lines in line with res.
// Paid lines are never touched.
//
// Existing free lines are handled first: lines that are no longer required
// are scheduled for removal, mismatched quantities are corrected, and every
// free line's id is taken out of consideration. The remaining required ids
// are then added for freeItem promotions. For bogo promotions each remaining
// id is checked against the current free lines again and either added or
// corrected. Other promotion types add nothing.
func Plan(lines []cart.Line, res *discount.Result) []Change {
	required, order := res.RequiredFreeItems()

	var changes []Change
	for _, l := range lines {
		if !l.IsFree() {
			continue
		}
		want := required[l.ItemID]
		switch {
		case want == 0:
			if l.Quantity > 0 {
				changes = append(changes, Change{ItemID: l.ItemID, Quantity: 0})
			}
		case l.Quantity != want:
			changes = append(changes, Change{ItemID: l.ItemID, Quantity: want})
		}
		delete(required, l.ItemID)
	}

	switch res.Type {
	case discount.TypeFreeItem:
		for _, id := range order {
			if want, ok := required[id]; ok && want > 0 {
				changes = append(changes, Change{ItemID: id, Quantity: want, New: true})
			}
		}
	case discount.TypeBOGO:
		for _, id := range order {
			want, ok := required[id]
			if !ok {
				continue
			}
			current, exists := freeLine(lines, id)
			switch {
			case !exists && want > 0:
				changes = append(changes, Change{ItemID: id, Quantity: want, New: true})
			case exists && current.Quantity != want:
				changes = append(changes, Change{ItemID: id, Quantity: want})
			}
		}
	}

	return changes
}

func freeLine(lines []cart.Line, itemID string) (cart.Line, bool) {
	for _, l := range lines {
		if l.ItemID == itemID && l.IsFree() {
			return l, true
		}
	}
	return cart.Line{}, false
}

// CheckItems builds the discount-check items from every line with a
// positive quantity. Free lines are skipped when includeFree is false.
func CheckItems(lines []cart.Line, includeFree bool) []discount.CheckItem {
	items := make([]discount.CheckItem, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || (!includeFree && l.IsFree()) {
			continue
		}
		items = append(items, discount.CheckItem{MenuItem: l.ItemID, Quantity: l.Quantity})
	}
	return items
}
