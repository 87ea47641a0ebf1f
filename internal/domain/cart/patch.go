package cart

import (
	"maps"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Op is a single cart mutation.
type Op interface {
	apply(c *Cart) error
}

// Patch is an ordered list of ops applied atomically.
type Patch struct {
	// ExpectedVersion, when non-zero, must match the stored cart version.
	ExpectedVersion int64
	Ops             []Op
}

// NewPatch builds a patch without a version precondition.
func NewPatch(ops ...Op) Patch {
	return Patch{Ops: ops}
}

// IsEmpty reports whether the patch carries no ops.
func (p Patch) IsEmpty() bool {
	return len(p.Ops) == 0
}

// ApplyTo applies the patch to a copy of c and returns the copy. The input is
// never modified, so a failing op leaves the caller's cart intact. The
// returned cart has its version bumped.
func (p Patch) ApplyTo(c *Cart) (*Cart, error) {
	if p.ExpectedVersion != 0 && p.ExpectedVersion != c.Version {
		return nil, ErrVersionConflict
	}
	out := c.Clone()
	for _, op := range p.Ops {
		if err := op.apply(out); err != nil {
			return nil, err
		}
	}
	out.Version++
	return out, nil
}

// AddLine inserts a line, or adds its quantity to an existing line with the
// same key, and binds the cart to the given context and tenant settings.
type AddLine struct {
	Line    Line
	Context Context
	Tenant  Tenant
}

func (op AddLine) apply(c *Cart) error {
	if op.Line.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !c.Context.IsZero() &&
		(c.Context.RestaurantID != op.Context.RestaurantID || c.Context.BranchID != op.Context.BranchID) {
		return ErrContextMismatch
	}

	line := op.Line.normalize()
	if i := c.index(line.Key()); i >= 0 {
		c.Lines[i].Quantity += line.Quantity
	} else {
		c.Lines = append(c.Lines, line)
	}
	c.Context = op.Context
	c.Tenant = op.Tenant
	return nil
}

// SetQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line. Unknown keys are ignored.
type SetQuantity struct {
	Key      LineKey
	Quantity int
}

func (op SetQuantity) apply(c *Cart) error {
	i := c.index(op.Key)
	if i < 0 {
		return nil
	}
	if op.Quantity > 0 {
		c.Lines[i].Quantity = op.Quantity
		return nil
	}
	return RemoveLine{Key: op.Key}.apply(c)
}

// RemoveLine drops a line.
type RemoveLine struct {
	Key LineKey
}

func (op RemoveLine) apply(c *Cart) error {
	i := c.index(op.Key)
	if i < 0 {
		return nil
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	if len(c.Lines) == 0 {
		c.reset()
	}
	return nil
}

// Clear empties the cart and resets its session state.
type Clear struct{}

func (Clear) apply(c *Cart) error {
	c.Lines = nil
	c.reset()
	return nil
}

// Reorder copies lines of a previous order into the cart. The cart is
// emptied first when the order was placed at another restaurant, branch or
// table; otherwise quantities accumulate. Tenant settings are replaced when
// any line is copied.
type Reorder struct {
	Lines   []Line
	Context Context
	Tenant  Tenant
}

func (op Reorder) apply(c *Cart) error {
	if c.Context != op.Context {
		c.Lines = nil
		c.Context = op.Context
	}
	if len(op.Lines) > 0 {
		c.Tenant = op.Tenant
	}
	for _, l := range op.Lines {
		if l.Quantity <= 0 {
			continue
		}
		l = l.normalize()
		if i := c.index(l.Key()); i >= 0 {
			c.Lines[i].Quantity += l.Quantity
			continue
		}
		c.Lines = append(c.Lines, l)
	}
	if len(c.Lines) == 0 {
		c.reset()
	}
	return nil
}

// SetDiscount records the last computed discount amount.
type SetDiscount struct {
	Amount decimal.Decimal
}

func (op SetDiscount) apply(c *Cart) error {
	if op.Amount.IsNegative() {
		return errors.Errorf("negative discount %s", op.Amount)
	}
	c.Discount = op.Amount
	return nil
}

// SetRedeemAmount records the loyalty amount the customer may redeem.
type SetRedeemAmount struct {
	Amount decimal.Decimal
}

func (op SetRedeemAmount) apply(c *Cart) error {
	if op.Amount.IsNegative() {
		return errors.Errorf("negative redeem amount %s", op.Amount)
	}
	c.RedeemAmount = op.Amount
	return nil
}

// SetCoupon stores the coupon code. Surrounding whitespace is dropped; an
// empty code clears the coupon.
type SetCoupon struct {
	Code string
}

func (op SetCoupon) apply(c *Cart) error {
	c.Coupon = strings.TrimSpace(op.Code)
	return nil
}

// SetRemarks merges per-item remarks into the cart. An empty remark deletes
// the entry.
type SetRemarks struct {
	Remarks map[string]string
}

func (op SetRemarks) apply(c *Cart) error {
	if c.Remarks == nil {
		c.Remarks = make(map[string]string, len(op.Remarks))
	}
	maps.Copy(c.Remarks, op.Remarks)
	maps.DeleteFunc(c.Remarks, func(_, v string) bool { return v == "" })
	return nil
}
