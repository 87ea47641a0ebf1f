package cart

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Totals is the price breakdown of a cart.
type Totals struct {
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	ServiceCharge decimal.Decimal
	Discount      decimal.Decimal
	RedeemAmount  decimal.Decimal
	// Total is the displayed cart total: subtotal minus discount.
	Total decimal.Decimal
	// Payable is the checkout amount including tax and service charge, less
	// discount and redeemed loyalty.
	Payable decimal.Decimal
}

// Subtotal sums price * quantity over the paid lines.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		if l.IsFree() {
			continue
		}
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Totals computes the price breakdown. Amounts are rounded to 2 decimal
// places and never negative.
func (c *Cart) Totals() Totals {
	subtotal := c.Subtotal()
	tax := subtotal.Mul(c.Tenant.Tax).Div(hundred)
	service := subtotal.Mul(c.Tenant.ServiceCharge).Div(hundred)

	return Totals{
		Subtotal:      subtotal.Round(2),
		Tax:           tax.Round(2),
		ServiceCharge: service.Round(2),
		Discount:      c.Discount.Round(2),
		RedeemAmount:  c.RedeemAmount.Round(2),
		Total:         floorAtZero(subtotal.Sub(c.Discount)).Round(2),
		Payable:       floorAtZero(subtotal.Add(tax).Add(service).Sub(c.Discount).Sub(c.RedeemAmount)).Round(2),
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
