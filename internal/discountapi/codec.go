package discountapi

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/minmin-cart/internal/domain/discount"
)

func encodeRequest(e *jx.Encoder, req discount.CheckRequest) {
	e.ObjStart()
	e.FieldStart("tenant")
	e.Str(req.Tenant)
	e.FieldStart("branch")
	e.Str(req.Branch)
	if coupon := discount.NormalizeCoupon(req.Coupon); coupon != "" {
		e.FieldStart("coupon")
		e.Str(coupon)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		e.FieldStart("menu_item")
		e.Str(it.MenuItem)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// decodeResult reads the check response. The body must be a JSON object;
// any field of the wrong shape falls back to its zero value, so a malformed
// freeItems list means no free items.
func decodeResult(d *jx.Decoder) (*discount.Result, error) {
	if d.Next() != jx.Object {
		return nil, errors.New("response is not an object")
	}

	res := &discount.Result{}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "discount_amount":
			v, ok, err := readDecimal(d)
			if err != nil {
				return errors.Wrap(err, "discount_amount")
			}
			if ok {
				res.Amount = v
			}
		case "redeem_amount":
			v, ok, err := readDecimal(d)
			if err != nil {
				return errors.Wrap(err, "redeem_amount")
			}
			if ok {
				res.RedeemAmount = v
			}
		case "typeDiscount":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "typeDiscount")
			}
			res.Type = discount.Type(v)
		case "freeItems":
			items, err := readFreeItems(d)
			if err != nil {
				return errors.Wrap(err, "freeItems")
			}
			res.FreeItems = items
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

var (
	minQuantity = decimal.NewFromInt(math.MinInt32)
	maxQuantity = decimal.NewFromInt(math.MaxInt32)
)

// readFreeItems reads a list of {itemId: quantity} objects. Entries that are
// not objects and quantities that are not whole numbers fitting int32 are
// skipped.
func readFreeItems(d *jx.Decoder) ([]discount.FreeItem, error) {
	if d.Next() != jx.Array {
		return nil, d.Skip()
	}

	var items []discount.FreeItem
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			v, ok, err := readDecimal(d)
			if err != nil {
				return err
			}
			if !ok || !v.Equal(v.Truncate(0)) || v.LessThan(minQuantity) || v.GreaterThan(maxQuantity) {
				return nil
			}
			items = append(items, discount.FreeItem{ItemID: string(key), Quantity: int(v.IntPart())})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// readDecimal reads a JSON number or a numeric string. Other values are
// skipped and reported as absent.
func readDecimal(d *jx.Decoder) (decimal.Decimal, bool, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, false, err
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false, nil
		}
		return v, true, nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, false, err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, false, nil
		}
		return v, true, nil
	default:
		return decimal.Zero, false, d.Skip()
	}
}

// errorMessage extracts the "error" or "detail" field of an error body, or
// returns the trimmed body.
func errorMessage(body []byte) string {
	var msg string
	d := jx.DecodeBytes(body)
	if d.Next() == jx.Object {
		_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "error", "detail":
				if d.Next() == jx.String && msg == "" {
					v, err := d.Str()
					if err != nil {
						return err
					}
					msg = v
					return nil
				}
			}
			return d.Skip()
		})
	}
	if msg != "" {
		return msg
	}
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		n := limit
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return s
}
