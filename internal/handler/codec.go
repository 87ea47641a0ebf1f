package handler

import (
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/session"
)

// decodeBody reads the request body with fn. Decoding failures are
// reported as 400.
func decodeBody[T any](h *Handler, r *http.Request, fn func(d *jx.Decoder) (T, error)) (T, error) {
	var zero T
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		return zero, badRequest("read body: %v", err)
	}
	if int64(len(body)) > h.maxBody {
		return zero, &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return zero, badRequest("request body must be a JSON object")
	}
	v, err := fn(d)
	if err != nil {
		return zero, badRequest("invalid request: %v", err)
	}
	return v, nil
}

func decodeContext(c *cart.Context, key string, d *jx.Decoder) (bool, error) {
	var dst *string
	switch key {
	case "restaurantId":
		dst = &c.RestaurantID
	case "branchId":
		dst = &c.BranchID
	case "tableId":
		dst = &c.TableID
	default:
		return false, nil
	}
	v, err := d.Str()
	if err != nil {
		return true, errors.Wrap(err, key)
	}
	*dst = v
	return true, nil
}

func decodeAddItem(d *jx.Decoder) (session.AddItemInput, error) {
	var in session.AddItemInput
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		k := string(key)
		if ok, err := decodeContext(&in.Context, k, d); ok || err != nil {
			return err
		}
		switch k {
		case "itemId":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "itemId")
			}
			in.ItemID = v
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			in.Quantity = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return in, err
	}
	if in.ItemID == "" {
		return in, errors.New("itemId is required")
	}
	return in, nil
}

func decodeQuantity(d *jx.Decoder) (int, error) {
	qty, seen := 0, false
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		if err != nil {
			return errors.Wrap(err, "quantity")
		}
		qty, seen = v, true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !seen {
		return 0, errors.New("quantity is required")
	}
	return qty, nil
}

func decodeCoupon(d *jx.Decoder) (string, error) {
	var code string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "coupon" {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		if err != nil {
			return errors.Wrap(err, "coupon")
		}
		code = v
		return nil
	})
	return code, err
}

func decodeRemarks(d *jx.Decoder) (map[string]string, error) {
	remarks := make(map[string]string)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "remarks" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, itemID []byte) error {
			v, err := d.Str()
			if err != nil {
				return errors.Wrapf(err, "remark %q", itemID)
			}
			remarks[string(itemID)] = v
			return nil
		})
	})
	return remarks, err
}

func decodeReorder(d *jx.Decoder) (session.ReorderInput, error) {
	var in session.ReorderInput
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		k := string(key)
		if ok, err := decodeContext(&in.Context, k, d); ok || err != nil {
			return err
		}
		if k != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var it session.ReorderItem
			if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "itemId":
					v, err := d.Str()
					if err != nil {
						return errors.Wrap(err, "itemId")
					}
					it.ItemID = v
				case "quantity":
					v, err := d.Int()
					if err != nil {
						return errors.Wrap(err, "quantity")
					}
					it.Quantity = v
				default:
					return d.Skip()
				}
				return nil
			}); err != nil {
				return err
			}
			in.Items = append(in.Items, it)
			return nil
		})
	})
	return in, err
}

func (h *Handler) writeView(w http.ResponseWriter, status int, v *session.View) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	h.encodeView(e, v)
	writeJSON(w, status, e.Bytes())
}

func (h *Handler) encodeView(e *jx.Encoder, v *session.View) {
	c := v.Cart
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("restaurantId")
	e.Str(c.Context.RestaurantID)
	e.FieldStart("branchId")
	e.Str(c.Context.BranchID)
	e.FieldStart("tableId")
	e.Str(c.Context.TableID)

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range c.Lines {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(l.ItemID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("image")
		e.Str(h.imageURL(l.Image))
		e.FieldStart("description")
		e.Str(l.Description)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		money(e, l.Price)
		e.FieldStart("isFree")
		e.Bool(l.IsFree())
		e.FieldStart("origin")
		e.Str(string(l.Key().Origin))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("coupon")
	e.Str(c.Coupon)
	e.FieldStart("remarks")
	e.ObjStart()
	keys := make([]string, 0, len(c.Remarks))
	for k := range c.Remarks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.FieldStart(k)
		e.Str(c.Remarks[k])
	}
	e.ObjEnd()

	t := v.Totals
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"subtotal", t.Subtotal},
		{"tax", t.Tax},
		{"serviceCharge", t.ServiceCharge},
		{"discount", t.Discount},
		{"redeemAmount", t.RedeemAmount},
		{"total", t.Total},
		{"payable", t.Payable},
	} {
		e.FieldStart(f.name)
		money(e, f.value)
	}

	e.FieldStart("discountStale")
	e.Bool(v.DiscountStale)
	e.FieldStart("version")
	e.Int64(c.Version)
	if !c.UpdatedAt.IsZero() {
		e.FieldStart("updatedAt")
		e.Str(c.UpdatedAt.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()
}

func (h *Handler) writeMenuItem(w http.ResponseWriter, item *catalog.MenuItem) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("id")
	e.Str(item.ID)
	e.FieldStart("restaurantId")
	e.Str(item.TenantID)
	e.FieldStart("name")
	e.Str(item.Name)
	e.FieldStart("description")
	e.Str(item.Description)
	e.FieldStart("image")
	e.Str(h.imageURL(item.Image))
	e.FieldStart("price")
	money(e, item.Price)
	e.FieldStart("available")
	e.Bool(item.Available)
	e.ObjEnd()

	writeJSON(w, http.StatusOK, e.Bytes())
}

// money writes an amount as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
