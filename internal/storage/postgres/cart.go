package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/minmin-cart/internal/domain/cart"
)

const (
	cartColumns = `id, restaurant_id, branch_id, table_id, payment_api_key, payment_public_key,
		tax, service_charge, discount, redeem_amount, coupon, remarks, version, updated_at`

	insertCartSQL = `INSERT INTO carts (` + cartColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

	lockCartSQL = getCartSQL + ` FOR UPDATE`

	updateCartSQL = `UPDATE carts SET restaurant_id = $2, branch_id = $3, table_id = $4,
		payment_api_key = $5, payment_public_key = $6, tax = $7, service_charge = $8,
		discount = $9, redeem_amount = $10, coupon = $11, remarks = $12, version = $13,
		updated_at = $14
		WHERE id = $1`

	listLinesSQL = `SELECT item_id, origin, name, image, description, quantity, price
		FROM cart_lines WHERE cart_id = $1 ORDER BY position`

	deleteLinesSQL = `DELETE FROM cart_lines WHERE cart_id = $1`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`
)

var lineColumns = []string{
	"cart_id", "item_id", "origin", "position", "name", "image", "description", "quantity", "price",
}

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store backed by PostgreSQL. A patch is applied
// inside a transaction holding a row lock on the cart, and the cart lines are
// rewritten as a whole.
type CartStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool, now: time.Now}
}

// Create persists a new cart with its lines.
func (s *CartStore) Create(ctx context.Context, c *cart.Cart) error {
	c = c.Clone()
	c.UpdatedAt = s.now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertCartSQL, cartArgs(c)...); err != nil {
			return errors.Wrap(err, "insert cart")
		}
		return insertLines(ctx, tx, c)
	})
	if err != nil {
		return errors.Wrapf(err, "create cart %q", c.ID)
	}
	return nil
}

// Get loads a cart and its lines.
func (s *CartStore) Get(ctx context.Context, id string) (*cart.Cart, error) {
	c, err := loadCart(ctx, s.pool, getCartSQL, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Apply locks the cart, applies the patch and stores the result.
func (s *CartStore) Apply(ctx context.Context, id string, p cart.Patch) (*cart.Cart, error) {
	var updated *cart.Cart
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := loadCart(ctx, tx, lockCartSQL, id)
		if err != nil {
			return err
		}
		next, err := p.ApplyTo(current)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.now()

		if _, err := tx.Exec(ctx, updateCartSQL, cartArgs(next)...); err != nil {
			return errors.Wrap(err, "update cart")
		}
		if _, err := tx.Exec(ctx, deleteLinesSQL, id); err != nil {
			return errors.Wrap(err, "delete lines")
		}
		if err := insertLines(ctx, tx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the cart and its lines.
func (s *CartStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteCartSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete cart %q", id)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadCart(ctx context.Context, q querier, sql, id string) (*cart.Cart, error) {
	c := cart.New(id)
	err := q.QueryRow(ctx, sql, id).Scan(
		&c.ID, &c.Context.RestaurantID, &c.Context.BranchID, &c.Context.TableID,
		&c.Tenant.PaymentAPIKey, &c.Tenant.PaymentPublicKey, &c.Tenant.Tax, &c.Tenant.ServiceCharge,
		&c.Discount, &c.RedeemAmount, &c.Coupon, &c.Remarks, &c.Version, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart %q", id)
	}

	rows, err := q.Query(ctx, listLinesSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list lines of %q", id)
	}
	c.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var (
			l      cart.Line
			origin string
		)
		err := row.Scan(&l.ItemID, &origin, &l.Name, &l.Image, &l.Description, &l.Quantity, &l.Price)
		l.Origin = cart.Origin(origin)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "collect lines of %q", id)
	}
	if c.Remarks == nil {
		c.Remarks = map[string]string{}
	}
	return c, nil
}

func insertLines(ctx context.Context, tx pgx.Tx, c *cart.Cart) error {
	if len(c.Lines) == 0 {
		return nil
	}
	rows := make([][]any, len(c.Lines))
	for i, l := range c.Lines {
		rows[i] = []any{
			c.ID, l.ItemID, string(l.Key().Origin), i, l.Name, l.Image, l.Description, l.Quantity, l.Price,
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"cart_lines"}, lineColumns, pgx.CopyFromRows(rows)); err != nil {
		return errors.Wrap(err, "copy lines")
	}
	return nil
}

func cartArgs(c *cart.Cart) []any {
	remarks := c.Remarks
	if remarks == nil {
		remarks = map[string]string{}
	}
	return []any{
		c.ID, c.Context.RestaurantID, c.Context.BranchID, c.Context.TableID,
		c.Tenant.PaymentAPIKey, c.Tenant.PaymentPublicKey, c.Tenant.Tax, c.Tenant.ServiceCharge,
		c.Discount, c.RedeemAmount, c.Coupon, remarks, c.Version, c.UpdatedAt,
	}
}
