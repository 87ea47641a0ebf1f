// Package session implements the cart operations of an ordering session.
// Every mutation is followed by a discount reconciliation.
package session

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/reconcile"
)

var (
	// ErrPromotionLine is returned when a customer tries to edit a line
	// granted by a promotion.
	ErrPromotionLine = errors.New("promotion lines cannot be edited")
	// ErrLineNotFound is returned when the cart has no line for the item.
	ErrLineNotFound = errors.New("item not in cart")
	// ErrItemUnavailable is returned when a menu item is not orderable.
	ErrItemUnavailable = errors.New("menu item unavailable")
)

// DiscountError wraps a failed explicit discount refresh.
type DiscountError struct {
	Err error
}

func (e *DiscountError) Error() string {
	return "discount check failed: " + e.Err.Error()
}

func (e *DiscountError) Unwrap() error {
	return e.Err
}

// Reconciler runs discount reconciliation for a cart.
type Reconciler interface {
	Reconcile(ctx context.Context, cartID, coupon string) (*reconcile.Outcome, error)
	Trigger(ctx context.Context, cartID string, version int64) (*reconcile.Outcome, error)
	Forget(cartID string)
}

// View is a cart with its price breakdown.
type View struct {
	Cart   *cart.Cart
	Totals cart.Totals
	// DiscountStale is set when the discount could not be refreshed after
	// the last change; the cart still reflects the change itself.
	DiscountStale bool
}

func newView(c *cart.Cart) *View {
	return &View{Cart: c, Totals: c.Totals()}
}

// AddItemInput is a request to put a menu item into the cart.
type AddItemInput struct {
	ItemID   string
	Quantity int
	Context  cart.Context
}

// ReorderItem is a line of a previous order.
type ReorderItem struct {
	ItemID   string
	Quantity int
}

// ReorderInput is a request to copy a previous order into the cart.
type ReorderInput struct {
	Context cart.Context
	Items   []ReorderItem
}

// Service implements the session cart operations.
type Service struct {
	carts      cart.Store
	menu       catalog.Repository
	reconciler Reconciler
	newID      func() string
}

// NewService creates a Service.
func NewService(carts cart.Store, menu catalog.Repository, r Reconciler) *Service {
	return &Service{
		carts:      carts,
		menu:       menu,
		reconciler: r,
		newID:      uuid.NewString,
	}
}

// Create starts an empty cart.
func (s *Service) Create(ctx context.Context) (*View, error) {
	c := cart.New(s.newID())
	if err := s.carts.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return newView(c), nil
}

// Get returns the cart.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	c, err := s.carts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return newView(c), nil
}

// AddItem adds a paid line for a catalog item. The cart takes the item's
// restaurant settings.
func (s *Service) AddItem(ctx context.Context, id string, in AddItemInput) (*View, error) {
	if in.Quantity <= 0 {
		return nil, cart.ErrInvalidQuantity
	}
	item, err := s.menu.GetByID(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.Available {
		return nil, ErrItemUnavailable
	}

	sc := in.Context
	switch {
	case sc.RestaurantID == "":
		sc.RestaurantID = item.TenantID
	case sc.RestaurantID != item.TenantID:
		return nil, cart.ErrContextMismatch
	}

	return s.mutate(ctx, id, cart.NewPatch(cart.AddLine{
		Line:    paidLine(item, in.Quantity),
		Context: sc,
		Tenant:  tenantOf(item),
	}))
}

// SetQuantity changes the quantity of a paid line. Zero removes it.
func (s *Service) SetQuantity(ctx context.Context, id, itemID string, quantity int) (*View, error) {
	if quantity < 0 {
		return nil, cart.ErrInvalidQuantity
	}
	if err := s.checkPaidLine(ctx, id, itemID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, cart.NewPatch(cart.SetQuantity{Key: cart.PaidKey(itemID), Quantity: quantity}))
}

// RemoveItem drops a paid line.
func (s *Service) RemoveItem(ctx context.Context, id, itemID string) (*View, error) {
	if err := s.checkPaidLine(ctx, id, itemID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, cart.NewPatch(cart.RemoveLine{Key: cart.PaidKey(itemID)}))
}

// ApplyCoupon stores the coupon and checks it right away. An empty code
// removes the coupon.
func (s *Service) ApplyCoupon(ctx context.Context, id, code string) (*View, error) {
	c, err := s.carts.Apply(ctx, id, cart.NewPatch(cart.SetCoupon{Code: code}))
	if err != nil {
		return nil, err
	}
	if c.Context.BranchID == "" {
		return newView(c), nil
	}
	out, err := s.reconciler.Reconcile(ctx, id, c.Coupon)
	return s.afterReconcile(ctx, c, out, err)
}

// SetRemarks merges per-item remarks into the cart.
func (s *Service) SetRemarks(ctx context.Context, id string, remarks map[string]string) (*View, error) {
	c, err := s.carts.Apply(ctx, id, cart.NewPatch(cart.SetRemarks{Remarks: remarks}))
	if err != nil {
		return nil, err
	}
	return newView(c), nil
}

// Reorder copies a previous order into the cart at current catalog prices.
// Items that are gone or unavailable are left out.
func (s *Service) Reorder(ctx context.Context, id string, in ReorderInput) (*View, error) {
	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ItemID)
	}
	items, err := s.menu.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lookup reorder items")
	}
	byID := catalog.Index(items)

	var (
		lines  []cart.Line
		tenant cart.Tenant
	)
	for _, it := range in.Items {
		item, ok := byID[it.ItemID]
		if !ok || !item.Available || it.Quantity <= 0 {
			zctx.From(ctx).Debug("Skipping reorder item", zap.String("item_id", it.ItemID))
			continue
		}
		if in.Context.RestaurantID != "" && item.TenantID != in.Context.RestaurantID {
			return nil, cart.ErrContextMismatch
		}
		lines = append(lines, paidLine(&item, it.Quantity))
		tenant = tenantOf(&item)
	}

	return s.mutate(ctx, id, cart.NewPatch(cart.Reorder{Lines: lines, Context: in.Context, Tenant: tenant}))
}

// Clear empties the cart. Reconciliations in flight for it are dropped.
func (s *Service) Clear(ctx context.Context, id string) (*View, error) {
	c, err := s.carts.Apply(ctx, id, cart.NewPatch(cart.Clear{}))
	if err != nil {
		return nil, err
	}
	s.reconciler.Forget(id)
	return newView(c), nil
}

// Refresh re-checks the discount with the stored coupon. Unlike mutations,
// a failed check is returned as a *DiscountError.
func (s *Service) Refresh(ctx context.Context, id string) (*View, error) {
	c, err := s.carts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := s.reconciler.Reconcile(ctx, id, c.Coupon)
	switch {
	case errors.Is(err, reconcile.ErrSuperseded):
		return s.Get(ctx, id)
	case errors.Is(err, cart.ErrNotFound):
		return nil, err
	case err != nil:
		return nil, &DiscountError{Err: err}
	}
	return newView(out.Cart), nil
}

// mutate applies p and reconciles the result.
func (s *Service) mutate(ctx context.Context, id string, p cart.Patch) (*View, error) {
	c, err := s.carts.Apply(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if c.Context.BranchID == "" {
		return newView(c), nil
	}
	out, err := s.reconciler.Trigger(ctx, id, c.Version)
	return s.afterReconcile(ctx, c, out, err)
}

// afterReconcile builds the view after a mutation. A failed reconciliation
// keeps the mutation and flags the discount as stale.
func (s *Service) afterReconcile(ctx context.Context, c *cart.Cart, out *reconcile.Outcome, err error) (*View, error) {
	switch {
	case errors.Is(err, reconcile.ErrSuperseded):
		// A newer run owns the cart now.
		latest, getErr := s.carts.Get(ctx, c.ID)
		if getErr != nil {
			return nil, getErr
		}
		return newView(latest), nil
	case err != nil:
		zctx.From(ctx).Warn("Discount reconciliation failed",
			zap.String("cart_id", c.ID),
			zap.Error(err),
		)
		v := newView(c)
		v.DiscountStale = true
		return v, nil
	case out != nil && out.Cart != nil:
		return newView(out.Cart), nil
	default:
		return newView(c), nil
	}
}

// checkPaidLine reports whether the cart has a paid line for itemID.
func (s *Service) checkPaidLine(ctx context.Context, id, itemID string) error {
	c, err := s.carts.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := c.Line(cart.PaidKey(itemID)); ok {
		return nil
	}
	if _, ok := c.Line(cart.FreeKey(itemID)); ok {
		return ErrPromotionLine
	}
	return ErrLineNotFound
}

func paidLine(item *catalog.MenuItem, quantity int) cart.Line {
	return cart.Line{
		ItemID:      item.ID,
		Name:        item.Name,
		Image:       item.Image,
		Description: item.Description,
		Quantity:    quantity,
		Price:       item.Price,
		Origin:      cart.OriginUser,
	}
}

func tenantOf(item *catalog.MenuItem) cart.Tenant {
	return cart.Tenant{
		PaymentAPIKey:    item.Tenant.PaymentAPIKey,
		PaymentPublicKey: item.Tenant.PaymentPublicKey,
		Tax:              item.Tenant.Tax,
		ServiceCharge:    item.Tenant.ServiceCharge,
	}
}
