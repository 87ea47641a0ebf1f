package reconcile

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/domain/discount"
	"github.com/xenking/minmin-cart/internal/events"
)

// ErrSuperseded is returned when a newer reconciliation was started for the
// same cart before this run could apply its result.
// The result is discarded.
var ErrSuperseded = errors.New("reconciliation superseded")

// Status describes how a reconciliation ended.
type Status string

const (
	// StatusApplied means free lines or the discount were updated.
	StatusApplied Status = "applied"
	// StatusUnchanged means the cart already matched the discount result.
	StatusUnchanged Status = "unchanged"
	// StatusEmpty means the cart had nothing to price; no check was made.
	StatusEmpty Status = "empty"
	// StatusSkipped means the cart is not bound to a branch, or the trigger
	// came from the reconciler's own write.
	StatusSkipped Status = "skipped"
	// StatusSuperseded means the result was discarded.
	StatusSuperseded Status = "superseded"
	// StatusFailed means the discount check or catalog lookup failed.
	StatusFailed Status = "failed"
)

// Outcome is the result of a reconciliation run.
type Outcome struct {
	Status Status
	// Cart is the cart after the run.
	Cart *cart.Cart
	// Result is the discount check response, nil when no check was made.
	Result *discount.Result
	// Changes lists the free-line changes that were applied.
	Changes []Change
	// Missing lists free items that could not be added because the catalog
	// does not know them.
	Missing []string
}

// Options configures a Reconciler.
type Options struct {
	// IncludeFreeLines sends promotion lines to the discount check along
	// with paid lines.
	IncludeFreeLines bool
	// TrackedCarts bounds the number of carts with single-flight state.
	TrackedCarts  int
	Publisher     events.Publisher
	MeterProvider metric.MeterProvider
	Now           func() time.Time
}

func (o *Options) setDefaults() {
	if o.TrackedCarts <= 0 {
		o.TrackedCarts = 100_000
	}
	if o.Publisher == nil {
		o.Publisher = events.Nop{}
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Reconciler keeps the promotion lines of carts consistent with the remote
// discount check.
type Reconciler struct {
	carts   cart.Store
	checker discount.Checker
	catalog catalog.Repository

	includeFree bool
	publisher   events.Publisher
	now         func() time.Time
	guard       *guard
	metrics     *metrics
}

// New creates a Reconciler.
func New(carts cart.Store, checker discount.Checker, menu catalog.Repository, opts Options) (*Reconciler, error) {
	opts.setDefaults()

	g, err := newGuard(opts.TrackedCarts)
	if err != nil {
		return nil, errors.Wrap(err, "create guard")
	}
	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	return &Reconciler{
		carts:       carts,
		checker:     checker,
		catalog:     menu,
		includeFree: opts.IncludeFreeLines,
		publisher:   opts.Publisher,
		now:         opts.Now,
		guard:       g,
		metrics:     m,
	}, nil
}

// Reconcile checks the cart against the discount service using coupon, then
// updates its free lines and discount. An empty coupon means no coupon.
func (r *Reconciler) Reconcile(ctx context.Context, cartID, coupon string) (*Outcome, error) {
	return r.run(ctx, cartID, &coupon)
}

// Trigger reconciles the cart after it changed to version, using the coupon
// stored on the cart. Notifications caused by the reconciler's own writes are
// ignored. A zero version means the version is unknown.
func (r *Reconciler) Trigger(ctx context.Context, cartID string, version int64) (*Outcome, error) {
	if r.guard.selfTriggered(cartID, version) {
		r.metrics.recordRun(ctx, StatusSkipped)
		return &Outcome{Status: StatusSkipped}, nil
	}
	return r.run(ctx, cartID, nil)
}

// Forget discards single-flight state for the cart. Runs still in flight for
// it will be superseded.
func (r *Reconciler) Forget(cartID string) {
	r.guard.forget(cartID)
}

func (r *Reconciler) run(ctx context.Context, cartID string, coupon *string) (*Outcome, error) {
	lg := zctx.From(ctx).With(zap.String("cart_id", cartID))
	token := r.guard.issue(cartID)

	out, err := r.reconcile(ctx, lg, cartID, token, coupon)
	switch {
	case errors.Is(err, ErrSuperseded):
		r.metrics.recordRun(ctx, StatusSuperseded)
		lg.Debug("Reconciliation superseded")
	case err != nil:
		r.metrics.recordRun(ctx, StatusFailed)
		lg.Warn("Reconciliation failed", zap.Error(err))
	default:
		r.metrics.recordRun(ctx, out.Status)
	}
	return out, err
}

// maxAttempts bounds how often a run re-reads a cart that changed under it
// without starting a newer run.
const maxAttempts = 3

// errCartMoved is returned by apply when the cart version changed but the
// run is still the latest one for the cart.
var errCartMoved = errors.New("cart changed during reconciliation")

func (r *Reconciler) reconcile(ctx context.Context, lg *zap.Logger, cartID string, token uint64, coupon *string) (*Outcome, error) {
	var (
		req     discount.CheckRequest
		res     *discount.Result
		lastErr error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c, err := r.carts.Get(ctx, cartID)
		if err != nil {
			return nil, errors.Wrap(err, "get cart")
		}
		if c.Context.BranchID == "" {
			return &Outcome{Status: StatusSkipped, Cart: c}, nil
		}

		code := c.Coupon
		if coupon != nil {
			code = *coupon
		}
		items := CheckItems(c.Lines, r.includeFree)
		var out *Outcome
		if len(items) == 0 {
			out, err = r.clearDiscount(ctx, c, token)
		} else {
			next := discount.CheckRequest{
				Tenant: c.Context.RestaurantID,
				Branch: c.Context.BranchID,
				Coupon: discount.NormalizeCoupon(code),
				Items:  items,
			}
			// A result stays valid while the priced request is the same.
			if res == nil || !sameRequest(req, next) {
				req = next
				if res, err = r.check(ctx, req); err != nil {
					return nil, err
				}
			}
			if !r.guard.isLatest(cartID, token) {
				return nil, ErrSuperseded
			}
			out, err = r.applyResult(ctx, lg, c, token, res)
		}
		if !errors.Is(err, errCartMoved) {
			return out, err
		}
		lg.Debug("Cart changed during reconciliation, retrying", zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "after %d attempts", maxAttempts)
}

func (r *Reconciler) check(ctx context.Context, req discount.CheckRequest) (*discount.Result, error) {
	start := time.Now()
	res, err := r.checker.Check(ctx, req)
	r.metrics.recordCheck(ctx, time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "check discount")
	}
	return res, nil
}

// clearDiscount drops the discount of a cart with nothing to price.
func (r *Reconciler) clearDiscount(ctx context.Context, c *cart.Cart, token uint64) (*Outcome, error) {
	if c.Discount.IsZero() {
		return &Outcome{Status: StatusEmpty, Cart: c}, nil
	}
	updated, err := r.apply(ctx, c.ID, token, cart.Patch{
		ExpectedVersion: c.Version,
		Ops:             []cart.Op{cart.SetDiscount{Amount: decimal.Zero}},
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Status: StatusEmpty, Cart: updated}, nil
}

// applyResult plans the free lines of c against res and writes the changes.
func (r *Reconciler) applyResult(ctx context.Context, lg *zap.Logger, c *cart.Cart, token uint64, res *discount.Result) (*Outcome, error) {
	changes := Plan(c.Lines, res)
	ops, applied, missing, err := r.buildOps(ctx, c, changes)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		lg.Warn("Free item not in catalog, skipping", zap.String("item_id", id))
	}

	// Amounts are stored with two decimals.
	amount := money(res.Amount)
	redeem := money(res.RedeemAmount)
	if !amount.Equal(c.Discount.Round(2)) {
		ops = append(ops, cart.SetDiscount{Amount: amount})
	}
	if !redeem.Equal(c.RedeemAmount.Round(2)) {
		ops = append(ops, cart.SetRedeemAmount{Amount: redeem})
	}

	out := &Outcome{Status: StatusUnchanged, Cart: c, Result: res, Missing: missing}
	if len(ops) == 0 {
		return out, nil
	}

	updated, err := r.apply(ctx, c.ID, token, cart.Patch{ExpectedVersion: c.Version, Ops: ops})
	if err != nil {
		return nil, err
	}
	out.Status = StatusApplied
	out.Cart = updated
	out.Changes = applied

	lg.Info("Cart reconciled",
		zap.String("type", string(res.Type)),
		zap.Stringer("discount", amount),
		zap.Int("changes", len(applied)),
	)
	r.publish(ctx, lg, c.ID, res.Type, amount, applied)

	return out, nil
}

func money(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

func sameRequest(a, b discount.CheckRequest) bool {
	return a.Tenant == b.Tenant &&
		a.Branch == b.Branch &&
		a.Coupon == b.Coupon &&
		slices.Equal(a.Items, b.Items)
}

// buildOps turns planned changes into cart ops. New free lines are filled in
// from the catalog; items the catalog does not know are skipped.
func (r *Reconciler) buildOps(ctx context.Context, c *cart.Cart, changes []Change) ([]cart.Op, []Change, []string, error) {
	var newIDs []string
	for _, ch := range changes {
		if ch.New {
			newIDs = append(newIDs, ch.ItemID)
		}
	}

	var menu map[string]catalog.MenuItem
	if len(newIDs) > 0 {
		items, err := r.catalog.GetByIDs(ctx, newIDs)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "lookup free items")
		}
		menu = catalog.Index(items)
	}

	var (
		ops     []cart.Op
		applied []Change
		missing []string
	)
	for _, ch := range changes {
		if !ch.New {
			ops = append(ops, cart.SetQuantity{Key: cart.FreeKey(ch.ItemID), Quantity: ch.Quantity})
			applied = append(applied, ch)
			continue
		}

		item, ok := menu[ch.ItemID]
		if !ok {
			missing = append(missing, ch.ItemID)
			continue
		}
		tenant := c.Tenant
		if item.Tenant.ID != "" {
			tenant = cart.Tenant{
				PaymentAPIKey:    item.Tenant.PaymentAPIKey,
				PaymentPublicKey: item.Tenant.PaymentPublicKey,
				Tax:              item.Tenant.Tax,
				ServiceCharge:    item.Tenant.ServiceCharge,
			}
		}
		ops = append(ops, cart.AddLine{
			Line: cart.Line{
				ItemID:      item.ID,
				Name:        item.Name,
				Image:       item.Image,
				Description: item.Description,
				Quantity:    ch.Quantity,
				Price:       decimal.Zero,
				Origin:      cart.OriginPromotion,
			},
			Context: c.Context,
			Tenant:  tenant,
		})
		applied = append(applied, ch)
	}
	return ops, applied, missing, nil
}

// apply writes the patch if token is still the latest run for the cart. The
// cart is marked as updating while the write is in progress. A version
// conflict is errCartMoved while the run is still the latest, ErrSuperseded
// otherwise.
func (r *Reconciler) apply(ctx context.Context, cartID string, token uint64, p cart.Patch) (*cart.Cart, error) {
	if !r.guard.beginApply(cartID, token) {
		return nil, ErrSuperseded
	}

	updated, err := r.carts.Apply(ctx, cartID, p)
	if err != nil {
		r.guard.endApply(cartID, 0)
		if errors.Is(err, cart.ErrVersionConflict) {
			if r.guard.isLatest(cartID, token) {
				return nil, errCartMoved
			}
			return nil, ErrSuperseded
		}
		return nil, errors.Wrap(err, "apply patch")
	}
	r.guard.endApply(cartID, updated.Version)
	return updated, nil
}

func (r *Reconciler) publish(ctx context.Context, lg *zap.Logger, cartID string, typ discount.Type, amount decimal.Decimal, changes []Change) {
	e := events.CartReconciled{
		CartID:   cartID,
		Type:     string(typ),
		Discount: amount,
		At:       r.now(),
	}
	for _, ch := range changes {
		switch {
		case ch.New:
			e.Added = append(e.Added, events.ItemQuantity{ItemID: ch.ItemID, Quantity: ch.Quantity})
		case ch.IsRemoval():
			e.Removed = append(e.Removed, ch.ItemID)
		default:
			e.Updated = append(e.Updated, events.ItemQuantity{ItemID: ch.ItemID, Quantity: ch.Quantity})
		}
	}
	if err := r.publisher.PublishCartReconciled(ctx, e); err != nil {
		lg.Warn("Publish reconciliation event", zap.Error(err))
	}
}
