//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/minmin-cart/internal/domain/auth"
	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/domain/discount"
	"github.com/xenking/minmin-cart/internal/reconcile"
	"github.com/xenking/minmin-cart/internal/storage/postgres"
)

func seedTenant(t *testing.T, tenantID string, items ...catalog.MenuItem) *postgres.CatalogRepository {
	t.Helper()
	ctx := context.Background()
	repo := postgres.NewCatalogRepository(pool)

	require.NoError(t, repo.UpsertTenant(ctx, catalog.Tenant{
		ID:            tenantID,
		Name:          "Cafe " + tenantID,
		Tax:           decimal.NewFromInt(15),
		ServiceCharge: decimal.NewFromInt(5),
	}))
	for i := range items {
		items[i].TenantID = tenantID
	}
	require.NoError(t, repo.UpsertMenuItems(ctx, items))
	return repo
}

func newCart(t *testing.T, store *postgres.CartStore) *cart.Cart {
	t.Helper()
	c := cart.New(uuid.NewString())
	require.NoError(t, store.Create(context.Background(), c))
	return c
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()
	tenant := "t-" + uuid.NewString()
	repo := seedTenant(t, tenant,
		catalog.MenuItem{ID: tenant + "-burger", Name: "Burger", Price: decimal.RequireFromString("320.50"), Available: true},
		catalog.MenuItem{ID: tenant + "-tibs", Name: "Tibs", Price: decimal.NewFromInt(380)},
	)

	item, err := repo.GetByID(ctx, tenant+"-burger")
	require.NoError(t, err)
	assert.Equal(t, tenant, item.TenantID)
	assert.Equal(t, tenant, item.Tenant.ID)
	assert.True(t, decimal.RequireFromString("320.5").Equal(item.Price))
	assert.True(t, decimal.NewFromInt(15).Equal(item.Tenant.Tax))

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	items, err := repo.GetByIDs(ctx, []string{tenant + "-burger", "missing", tenant + "-tibs"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	all, err := repo.ListByTenant(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, catalog.Index(all)[tenant+"-tibs"].Available)
}

func TestCartStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewCartStore(pool)
	c := newCart(t, store)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)

	updated, err := store.Apply(ctx, c.ID, cart.NewPatch(
		cart.AddLine{
			Line:    cart.Line{ItemID: "burger", Name: "Burger", Quantity: 2, Price: decimal.NewFromInt(100), Origin: cart.OriginUser},
			Context: cart.Context{RestaurantID: "r1", BranchID: "b1", TableID: "t4"},
			Tenant:  cart.Tenant{Tax: decimal.NewFromInt(15)},
		},
		cart.AddLine{
			Line:    cart.Line{ItemID: "burger", Name: "Burger", Quantity: 1, Price: decimal.Zero, Origin: cart.OriginPromotion},
			Context: cart.Context{RestaurantID: "r1", BranchID: "b1", TableID: "t4"},
			Tenant:  cart.Tenant{Tax: decimal.NewFromInt(15)},
		},
		cart.SetDiscount{Amount: decimal.RequireFromString("12.50")},
		cart.SetCoupon{Code: "SAVE10"},
		cart.SetRemarks{Remarks: map[string]string{"burger": "no onions"}},
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	got, err = store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, got.Version)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, cart.PaidKey("burger"), got.Lines[0].Key())
	assert.Equal(t, cart.FreeKey("burger"), got.Lines[1].Key())
	assert.Equal(t, cart.Context{RestaurantID: "r1", BranchID: "b1", TableID: "t4"}, got.Context)
	assert.True(t, decimal.RequireFromString("12.5").Equal(got.Discount))
	assert.Equal(t, "SAVE10", got.Coupon)
	assert.Equal(t, map[string]string{"burger": "no onions"}, got.Remarks)
	assert.True(t, decimal.NewFromInt(200).Equal(got.Totals().Subtotal))

	require.NoError(t, store.Delete(ctx, c.ID))
	_, err = store.Get(ctx, c.ID)
	require.ErrorIs(t, err, cart.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, c.ID), cart.ErrNotFound)
}

func TestCartStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewCartStore(pool)
	c := newCart(t, store)

	_, err := store.Apply(ctx, c.ID, cart.NewPatch(cart.SetCoupon{Code: "A"}))
	require.NoError(t, err)

	_, err = store.Apply(ctx, c.ID, cart.Patch{
		ExpectedVersion: 7,
		Ops:             []cart.Op{cart.SetCoupon{Code: "B"}},
	})
	require.ErrorIs(t, err, cart.ErrVersionConflict)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Coupon)
}

func TestCartStore_ConcurrentApply(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewCartStore(pool)
	c := newCart(t, store)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Apply(ctx, c.ID, cart.NewPatch(cart.AddLine{
				Line: cart.Line{ItemID: "fries", Quantity: 1, Price: decimal.NewFromInt(30), Origin: cart.OriginUser},
			}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, n, got.Lines[0].Quantity)
	assert.Equal(t, int64(n), got.Version)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAPIKeyRepository(pool)
	pepper := []byte("pepper")
	id := uuid.NewString()

	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      id,
		KeyHash: auth.HashKey("key-"+id, pepper),
		Name:    "test",
		Scopes:  []string{"cart"},
	}))

	a := auth.NewAuthenticator(repo, pepper)
	info, err := a.Authenticate(ctx, "key-"+id)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, []string{"cart"}, info.Scopes)

	_, err = a.Authenticate(ctx, "wrong")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

type staticChecker struct {
	res *discount.Result
}

func (c staticChecker) Check(context.Context, discount.CheckRequest) (*discount.Result, error) {
	if c.res == nil {
		return nil, errors.New("no result")
	}
	return c.res, nil
}

func TestReconcile_PostgresStore(t *testing.T) {
	ctx := context.Background()
	tenant := "t-" + uuid.NewString()
	burger, fries := tenant+"-burger", tenant+"-fries"
	menu := seedTenant(t, tenant,
		catalog.MenuItem{ID: burger, Name: "Burger", Price: decimal.NewFromInt(100), Available: true},
		catalog.MenuItem{ID: fries, Name: "Fries", Description: "Crispy", Price: decimal.NewFromInt(30), Available: true},
	)
	store := postgres.NewCartStore(pool)
	c := newCart(t, store)
	_, err := store.Apply(ctx, c.ID, cart.NewPatch(cart.AddLine{
		Line:    cart.Line{ItemID: burger, Name: "Burger", Quantity: 2, Price: decimal.NewFromInt(100), Origin: cart.OriginUser},
		Context: cart.Context{RestaurantID: tenant, BranchID: "b1"},
	}))
	require.NoError(t, err)

	r, err := reconcile.New(store, staticChecker{res: &discount.Result{
		Amount:    decimal.NewFromInt(10),
		Type:      discount.TypeFreeItem,
		FreeItems: []discount.FreeItem{{ItemID: fries, Quantity: 1}},
	}}, menu, reconcile.Options{IncludeFreeLines: true})
	require.NoError(t, err)

	out, err := r.Reconcile(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusApplied, out.Status)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	free, ok := got.Line(cart.FreeKey(fries))
	require.True(t, ok)
	assert.Equal(t, 1, free.Quantity)
	assert.True(t, free.Price.IsZero())
	assert.Equal(t, "Crispy", free.Description)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Discount))

	// Same result again leaves the cart alone.
	out, err = r.Reconcile(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusUnchanged, out.Status)
}
