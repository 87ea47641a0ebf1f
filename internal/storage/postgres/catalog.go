package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/minmin-cart/internal/domain/catalog"
)

const (
	menuItemColumns = `m.id, m.tenant_id, m.name, m.description, m.image, m.price, m.available,
		t.id, t.name, t.payment_api_key, t.payment_public_key, t.tax, t.service_charge`

	getMenuItemSQL = `SELECT ` + menuItemColumns + `
		FROM menu_items m JOIN tenants t ON t.id = m.tenant_id WHERE m.id = $1`

	getMenuItemsSQL = `SELECT ` + menuItemColumns + `
		FROM menu_items m JOIN tenants t ON t.id = m.tenant_id WHERE m.id = ANY($1)`

	listMenuItemsSQL = `SELECT ` + menuItemColumns + `
		FROM menu_items m JOIN tenants t ON t.id = m.tenant_id WHERE m.tenant_id = $1 ORDER BY m.id`

	upsertTenantSQL = `INSERT INTO tenants (id, name, payment_api_key, payment_public_key, tax, service_charge)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, payment_api_key = EXCLUDED.payment_api_key,
			payment_public_key = EXCLUDED.payment_public_key, tax = EXCLUDED.tax,
			service_charge = EXCLUDED.service_charge`

	upsertMenuItemSQL = `INSERT INTO menu_items (id, tenant_id, name, description, image, price, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, name = EXCLUDED.name,
			description = EXCLUDED.description, image = EXCLUDED.image, price = EXCLUDED.price,
			available = EXCLUDED.available`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a single menu item with its tenant.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.MenuItem, error) {
	rows, err := r.pool.Query(ctx, getMenuItemSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get menu item %q", id)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanMenuItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get menu item %q", id)
	}
	return &item, nil
}

// GetByIDs returns the menu items matching ids.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.MenuItem, error) {
	rows, err := r.pool.Query(ctx, getMenuItemsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get menu items by ids")
	}
	items, err := pgx.CollectRows(rows, scanMenuItem)
	if err != nil {
		return nil, errors.Wrap(err, "collect menu items")
	}
	return items, nil
}

// ListByTenant returns a restaurant's menu ordered by id.
func (r *CatalogRepository) ListByTenant(ctx context.Context, tenantID string) ([]catalog.MenuItem, error) {
	rows, err := r.pool.Query(ctx, listMenuItemsSQL, tenantID)
	if err != nil {
		return nil, errors.Wrapf(err, "list menu of %q", tenantID)
	}
	items, err := pgx.CollectRows(rows, scanMenuItem)
	if err != nil {
		return nil, errors.Wrap(err, "collect menu items")
	}
	return items, nil
}

// UpsertTenant inserts or updates a tenant.
func (r *CatalogRepository) UpsertTenant(ctx context.Context, t catalog.Tenant) error {
	_, err := r.pool.Exec(ctx, upsertTenantSQL,
		t.ID, t.Name, t.PaymentAPIKey, t.PaymentPublicKey, t.Tax, t.ServiceCharge,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert tenant %q", t.ID)
	}
	return nil
}

// UpsertMenuItems inserts or updates items in a single batch.
func (r *CatalogRepository) UpsertMenuItems(ctx context.Context, items []catalog.MenuItem) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(upsertMenuItemSQL,
			it.ID, it.TenantID, it.Name, it.Description, it.Image, it.Price, it.Available,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert menu items")
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (catalog.MenuItem, error) {
	var it catalog.MenuItem
	err := row.Scan(
		&it.ID, &it.TenantID, &it.Name, &it.Description, &it.Image, &it.Price, &it.Available,
		&it.Tenant.ID, &it.Tenant.Name, &it.Tenant.PaymentAPIKey, &it.Tenant.PaymentPublicKey,
		&it.Tenant.Tax, &it.Tenant.ServiceCharge,
	)
	return it, err
}
