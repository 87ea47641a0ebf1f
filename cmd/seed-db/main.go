package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/minmin-cart/internal/domain/auth"
	"github.com/xenking/minmin-cart/internal/domain/catalog"
	"github.com/xenking/minmin-cart/internal/storage/postgres"
)

type menuFile struct {
	Tenants []tenantJSON `json:"tenants"`
}

type tenantJSON struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Tax              decimal.Decimal `json:"tax"`
	ServiceCharge    decimal.Decimal `json:"serviceCharge"`
	PaymentAPIKey    string          `json:"paymentApiKey"`
	PaymentPublicKey string          `json:"paymentPublicKey"`
	Menu             []menuItemJSON  `json:"menu"`
}

type menuItemJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Available   *bool           `json:"available"`
}

func main() {
	var (
		databaseURL  string
		menuPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&menuPath, "menu-file", "db/seed/menu.json", "path to menu JSON file, optionally gzip compressed (.gz)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or MINMIN_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MINMIN_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("MINMIN_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or MINMIN_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MINMIN_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, menuPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, menuPath, apiKey, pepper string) error {
	menu, err := readMenu(menuPath)
	if err != nil {
		return errors.Wrap(err, "read menu")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedMenu(ctx, postgres.NewCatalogRepository(pool), menu); err != nil {
		return errors.Wrap(err, "seed menu")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

// readMenu parses the menu file. Files ending in .gz are decompressed with
// parallel gzip.
func readMenu(path string) (*menuFile, error) {
	slog.Info("reading menu file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open menu file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var menu menuFile
	if err := json.NewDecoder(r).Decode(&menu); err != nil {
		return nil, errors.Wrap(err, "parse menu JSON")
	}
	return &menu, nil
}

// catalogWriter is the write side of the catalog repository.
type catalogWriter interface {
	UpsertTenant(ctx context.Context, t catalog.Tenant) error
	UpsertMenuItems(ctx context.Context, items []catalog.MenuItem) error
}

func seedMenu(ctx context.Context, repo catalogWriter, menu *menuFile) error {
	for _, t := range menu.Tenants {
		if t.ID == "" {
			return errors.New("tenant without id")
		}
		tenant := catalog.Tenant{
			ID:               t.ID,
			Name:             t.Name,
			PaymentAPIKey:    t.PaymentAPIKey,
			PaymentPublicKey: t.PaymentPublicKey,
			Tax:              t.Tax,
			ServiceCharge:    t.ServiceCharge,
		}
		if err := repo.UpsertTenant(ctx, tenant); err != nil {
			return errors.Wrapf(err, "upsert tenant %s", t.ID)
		}

		items := make([]catalog.MenuItem, 0, len(t.Menu))
		for _, it := range t.Menu {
			available := it.Available == nil || *it.Available
			items = append(items, catalog.MenuItem{
				ID:          it.ID,
				TenantID:    t.ID,
				Name:        it.Name,
				Description: it.Description,
				Image:       it.Image,
				Price:       it.Price,
				Available:   available,
			})
		}
		if err := repo.UpsertMenuItems(ctx, items); err != nil {
			return errors.Wrapf(err, "upsert menu of %s", t.ID)
		}

		slog.Info("upserted tenant",
			slog.String("id", t.ID),
			slog.String("name", t.Name),
			slog.Int("menu_items", len(items)),
		)
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	if err := repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(apiKey, []byte(pepper)),
		Name:    "Default app key",
		Scopes:  []string{"cart"},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
