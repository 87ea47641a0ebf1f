package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoaderConfig(files ...string) aconfig.Config {
	return aconfig.Config{
		EnvPrefix: "MINMIN",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MINMIN_DATABASE_URL", "postgres://localhost/minmin")
	t.Setenv("MINMIN_DISCOUNT_URL", "https://discount.example.com/api")

	cfg, err := loadConfig(testLoaderConfig())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, CartStorePostgres, cfg.CartStore)
	assert.Equal(t, 10*time.Second, cfg.Discount.Timeout)
	assert.True(t, cfg.Reconcile.IncludeFreeLines)
	assert.Equal(t, 100000, cfg.Reconcile.TrackedCarts)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, "minmin.cart", cfg.Events.Exchange)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")
	t.Setenv("MINMIN_DISCOUNT_URL", "https://discount.example.com/api")

	cfg, err := loadConfig(testLoaderConfig())
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://yaml/db
cart_store: memory
discount:
  url: https://discount.example.com/api
  timeout: 3s
reconcile:
  include_free_lines: false
`), 0o600))

	cfg, err := loadConfig(testLoaderConfig(path))
	require.NoError(t, err)
	assert.Equal(t, "postgres://yaml/db", cfg.DatabaseURL)
	assert.Equal(t, CartStoreMemory, cfg.CartStore)
	assert.Equal(t, 3*time.Second, cfg.Discount.Timeout)
	assert.False(t, cfg.Reconcile.IncludeFreeLines)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing database",
			env:  map[string]string{"MINMIN_DISCOUNT_URL": "https://d.example.com"},
		},
		{
			name: "missing discount url",
			env:  map[string]string{"MINMIN_DATABASE_URL": "postgres://localhost/db"},
		},
		{
			name: "unknown cart store",
			env: map[string]string{
				"MINMIN_DATABASE_URL": "postgres://localhost/db",
				"MINMIN_DISCOUNT_URL": "https://d.example.com",
				"MINMIN_CART_STORE":   "redis",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig(testLoaderConfig())
			require.Error(t, err)
		})
	}
}
