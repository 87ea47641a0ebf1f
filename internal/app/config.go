package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Cart store backends.
const (
	CartStorePostgres = "postgres"
	CartStoreMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (MINMIN_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MINMIN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for menu item images" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MINMIN_API_KEY_PEPPER)" flag:"api-key-pepper"`
	CartStore    string `default:"postgres" usage:"Cart storage backend: postgres or memory" flag:"cart-store"`
	Discount     DiscountConfig
	Reconcile    ReconcileConfig
	Catalog      CatalogConfig
	Events       EventsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// DiscountConfig points at the remote discount-check service.
type DiscountConfig struct {
	URL     string        `usage:"Base URL of the discount service" flag:"discount-url"`
	Token   string        `usage:"Bearer token for the discount service" flag:"discount-token"`
	Timeout time.Duration `default:"10s" usage:"Discount check timeout" flag:"discount-timeout"`
}

// ReconcileConfig tunes cart discount reconciliation.
type ReconcileConfig struct {
	IncludeFreeLines bool `default:"true" usage:"Send promotion lines to the discount check" flag:"include-free-lines"`
	TrackedCarts     int  `default:"100000" usage:"Carts tracked for single-flight reconciliation" flag:"tracked-carts"`
}

// CatalogConfig controls the in-process menu item cache.
type CatalogConfig struct {
	CacheSize int           `default:"10000" usage:"Cached menu items" flag:"catalog-cache-size"`
	CacheTTL  time.Duration `default:"5m" usage:"Menu item cache lifetime" flag:"catalog-cache-ttl"`
}

// EventsConfig configures the reconciliation event publisher. Events are
// dropped when AMQPURL is empty.
type EventsConfig struct {
	AMQPURL  string        `usage:"RabbitMQ URL for cart events" flag:"amqp-url"`
	Exchange string        `default:"minmin.cart" usage:"Exchange for cart events"`
	Timeout  time.Duration `default:"5s" usage:"Publish timeout" flag:"events-timeout"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max     int           `default:"100" usage:"Max requests per window"`
	Window  time.Duration `default:"1m"  usage:"Rate limit window duration"`
	MaxKeys int           `default:"10000" usage:"Max tracked clients"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "MINMIN",
		Files:     []string{"config.yaml", "/etc/minmin/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the MINMIN_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set MINMIN_DATABASE_URL or DATABASE_URL")
	}
	if c.Discount.URL == "" {
		return errors.New("discount service URL is required: set MINMIN_DISCOUNT_URL")
	}
	switch c.CartStore {
	case CartStorePostgres, CartStoreMemory:
	default:
		return errors.Errorf("unknown cart store %q", c.CartStore)
	}
	return nil
}
