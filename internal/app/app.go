package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/minmin-cart/internal/discountapi"
	"github.com/xenking/minmin-cart/internal/domain/auth"
	"github.com/xenking/minmin-cart/internal/domain/cart"
	"github.com/xenking/minmin-cart/internal/events"
	"github.com/xenking/minmin-cart/internal/handler"
	"github.com/xenking/minmin-cart/internal/reconcile"
	"github.com/xenking/minmin-cart/internal/session"
	"github.com/xenking/minmin-cart/internal/storage/cache"
	"github.com/xenking/minmin-cart/internal/storage/memory"
	"github.com/xenking/minmin-cart/internal/storage/postgres"
	"github.com/xenking/minmin-cart/pkg/health"
	"github.com/xenking/minmin-cart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("cart_store", cfg.CartStore),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New(health.Options{Interval: 10 * time.Second})
	healthSvc.Add(health.Readiness, "postgres", health.Ping(pool))
	healthSvc.Add(health.Liveness, "goroutines", health.Goroutines(10000))

	publisher, closePublisher, err := newPublisher(ctx, lg, cfg.Events)
	if err != nil {
		return errors.Wrap(err, "create event publisher")
	}
	defer closePublisher()

	checker, err := discountapi.NewClient(cfg.Discount.URL, discountapi.Options{
		Token:          cfg.Discount.Token,
		Timeout:        cfg.Discount.Timeout,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create discount client")
	}

	// Repositories.
	carts := newCartStore(cfg.CartStore, pool)
	menu := cache.NewCatalog(postgres.NewCatalogRepository(pool), cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL)
	authenticator := auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper))

	// Domain services.
	reconciler, err := reconcile.New(carts, checker, menu, reconcile.Options{
		IncludeFreeLines: cfg.Reconcile.IncludeFreeLines,
		TrackedCarts:     cfg.Reconcile.TrackedCarts,
		Publisher:        publisher,
		MeterProvider:    m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}
	sessions := session.NewService(carts, menu, reconciler)

	// HTTP.
	instrument, err := httpmiddleware.Instrument(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create http metrics")
	}
	mux := http.NewServeMux()
	healthSvc.Register(mux)
	handler.New(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, sessions, menu).
		Register(mux, httpmiddleware.APIKey(authenticator))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Covers a full discount check on mutations.
		WriteTimeout:   cfg.Discount.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(instrument(mux),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", httpmiddleware.HeaderAPIKey, httpmiddleware.HeaderRequestID},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				MaxKeys: cfg.RateLimit.MaxKeys,
			}),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	healthSvc.Start(gCtx)
	healthSvc.SetReady(true)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		defer healthSvc.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

func newCartStore(kind string, pool *pgxpool.Pool) cart.Store {
	if kind == CartStoreMemory {
		return memory.NewCartStore()
	}
	return postgres.NewCartStore(pool)
}

func newPublisher(ctx context.Context, lg *zap.Logger, cfg EventsConfig) (events.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		lg.Info("Cart events disabled")
		return events.Nop{}, func() {}, nil
	}
	p, err := events.DialRabbitMQ(ctx, cfg.AMQPURL, cfg.Exchange, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		if err := p.Close(); err != nil {
			lg.Warn("Close event publisher", zap.Error(err))
		}
	}, nil
}
