package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/saviocipriano12/pedraum-sub001/internal/app"
	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/config"
	"github.com/saviocipriano12/pedraum-sub001/internal/gateway/mercadopago"
	"github.com/saviocipriano12/pedraum-sub001/internal/storage/boltdb"
	"github.com/saviocipriano12/pedraum-sub001/internal/storage/postgres"
	transporthttp "github.com/saviocipriano12/pedraum-sub001/internal/transport/http"
	"github.com/saviocipriano12/pedraum-sub001/migrations"
)

// backend is one store driver seen through the engine's ports.
type backend struct {
	tx          app.Transactor
	resources   app.ResourceRepository
	orders      app.OrderRepository
	assignments app.AssignmentRepository
	refunds     app.RefundRepository
	deliveries  app.DeliveryRepository
	ready       transporthttp.Pinger
	close       func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverBolt:
		store, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", "event", "store_opened", "module", "unlock-engine", "layer", "bootstrap", "driver", cfg.StoreDriver, "path", cfg.BoltPath)
		return &backend{
			tx:          store,
			resources:   store,
			orders:      store,
			assignments: store,
			refunds:     store,
			deliveries:  store,
			ready:       store,
			close:       func() { _ = store.Close() },
		}, nil
	default:
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("store opened", "event", "store_opened", "module", "unlock-engine", "layer", "bootstrap", "driver", cfg.StoreDriver)
		return &backend{
			tx:          postgres.NewTransactor(pool),
			resources:   postgres.NewResourceRepository(pool),
			orders:      postgres.NewOrderRepository(pool),
			assignments: postgres.NewAssignmentRepository(pool),
			refunds:     postgres.NewRefundRepository(pool),
			deliveries:  postgres.NewDeliveryRepository(pool),
			ready:       pool,
			close:       pool.Close,
		}, nil
	}
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(startupCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// engine holds every application service built on one backend.
type engine struct {
	ledger     *app.OrderLedger
	resources  *app.ResourceService
	checkout   *app.CheckoutService
	reconciler *app.Reconciler
	sweeper    *app.Sweeper
	refunds    *app.RefundRelay
}

func newEngine(b *backend, cfg config.Config, logger *slog.Logger) *engine {
	clk := clock.NewSystem()
	gateway := mercadopago.New(mercadopago.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		AccessToken:     cfg.Gateway.AccessToken,
		NotificationURL: cfg.Gateway.NotificationURL,
		SuccessURL:      cfg.Gateway.SuccessURL,
		FailureURL:      cfg.Gateway.FailureURL,
		Timeout:         cfg.Gateway.Timeout,
	})

	// Sweeps and refunds share one budget of gateway calls.
	limit := rate.Inf
	if cfg.Gateway.RatePerSecond > 0 {
		limit = rate.Limit(cfg.Gateway.RatePerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	ledger := app.NewOrderLedger(b.tx, b.orders, clk, logger)
	registry := app.NewAssignmentRegistry(b.tx, b.assignments, clk, logger)
	reconciler := app.NewReconciler(b.tx, b.resources, ledger, registry, b.refunds, b.deliveries, clk, logger)

	return &engine{
		ledger:     ledger,
		resources:  app.NewResourceService(b.resources, registry, clk),
		checkout:   app.NewCheckoutService(b.tx, b.resources, ledger, registry, gateway, clk, logger),
		reconciler: reconciler,
		sweeper: app.NewSweeper(ledger, gateway, reconciler, clk, logger,
			app.WithStaleAfter(cfg.Sweep.StaleAfter),
			app.WithExpireAfter(cfg.Sweep.ExpireAfter),
			app.WithBatchSize(cfg.Sweep.BatchSize),
			app.WithSweepLimiter(limiter),
		),
		refunds: app.NewRefundRelay(b.refunds, gateway, clk, logger,
			app.WithMaxRefundAttempts(cfg.Refunds.MaxAttempts),
			app.WithRefundLimiter(limiter),
		),
	}
}
