package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const (
	defaultStaleAfter  = 15 * time.Minute
	defaultExpireAfter = 24 * time.Hour
	defaultBatchSize   = 100
)

// Sweeper polls the gateway for orders whose notification never arrived and
// feeds the answer through the reconciler, exactly like a webhook would.
type Sweeper struct {
	ledger      *OrderLedger
	gateway     PaymentGateway
	reconciler  *Reconciler
	limiter     *rate.Limiter
	clock       clock.Clock
	logger      *slog.Logger
	staleAfter  time.Duration
	expireAfter time.Duration
	batchSize   int
}

type SweeperOption func(*Sweeper)

// WithStaleAfter sets how long an open order waits before it is polled.
func WithStaleAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithExpireAfter sets the age after which an unpaid pending order is cancelled.
func WithExpireAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.expireAfter = d
		}
	}
}

func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweepLimiter paces gateway lookups.
func WithSweepLimiter(l *rate.Limiter) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.limiter = l
		}
	}
}

func NewSweeper(
	ledger *OrderLedger,
	gateway PaymentGateway,
	reconciler *Reconciler,
	clk clock.Clock,
	logger *slog.Logger,
	opts ...SweeperOption,
) *Sweeper {
	s := &Sweeper{
		ledger:      ledger,
		gateway:     gateway,
		reconciler:  reconciler,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		clock:       clk,
		logger:      resolveLogger(logger),
		staleAfter:  defaultStaleAfter,
		expireAfter: defaultExpireAfter,
		batchSize:   defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SweepReport struct {
	Checked    int
	Reconciled int
	Expired    int
	Failed     int
}

// SweepOnce processes one batch of stale orders. Per-order failures are
// counted and logged; only context cancellation or a listing failure aborts.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	orders, err := s.ledger.ListStale(ctx, s.staleAfter, s.batchSize)
	if err != nil {
		return report, err
	}

	for _, order := range orders {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}
		report.Checked++

		payment, found, err := s.gateway.LookupPayment(ctx, order.ExternalReference)
		if err != nil {
			report.Failed++
			s.logger.Warn("payment lookup failed",
				"event", "sweep_lookup_failed",
				"module", logModule,
				"layer", "worker",
				"order_id", order.ID,
				"error", err.Error(),
			)
			continue
		}

		if !found {
			if order.Status != domain.OrderStatusPending || s.clock.Now().Sub(order.CreatedAt) < s.expireAfter {
				continue
			}
			if err := s.expire(ctx, order); err != nil {
				report.Failed++
				continue
			}
			report.Expired++
			continue
		}

		if _, err := s.reconciler.Reconcile(ctx, ReconcileInput{
			ExternalReference: order.ExternalReference,
			Status:            payment.Status,
			PaymentID:         payment.PaymentID,
			Payload:           payment.Raw,
			Source:            domain.DeliverySourceSweep,
		}); err != nil {
			report.Failed++
			continue
		}
		report.Reconciled++
	}

	if report.Checked > 0 {
		s.logger.Info("sweep finished",
			"event", "sweep_finished",
			"module", logModule,
			"layer", "worker",
			"checked", report.Checked,
			"reconciled", report.Reconciled,
			"expired", report.Expired,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (s *Sweeper) expire(ctx context.Context, order domain.Order) error {
	_, err := s.ledger.ApplyTransition(ctx, TransitionInput{
		OrderID: order.ID,
		To:      domain.OrderStatusCancelled,
		Reason:  domain.ReasonExpired,
		Expect:  domain.OrderStatusPending,
	})
	if err != nil {
		s.logger.Warn("failed to expire order",
			"event", "sweep_expire_failed",
			"module", logModule,
			"layer", "worker",
			"order_id", order.ID,
			"error", err.Error(),
		)
		return err
	}
	s.logger.Info("unpaid order expired",
		"event", "order_expired",
		"module", logModule,
		"layer", "worker",
		"order_id", order.ID,
	)
	return nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, func(ctx context.Context) error {
		_, err := s.SweepOnce(ctx)
		return err
	}, s.logger, "sweeper")
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context) error, logger *slog.Logger, name string) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker pass failed",
				"event", "worker_pass_failed",
				"module", logModule,
				"layer", "worker",
				"worker", name,
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
