package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const defaultMaxRefundAttempts = 5

// RefundRelay drains the refund requests written by the reconciler when a
// paid order could not be honoured.
type RefundRelay struct {
	refunds     RefundRepository
	gateway     PaymentGateway
	limiter     *rate.Limiter
	clock       clock.Clock
	logger      *slog.Logger
	maxAttempts int
	batchSize   int
}

type RefundRelayOption func(*RefundRelay)

func WithMaxRefundAttempts(n int) RefundRelayOption {
	return func(r *RefundRelay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithRefundLimiter(l *rate.Limiter) RefundRelayOption {
	return func(r *RefundRelay) {
		if l != nil {
			r.limiter = l
		}
	}
}

func NewRefundRelay(refunds RefundRepository, gateway PaymentGateway, clk clock.Clock, logger *slog.Logger, opts ...RefundRelayOption) *RefundRelay {
	r := &RefundRelay{
		refunds:     refunds,
		gateway:     gateway,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		clock:       clk,
		logger:      resolveLogger(logger),
		maxAttempts: defaultMaxRefundAttempts,
		batchSize:   defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type RelayReport struct {
	Refunded int
	Retried  int
	Failed   int
}

func (r *RefundRelay) RelayOnce(ctx context.Context) (RelayReport, error) {
	var report RelayReport

	pending, err := r.refunds.ListPendingRefunds(ctx, r.batchSize)
	if err != nil {
		return report, err
	}

	for _, refund := range pending {
		if err := r.limiter.Wait(ctx); err != nil {
			return report, err
		}

		refund.Attempts++
		refund.UpdatedAt = r.clock.Now()
		if err := r.gateway.Refund(ctx, refund); err != nil {
			refund.LastError = err.Error()
			if refund.Attempts >= r.maxAttempts {
				refund.Status = domain.RefundStatusFailed
				report.Failed++
				r.logger.Error("refund gave up",
					"event", "refund_failed",
					"module", logModule,
					"layer", "worker",
					"refund_id", refund.ID,
					"order_id", refund.OrderID,
					"attempts", refund.Attempts,
					"error", err.Error(),
				)
			} else {
				report.Retried++
			}
		} else {
			refund.Status = domain.RefundStatusDone
			refund.LastError = ""
			report.Refunded++
			r.logger.Info("refund issued",
				"event", "refund_issued",
				"module", logModule,
				"layer", "worker",
				"refund_id", refund.ID,
				"order_id", refund.OrderID,
				"amount_cents", refund.AmountCents,
			)
		}

		if err := r.refunds.UpdateRefund(ctx, refund); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Run relays every interval until ctx is done.
func (r *RefundRelay) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, func(ctx context.Context) error {
		_, err := r.RelayOnce(ctx)
		return err
	}, r.logger, "refund-relay")
}
