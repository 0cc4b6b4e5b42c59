package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// OrderLedger is the durable record of checkout attempts and their payment
// lifecycle. Status writes go through the transition table only.
type OrderLedger struct {
	tx     Transactor
	orders OrderRepository
	clock  clock.Clock
	logger *slog.Logger
}

func NewOrderLedger(tx Transactor, orders OrderRepository, clk clock.Clock, logger *slog.Logger) *OrderLedger {
	return &OrderLedger{
		tx:     tx,
		orders: orders,
		clock:  clk,
		logger: resolveLogger(logger),
	}
}

// Create stores a new order in pending state.
func (l *OrderLedger) Create(ctx context.Context, order domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: orders start pending, got %s", domain.ErrInvalidTransition, order.Status)
	}
	if err := l.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			l.logger.Error("order id collision",
				"event", "order_id_collision",
				"module", logModule,
				"layer", "application",
				"order_id", order.ID,
			)
		}
		return err
	}
	return nil
}

func (l *OrderLedger) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return l.orders.GetOrder(ctx, orderID)
}

// GetForUpdate reads the order and locks it for the surrounding transaction.
func (l *OrderLedger) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return l.orders.GetOrderForUpdate(ctx, orderID)
}

type TransitionInput struct {
	OrderID   string
	To        domain.OrderStatus
	Raw       json.RawMessage
	Reason    string
	PaymentID string
	// Expect, when set, requires the order to currently be in that status.
	Expect domain.OrderStatus
	// AllowReversal permits approved -> rejected/cancelled. Only the
	// reconciler sets it, since a reversal must also release the slot.
	AllowReversal bool
}

type TransitionResult struct {
	Order    domain.Order
	Previous domain.OrderStatus
	// Applied is false when the order already had the requested status.
	Applied bool
	// Reversal is true when an approval was undone.
	Reversal bool
}

// ApplyTransition moves an order to in.To when the table allows it. A repeat
// of the current status is a no-op, which makes replays safe.
func (l *OrderLedger) ApplyTransition(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	if !in.To.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, in.To)
	}

	var result TransitionResult
	err := l.tx.WithTx(ctx, func(txCtx context.Context) error {
		order, err := l.orders.GetOrderForUpdate(txCtx, in.OrderID)
		if err != nil {
			return err
		}

		prev := order.Status
		if in.Expect != "" && prev != in.Expect && prev != in.To {
			return fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrConcurrentUpdate, order.ID, prev, in.Expect)
		}
		if prev == in.To {
			result = TransitionResult{Order: order, Previous: prev}
			return nil
		}
		if !domain.CanTransition(prev, in.To) || (domain.IsReversal(prev, in.To) && !in.AllowReversal) {
			l.logger.Warn("order transition refused",
				"event", "order_transition_refused",
				"module", logModule,
				"layer", "application",
				"order_id", order.ID,
				"from", string(prev),
				"to", string(in.To),
			)
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, prev, in.To)
		}

		now := l.clock.Now()
		if err := l.orders.UpdateOrderStatus(txCtx, domain.OrderTransition{
			OrderID:   order.ID,
			From:      prev,
			To:        in.To,
			Reason:    in.Reason,
			PaymentID: in.PaymentID,
			Raw:       in.Raw,
			At:        now,
		}); err != nil {
			return err
		}

		order.Status = in.To
		if in.Reason != "" {
			order.Reason = in.Reason
		}
		if in.PaymentID != "" {
			order.PaymentID = in.PaymentID
		}
		if in.Raw != nil {
			order.Raw = in.Raw
		}
		order.UpdatedAt = now

		result = TransitionResult{
			Order:    order,
			Previous: prev,
			Applied:  true,
			Reversal: domain.IsReversal(prev, in.To),
		}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return result, nil
}

// AttachPreference records the gateway checkout created for an order.
func (l *OrderLedger) AttachPreference(ctx context.Context, orderID, preferenceID, initPoint string) error {
	return l.orders.AttachPreference(ctx, orderID, preferenceID, initPoint, l.clock.Now())
}

// ListStale returns open orders not touched since olderThan ago.
func (l *OrderLedger) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.orders.ListOrdersByStatus(ctx,
		[]domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusInProcess},
		l.clock.Now().Add(-olderThan),
		limit,
	)
}
