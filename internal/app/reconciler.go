package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// Reconciler applies payment notifications to orders. Deliveries may be
// duplicated or arrive out of order; every path is idempotent per order.
type Reconciler struct {
	tx         Transactor
	resources  ResourceRepository
	ledger     *OrderLedger
	registry   *AssignmentRegistry
	refunds    RefundRepository
	deliveries DeliveryRepository
	clock      clock.Clock
	logger     *slog.Logger
}

func NewReconciler(
	tx Transactor,
	resources ResourceRepository,
	ledger *OrderLedger,
	registry *AssignmentRegistry,
	refunds RefundRepository,
	deliveries DeliveryRepository,
	clk clock.Clock,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		tx:         tx,
		resources:  resources,
		ledger:     ledger,
		registry:   registry,
		refunds:    refunds,
		deliveries: deliveries,
		clock:      clk,
		logger:     resolveLogger(logger),
	}
}

type ReconcileInput struct {
	ExternalReference string
	Status            string
	PaymentID         string
	Payload           json.RawMessage
	Source            string
}

type ReconcileResult struct {
	OrderID  string
	Outcome  domain.DeliveryOutcome
	Previous domain.OrderStatus
	Current  domain.OrderStatus
}

// Reconcile maps one gateway notification onto its order. Integrity faults
// (malformed reference, unknown kind, unknown order, invalid transition) are
// returned so the gateway keeps retrying, and are recorded as held deliveries.
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	if in.Source == "" {
		in.Source = domain.DeliverySourceWebhook
	}

	result, err := r.reconcile(ctx, in)
	r.record(ctx, in, result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	ref, err := domain.ParseExternalReference(in.ExternalReference)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{OrderID: ref.OrderID}
	if !ref.Kind.Known() {
		return result, fmt.Errorf("%w: %s", domain.ErrUnknownOrderKind, ref.Kind)
	}
	target := domain.MapGatewayStatus(in.Status)

	err = r.tx.WithTx(ctx, func(txCtx context.Context) error {
		// Lock the order first; everything below is decided against this row.
		order, err := r.ledger.GetForUpdate(txCtx, ref.OrderID)
		if err != nil {
			return err
		}
		if order.Kind != ref.Kind || order.RefID != ref.RefID || order.ExternalReference != ref.String() {
			return fmt.Errorf("%w: reference does not match order %s", domain.ErrMalformedReference, order.ID)
		}
		result.Previous = order.Status

		switch {
		case order.Status == target:
			result.Outcome = domain.DeliveryDuplicate
			result.Current = order.Status
			return nil
		case order.Compensated() && target.Terminal():
			// The approval was already answered with a refund; the gateway
			// echoing it back as refunded or cancelled changes nothing.
			result.Outcome = domain.DeliveryDuplicate
			result.Current = order.Status
			return nil
		case target == domain.OrderStatusInProcess && order.Status.Terminal():
			result.Outcome = domain.DeliveryStale
			result.Current = order.Status
			return nil
		case !domain.CanTransition(order.Status, target):
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
		}

		switch {
		case target == domain.OrderStatusApproved:
			return r.approve(txCtx, order, in, &result)
		case domain.IsReversal(order.Status, target):
			return r.reverse(txCtx, order, target, in, &result)
		default:
			res, err := r.ledger.ApplyTransition(txCtx, TransitionInput{
				OrderID:   order.ID,
				To:        target,
				Raw:       in.Payload,
				PaymentID: in.PaymentID,
			})
			if err != nil {
				return err
			}
			result.Outcome = domain.DeliveryApplied
			result.Current = res.Order.Status
			return nil
		}
	})
	if err != nil {
		return result, err
	}

	r.logger.Info("payment notification reconciled",
		"event", "payment_reconciled",
		"module", logModule,
		"layer", "application",
		"order_id", result.OrderID,
		"source", in.Source,
		"reported_status", in.Status,
		"previous", string(result.Previous),
		"current", string(result.Current),
		"outcome", string(result.Outcome),
	)
	return result, nil
}

// approve handles the first approval of an order: consume one slot and
// unlock the claimant, or compensate when the slot is no longer available.
func (r *Reconciler) approve(ctx context.Context, order domain.Order, in ReconcileInput, result *ReconcileResult) error {
	// Lock order is order, resource, assignment. Holding the resource row
	// makes the unlock check below final for this claimant.
	if _, err := r.resources.GetResourceForUpdate(ctx, order.RefID); err != nil {
		return err
	}
	assignment, err := r.registry.Get(ctx, order.RefID, order.ClaimantID)
	if err != nil {
		return err
	}
	if assignment.IsUnlocked() {
		return r.compensate(ctx, order, in, domain.ReasonDuplicateUnlock, result)
	}

	resource, err := r.resources.IncrementConsumed(ctx, order.RefID, r.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			return r.compensate(ctx, order, in, domain.ReasonCapacityExhausted, result)
		}
		return err
	}

	res, err := r.ledger.ApplyTransition(ctx, TransitionInput{
		OrderID:   order.ID,
		To:        domain.OrderStatusApproved,
		Raw:       in.Payload,
		PaymentID: in.PaymentID,
	})
	if err != nil {
		return err
	}

	pricing := domain.PricingSnapshot{
		UnitPriceCents: order.UnitPriceCents,
		Currency:       order.Currency,
		Exclusive:      resource.Exclusive,
		Cap:            resource.Cap,
	}
	if _, err := r.registry.UpsertViewed(ctx, order.RefID, order.ClaimantID, pricing); err != nil {
		return err
	}
	if _, err := r.registry.PromoteToUnlocked(ctx, order.RefID, order.ClaimantID); err != nil {
		return err
	}

	result.Outcome = domain.DeliveryApplied
	result.Current = res.Order.Status
	r.logger.Info("resource unlocked",
		"event", "resource_unlocked",
		"module", logModule,
		"layer", "application",
		"order_id", order.ID,
		"resource_id", order.RefID,
		"claimant_id", order.ClaimantID,
		"consumed", resource.Consumed,
		"limit", resource.Limit(),
	)
	return nil
}

// compensate rejects a paid order the engine cannot honour and queues a
// refund in the same transaction.
func (r *Reconciler) compensate(ctx context.Context, order domain.Order, in ReconcileInput, reason string, result *ReconcileResult) error {
	res, err := r.ledger.ApplyTransition(ctx, TransitionInput{
		OrderID:   order.ID,
		To:        domain.OrderStatusRejected,
		Raw:       in.Payload,
		Reason:    reason,
		PaymentID: in.PaymentID,
	})
	if err != nil {
		return err
	}

	now := r.clock.Now()
	paymentID := in.PaymentID
	if paymentID == "" {
		paymentID = order.PaymentID
	}
	if err := r.refunds.CreateRefund(ctx, domain.RefundRequest{
		ID:                newUUID(),
		OrderID:           order.ID,
		PaymentID:         paymentID,
		ExternalReference: order.ExternalReference,
		AmountCents:       order.TotalCents(),
		Currency:          order.Currency,
		Reason:            reason,
		Status:            domain.RefundStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		return err
	}

	result.Outcome = domain.DeliveryCompensated
	result.Current = res.Order.Status
	r.logger.Warn("approved payment compensated",
		"event", "payment_compensated",
		"module", logModule,
		"layer", "application",
		"order_id", order.ID,
		"resource_id", order.RefID,
		"claimant_id", order.ClaimantID,
		"reason", reason,
	)
	return nil
}

// reverse undoes an approval: the claimant loses access and the slot is freed.
func (r *Reconciler) reverse(ctx context.Context, order domain.Order, target domain.OrderStatus, in ReconcileInput, result *ReconcileResult) error {
	if _, err := r.resources.GetResourceForUpdate(ctx, order.RefID); err != nil {
		return err
	}
	res, err := r.ledger.ApplyTransition(ctx, TransitionInput{
		OrderID:       order.ID,
		To:            target,
		Raw:           in.Payload,
		PaymentID:     in.PaymentID,
		Expect:        domain.OrderStatusApproved,
		AllowReversal: true,
	})
	if err != nil {
		return err
	}
	if !res.Applied || !res.Reversal {
		result.Outcome = domain.DeliveryDuplicate
		result.Current = res.Order.Status
		return nil
	}

	if _, err := r.registry.DemoteToViewed(ctx, order.RefID, order.ClaimantID); err != nil {
		return err
	}
	if _, err := r.resources.DecrementConsumed(ctx, order.RefID, r.clock.Now()); err != nil {
		return err
	}

	result.Outcome = domain.DeliveryApplied
	result.Current = res.Order.Status
	r.logger.Warn("approval reversed",
		"event", "approval_reversed",
		"module", logModule,
		"layer", "application",
		"order_id", order.ID,
		"resource_id", order.RefID,
		"claimant_id", order.ClaimantID,
		"status", string(target),
	)
	return nil
}

func (r *Reconciler) record(ctx context.Context, in ReconcileInput, result ReconcileResult, err error) {
	delivery := domain.WebhookDelivery{
		ID:                newUUID(),
		Source:            in.Source,
		ExternalReference: in.ExternalReference,
		ReportedStatus:    in.Status,
		PaymentID:         in.PaymentID,
		OrderID:           result.OrderID,
		Outcome:           result.Outcome,
		Payload:           in.Payload,
		ReceivedAt:        r.clock.Now(),
	}
	if err != nil {
		delivery.Error = err.Error()
		delivery.Outcome = domain.DeliveryFailed
		if domain.IsIntegrityFault(err) {
			delivery.Outcome = domain.DeliveryHeld
			r.logger.Error("payment notification held for review",
				"event", "payment_notification_held",
				"module", logModule,
				"layer", "application",
				"source", in.Source,
				"external_reference", in.ExternalReference,
				"reported_status", in.Status,
				"error", err.Error(),
			)
		}
	}

	if r.deliveries == nil {
		return
	}
	// The audit row must survive a cancelled request.
	if recErr := r.deliveries.RecordDelivery(context.WithoutCancel(ctx), delivery); recErr != nil {
		r.logger.Error("failed to record delivery",
			"event", "delivery_record_failed",
			"module", logModule,
			"layer", "application",
			"external_reference", in.ExternalReference,
			"error", recErr.Error(),
		)
	}
}

// Deliveries lists recorded notifications with the given outcome.
func (r *Reconciler) Deliveries(ctx context.Context, outcome domain.DeliveryOutcome, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.deliveries.ListDeliveries(ctx, outcome, limit)
}
