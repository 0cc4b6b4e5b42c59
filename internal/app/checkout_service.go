package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// CheckoutService admits a claim, records a pending order and starts a
// payment at the gateway. It never changes resource consumption; that only
// happens when the payment is confirmed.
type CheckoutService struct {
	tx        Transactor
	resources ResourceRepository
	ledger    *OrderLedger
	registry  *AssignmentRegistry
	gateway   PaymentGateway
	clock     clock.Clock
	logger    *slog.Logger
}

func NewCheckoutService(
	tx Transactor,
	resources ResourceRepository,
	ledger *OrderLedger,
	registry *AssignmentRegistry,
	gateway PaymentGateway,
	clk clock.Clock,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		tx:        tx,
		resources: resources,
		ledger:    ledger,
		registry:  registry,
		gateway:   gateway,
		clock:     clk,
		logger:    resolveLogger(logger),
	}
}

type CheckoutInput struct {
	ClaimantID string
	ResourceID string
}

type CheckoutResult struct {
	Order        domain.Order
	PreferenceID string
	InitPoint    string
	// AlreadyUnlocked is set when the claimant already holds access; no
	// order is created and no payment is started.
	AlreadyUnlocked bool
	Assignment      *domain.Assignment
}

func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if in.ClaimantID == "" {
		return CheckoutResult{}, domain.ErrClaimantRequired
	}
	if in.ResourceID == "" {
		return CheckoutResult{}, domain.ErrInvalidID
	}

	var (
		resource   domain.Resource
		order      domain.Order
		assignment *domain.Assignment
	)
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		resource, err = s.resources.GetResourceForShare(txCtx, in.ResourceID)
		if err != nil {
			return err
		}
		assignment, err = s.registry.Get(txCtx, in.ResourceID, in.ClaimantID)
		if err != nil {
			return err
		}
		if assignment.IsUnlocked() {
			return nil
		}

		if decision := domain.CanClaim(resource, assignment); !decision.Allowed {
			s.logger.Info("checkout denied",
				"event", "checkout_denied",
				"module", logModule,
				"layer", "application",
				"resource_id", resource.ID,
				"claimant_id", in.ClaimantID,
				"consumed", resource.Consumed,
				"limit", resource.Limit(),
				"reason", decision.Reason,
			)
			return decision.Err()
		}

		order, err = s.newOrder(resource, in.ClaimantID)
		if err != nil {
			return err
		}
		return s.ledger.Create(txCtx, order)
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	if assignment.IsUnlocked() {
		return CheckoutResult{AlreadyUnlocked: true, Assignment: assignment}, nil
	}

	pref, err := s.gateway.CreatePreference(ctx, domain.PreferenceRequest{
		ExternalReference: order.ExternalReference,
		Title:             resource.Title,
		UnitPriceCents:    order.UnitPriceCents,
		Quantity:          order.Quantity,
		Currency:          order.Currency,
		PayerID:           order.ClaimantID,
	})
	if err != nil {
		s.logger.Warn("payment preference failed",
			"event", "checkout_gateway_failed",
			"module", logModule,
			"layer", "application",
			"order_id", order.ID,
			"error", err.Error(),
		)
		s.abandon(ctx, order.ID, domain.ReasonGatewayUnavailable)
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return CheckoutResult{}, err
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	var viewed domain.Assignment
	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.ledger.AttachPreference(txCtx, order.ID, pref.ID, pref.InitPoint); err != nil {
			return err
		}
		var err error
		viewed, err = s.registry.UpsertViewed(txCtx, resource.ID, in.ClaimantID, resource.Snapshot())
		return err
	})
	if err != nil {
		s.abandon(ctx, order.ID, domain.ReasonGatewayUnavailable)
		return CheckoutResult{}, err
	}

	order.PreferenceID = pref.ID
	order.InitPoint = pref.InitPoint

	s.logger.Info("checkout started",
		"event", "checkout_started",
		"module", logModule,
		"layer", "application",
		"order_id", order.ID,
		"resource_id", resource.ID,
		"claimant_id", in.ClaimantID,
		"preference_id", pref.ID,
	)
	return CheckoutResult{
		Order:        order,
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
		Assignment:   &viewed,
	}, nil
}

func (s *CheckoutService) newOrder(resource domain.Resource, claimantID string) (domain.Order, error) {
	id := newUUID()
	ref, err := domain.BuildExternalReference(domain.OrderKindLeadUnlock, resource.ID, id)
	if err != nil {
		return domain.Order{}, err
	}
	now := s.clock.Now()
	return domain.Order{
		ID:                id,
		Kind:              domain.OrderKindLeadUnlock,
		RefID:             resource.ID,
		ClaimantID:        claimantID,
		UnitPriceCents:    resource.UnitPriceCents,
		Quantity:          1,
		Currency:          resource.Currency,
		ExternalReference: ref,
		Status:            domain.OrderStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// abandon cancels an order whose payment could not be started. It runs even
// when the caller's context is already cancelled so no pending order is left
// without a payment behind it.
func (s *CheckoutService) abandon(ctx context.Context, orderID, reason string) {
	_, err := s.ledger.ApplyTransition(context.WithoutCancel(ctx), TransitionInput{
		OrderID: orderID,
		To:      domain.OrderStatusCancelled,
		Reason:  reason,
		Expect:  domain.OrderStatusPending,
	})
	if err != nil {
		s.logger.Error("failed to cancel abandoned order",
			"event", "checkout_abandon_failed",
			"module", logModule,
			"layer", "application",
			"order_id", orderID,
			"error", err.Error(),
		)
	}
}
