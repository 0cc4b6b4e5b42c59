package app

import (
	"context"
	"time"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// Transactor runs fn inside a store transaction. Nested calls join the
// transaction already carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ResourceRepository interface {
	CreateResource(ctx context.Context, resource domain.Resource) error
	GetResource(ctx context.Context, id string) (domain.Resource, error)
	// GetResourceForShare reads the resource and blocks concurrent consumption
	// changes until the surrounding transaction ends.
	GetResourceForShare(ctx context.Context, id string) (domain.Resource, error)
	// GetResourceForUpdate reads the resource and holds its row lock until
	// the surrounding transaction ends, serializing consumption decisions.
	GetResourceForUpdate(ctx context.Context, id string) (domain.Resource, error)
	// UpdateResourcePolicy returns ErrCapacityBelowUsage when the new limit is
	// below the current consumption.
	UpdateResourcePolicy(ctx context.Context, id string, policy domain.ResourcePolicy, at time.Time) (domain.Resource, error)
	// IncrementConsumed adds one unlock only while consumed is below the
	// policy limit; it returns ErrCapacityExceeded otherwise.
	IncrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error)
	// DecrementConsumed removes one unlock; it never goes below zero.
	DecrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error)
	// UpdateOrderStatus writes only if the stored status still equals t.From.
	UpdateOrderStatus(ctx context.Context, t domain.OrderTransition) error
	AttachPreference(ctx context.Context, id, preferenceID, initPoint string, at time.Time) error
	ListOrdersByStatus(ctx context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]domain.Order, error)
}

type AssignmentRepository interface {
	GetAssignment(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error)
	GetAssignmentForUpdate(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error)
	// CreateAssignment returns ErrAlreadyExists when the pair already has a row.
	CreateAssignment(ctx context.Context, assignment domain.Assignment) error
	UpdateAssignment(ctx context.Context, assignment domain.Assignment) error
}

type RefundRepository interface {
	// CreateRefund is a no-op when the order already has a refund request.
	CreateRefund(ctx context.Context, refund domain.RefundRequest) error
	ListPendingRefunds(ctx context.Context, limit int) ([]domain.RefundRequest, error)
	UpdateRefund(ctx context.Context, refund domain.RefundRequest) error
}

type DeliveryRepository interface {
	RecordDelivery(ctx context.Context, delivery domain.WebhookDelivery) error
	ListDeliveries(ctx context.Context, outcome domain.DeliveryOutcome, limit int) ([]domain.WebhookDelivery, error)
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error)
	// LookupPayment returns the latest payment for an external reference;
	// found is false when the claimant never paid.
	LookupPayment(ctx context.Context, externalReference string) (report domain.PaymentReport, found bool, err error)
	Refund(ctx context.Context, refund domain.RefundRequest) error
}
