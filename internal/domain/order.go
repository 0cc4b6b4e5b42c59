package domain

import (
	"encoding/json"
	"time"
)

type OrderKind string

// OrderKindLeadUnlock buys access to a posted lead; RefID is the resource id.
const OrderKindLeadUnlock OrderKind = "lead_unlock"

func (k OrderKind) Known() bool {
	return k == OrderKindLeadUnlock
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusInProcess OrderStatus = "in_process"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusRejected, OrderStatusCancelled, OrderStatusInProcess:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected || s == OrderStatusCancelled
}

// Reasons recorded when the engine closes an order on its own.
const (
	ReasonGatewayUnavailable = "gateway_unavailable"
	ReasonCapacityExhausted  = "capacity_exhausted"
	ReasonDuplicateUnlock    = "duplicate_unlock"
	ReasonExpired            = "expired"
)

// Order is one checkout attempt and its payment lifecycle.
type Order struct {
	ID                string
	Kind              OrderKind
	RefID             string
	ClaimantID        string
	UnitPriceCents    int64
	Quantity          int
	Currency          string
	ExternalReference string
	Status            OrderStatus
	Reason            string
	PreferenceID      string
	InitPoint         string
	PaymentID         string
	Raw               json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (o Order) TotalCents() int64 {
	return o.UnitPriceCents * int64(o.Quantity)
}

// Compensated reports whether the engine rejected a paid order and owes a refund.
func (o Order) Compensated() bool {
	return o.Status == OrderStatusRejected &&
		(o.Reason == ReasonCapacityExhausted || o.Reason == ReasonDuplicateUnlock)
}

// OrderTransition is a compare-and-swap status write.
type OrderTransition struct {
	OrderID   string
	From      OrderStatus
	To        OrderStatus
	Reason    string
	PaymentID string
	Raw       json.RawMessage
	At        time.Time
}
