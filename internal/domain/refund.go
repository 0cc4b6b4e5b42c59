package domain

import "time"

type RefundStatus string

const (
	RefundStatusPending RefundStatus = "pending"
	RefundStatusDone    RefundStatus = "done"
	RefundStatusFailed  RefundStatus = "failed"
)

// RefundRequest is a compensation owed to a claimant whose payment was
// approved after the resource ran out of capacity. One per order.
type RefundRequest struct {
	ID                string
	OrderID           string
	PaymentID         string
	ExternalReference string
	AmountCents       int64
	Currency          string
	Reason            string
	Status            RefundStatus
	Attempts          int
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
