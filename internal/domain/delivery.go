package domain

import (
	"encoding/json"
	"time"
)

type DeliveryOutcome string

const (
	DeliveryApplied     DeliveryOutcome = "applied"
	DeliveryDuplicate   DeliveryOutcome = "duplicate"
	DeliveryStale       DeliveryOutcome = "stale"
	DeliveryCompensated DeliveryOutcome = "compensated"
	// DeliveryHeld marks integrity faults waiting for an operator.
	DeliveryHeld   DeliveryOutcome = "held"
	DeliveryFailed DeliveryOutcome = "failed"
)

const (
	DeliverySourceWebhook = "webhook"
	DeliverySourceSweep   = "sweep"
)

// WebhookDelivery is the audit row written for every reconciliation attempt.
type WebhookDelivery struct {
	ID                string
	Source            string
	ExternalReference string
	ReportedStatus    string
	PaymentID         string
	OrderID           string
	Outcome           DeliveryOutcome
	Error             string
	Payload           json.RawMessage
	ReceivedAt        time.Time
}
