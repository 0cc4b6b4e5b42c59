package domain

import "strings"

// PreferenceRequest asks the gateway for a hosted checkout.
type PreferenceRequest struct {
	ExternalReference string
	Title             string
	UnitPriceCents    int64
	Quantity          int
	Currency          string
	PayerID           string
}

// Preference is the gateway's answer to a PreferenceRequest.
type Preference struct {
	ID        string
	InitPoint string
}

// PaymentReport is the gateway's view of a payment, as found by a status lookup.
type PaymentReport struct {
	PaymentID         string
	ExternalReference string
	Status            string
	Raw               []byte
}

// MapGatewayStatus translates the gateway vocabulary into the order enum.
// Unrecognised statuses map to in_process so that state is never dropped.
func MapGatewayStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return OrderStatusApproved
	case "rejected":
		return OrderStatusRejected
	case "cancelled", "canceled", "refunded", "charged_back":
		return OrderStatusCancelled
	default:
		// pending, authorized, in_process, in_mediation and anything new.
		return OrderStatusInProcess
	}
}
