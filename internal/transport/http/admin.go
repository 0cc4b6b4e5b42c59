package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// DeliveryLister is the minimal interface needed for the delivery audit endpoint.
type DeliveryLister interface {
	Deliveries(ctx context.Context, outcome domain.DeliveryOutcome, limit int) ([]domain.WebhookDelivery, error)
}

// HandleListDeliveries returns an HTTP handler listing recorded payment
// notifications, newest first. `?outcome=held` lists the ones waiting for
// an operator.
func HandleListDeliveries(svc DeliveryLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome := domain.DeliveryOutcome(r.URL.Query().Get("outcome"))
		if outcome != "" && !validOutcome(outcome) {
			writeError(w, http.StatusBadRequest, codeInvalidOutcome, "invalid outcome")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		deliveries, err := svc.Deliveries(r.Context(), outcome, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]deliveryResponse, 0, len(deliveries))
		for _, d := range deliveries {
			resp = append(resp, deliveryResponse{
				ID:                d.ID,
				Source:            d.Source,
				ExternalReference: d.ExternalReference,
				ReportedStatus:    d.ReportedStatus,
				PaymentID:         d.PaymentID,
				OrderID:           d.OrderID,
				Outcome:           string(d.Outcome),
				Error:             d.Error,
				Payload:           d.Payload,
				ReceivedAt:        d.ReceivedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func validOutcome(o domain.DeliveryOutcome) bool {
	switch o {
	case domain.DeliveryApplied, domain.DeliveryDuplicate, domain.DeliveryStale,
		domain.DeliveryCompensated, domain.DeliveryHeld, domain.DeliveryFailed:
		return true
	}
	return false
}

type deliveryResponse struct {
	ID                string          `json:"id"`
	Source            string          `json:"source"`
	ExternalReference string          `json:"external_reference"`
	ReportedStatus    string          `json:"reported_status"`
	PaymentID         string          `json:"payment_id,omitempty"`
	OrderID           string          `json:"order_id,omitempty"`
	Outcome           string          `json:"outcome"`
	Error             string          `json:"error,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	ReceivedAt        time.Time       `json:"received_at"`
}
