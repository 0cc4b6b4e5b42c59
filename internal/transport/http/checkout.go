package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saviocipriano12/pedraum-sub001/internal/app"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// CheckoutStarter is the minimal interface needed to start a checkout.
type CheckoutStarter interface {
	Checkout(ctx context.Context, in app.CheckoutInput) (app.CheckoutResult, error)
}

// HandleCheckout returns an HTTP handler that starts a paid unlock. It
// answers 201 with the redirect target, or 200 when the claimant already
// holds access.
func HandleCheckout(svc CheckoutStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claimantID, ok := requireClaimant(w, r)
		if !ok {
			return
		}

		out, err := svc.Checkout(r.Context(), app.CheckoutInput{
			ClaimantID: claimantID,
			ResourceID: chi.URLParam(r, "resourceID"),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if out.AlreadyUnlocked {
			resp := checkoutResponse{AlreadyUnlocked: true}
			if out.Assignment != nil {
				a := toAssignmentResponse(*out.Assignment)
				resp.Assignment = &a
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		writeJSON(w, http.StatusCreated, checkoutResponse{
			OrderID:           out.Order.ID,
			ExternalReference: out.Order.ExternalReference,
			PreferenceID:      out.PreferenceID,
			InitPoint:         out.InitPoint,
		})
	}
}

type checkoutResponse struct {
	OrderID           string              `json:"order_id,omitempty"`
	ExternalReference string              `json:"external_reference,omitempty"`
	PreferenceID      string              `json:"preference_id,omitempty"`
	InitPoint         string              `json:"init_point,omitempty"`
	AlreadyUnlocked   bool                `json:"already_unlocked"`
	Assignment        *assignmentResponse `json:"assignment,omitempty"`
}

// OrderReader is the minimal interface needed to read an order.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (domain.Order, error)
}

// HandleGetOrder returns an HTTP handler for order status polling.
func HandleGetOrder(svc OrderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Get(r.Context(), chi.URLParam(r, "orderID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orderResponse{
			ID:                order.ID,
			Kind:              string(order.Kind),
			ResourceID:        order.RefID,
			ClaimantID:        order.ClaimantID,
			UnitPriceCents:    order.UnitPriceCents,
			Quantity:          order.Quantity,
			Currency:          order.Currency,
			ExternalReference: order.ExternalReference,
			Status:            string(order.Status),
			Reason:            order.Reason,
			InitPoint:         order.InitPoint,
			CreatedAt:         order.CreatedAt,
			UpdatedAt:         order.UpdatedAt,
		})
	}
}

type orderResponse struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	ResourceID        string    `json:"resource_id"`
	ClaimantID        string    `json:"claimant_id"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	Quantity          int       `json:"quantity"`
	Currency          string    `json:"currency"`
	ExternalReference string    `json:"external_reference"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	InitPoint         string    `json:"init_point,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
