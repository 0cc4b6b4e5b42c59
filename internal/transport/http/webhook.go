package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/saviocipriano12/pedraum-sub001/internal/app"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const signatureHeader = "X-Signature"

// PaymentReconciler is the minimal interface needed to apply a payment notification.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, in app.ReconcileInput) (app.ReconcileResult, error)
}

// HandlePaymentWebhook returns the gateway callback handler. Any non-2xx
// answer makes the gateway retry the delivery; integrity faults answer 422
// and stay held until an operator resolves them. When secret is empty the
// signature is not checked.
func HandlePaymentWebhook(svc PaymentReconciler, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if secret != "" && !validSignature(secret, body, r.Header.Get(signatureHeader)) {
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, domain.ErrInvalidSignature.Error())
			return
		}

		var req webhookRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Status) == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "status is required")
			return
		}

		out, err := svc.Reconcile(r.Context(), app.ReconcileInput{
			ExternalReference: req.ExternalReference,
			Status:            req.Status,
			PaymentID:         string(req.PaymentID),
			Payload:           body,
			Source:            domain.DeliverySourceWebhook,
		})
		if err != nil {
			if domain.IsIntegrityFault(err) {
				writeError(w, http.StatusUnprocessableEntity, codeIntegrityFault, err.Error())
				return
			}
			if errors.Is(err, context.Canceled) {
				writeError(w, http.StatusServiceUnavailable, codeInternalError, "request cancelled")
				return
			}
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, webhookResponse{
			OrderID: out.OrderID,
			Outcome: string(out.Outcome),
			Status:  string(out.Current),
		})
	}
}

func validSignature(secret string, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(header, "sha256=")))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookRequest struct {
	ExternalReference string    `json:"external_reference"`
	Status            string    `json:"status"`
	PaymentID         paymentID `json:"payment_id"`
}

// paymentID accepts the id as a JSON string or number.
type paymentID string

func (p *paymentID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = paymentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = paymentID(n.String())
	return nil
}

type webhookResponse struct {
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
	Status  string `json:"status"`
}
