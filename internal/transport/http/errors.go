package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeInvalidID            = "invalid_id"
	codeClaimantRequired     = "claimant_required"
	codeTitleRequired        = "title_required"
	codeInvalidCapacity      = "invalid_capacity"
	codeInvalidPrice         = "invalid_price"
	codeInvalidCurrency      = "invalid_currency"
	codeCapacityBelowUsage   = "capacity_below_usage"
	codeCapacityExceeded     = "capacity_exceeded"
	codeGatewayUnavailable   = "gateway_unavailable"
	codeResourceNotFound     = "resource_not_found"
	codeOrderNotFound        = "order_not_found"
	codeAlreadyExists        = "already_exists"
	codeInvalidSignature     = "invalid_signature"
	codeIntegrityFault       = "integrity_fault"
	codeInvalidOutcome       = "invalid_outcome"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorMapping pairs a domain error with its HTTP status and code.
type errorMapping struct {
	err    error
	status int
	code   string
}

var domainErrors = []errorMapping{
	{domain.ErrInvalidID, http.StatusNotFound, codeInvalidID},
	{domain.ErrClaimantRequired, http.StatusBadRequest, codeClaimantRequired},
	{domain.ErrTitleRequired, http.StatusBadRequest, codeTitleRequired},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrInvalidPrice, http.StatusBadRequest, codeInvalidPrice},
	{domain.ErrInvalidCurrency, http.StatusBadRequest, codeInvalidCurrency},
	{domain.ErrCapacityBelowUsage, http.StatusConflict, codeCapacityBelowUsage},
	{domain.ErrCapacityExceeded, http.StatusConflict, codeCapacityExceeded},
	{domain.ErrGatewayUnavailable, http.StatusServiceUnavailable, codeGatewayUnavailable},
	{domain.ErrResourceNotFound, http.StatusNotFound, codeResourceNotFound},
	{domain.ErrOrderNotFound, http.StatusNotFound, codeOrderNotFound},
	{domain.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, codeInvalidSignature},
}

// writeDomainError maps err onto the JSON error contract. Unknown errors are
// reported as internal without leaking their text.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, m.err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
