package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saviocipriano12/pedraum-sub001/internal/app"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const claimantHeader = "X-Claimant-ID"

// ResourceManager is the minimal interface needed for resource endpoints.
type ResourceManager interface {
	CreateResource(ctx context.Context, in app.CreateResourceInput) (domain.Resource, error)
	GetResource(ctx context.Context, id string) (domain.Resource, error)
	UpdatePolicy(ctx context.Context, id string, policy domain.ResourcePolicy) (domain.Resource, error)
	AssignClaimant(ctx context.Context, resourceID, claimantID string) (domain.Assignment, error)
	RecordView(ctx context.Context, resourceID, claimantID string) (domain.Assignment, error)
}

// HandleCreateResource returns an HTTP handler for posting a new resource.
func HandleCreateResource(svc ResourceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createResourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.OwnerID) == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "owner_id is required")
			return
		}

		res, err := svc.CreateResource(r.Context(), app.CreateResourceInput{
			OwnerID:        req.OwnerID,
			Title:          req.Title,
			Exclusive:      req.Exclusive,
			Cap:            req.Cap,
			UnitPriceCents: req.UnitPriceCents,
			Currency:       req.Currency,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toResourceResponse(res))
	}
}

// HandleGetResource returns an HTTP handler for reading a resource.
func HandleGetResource(svc ResourceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.GetResource(r.Context(), chi.URLParam(r, "resourceID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResourceResponse(res))
	}
}

// HandleUpdatePolicy returns an HTTP handler for changing exclusivity, cap or price.
func HandleUpdatePolicy(svc ResourceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req policyRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.UpdatePolicy(r.Context(), chi.URLParam(r, "resourceID"), domain.ResourcePolicy{
			Exclusive:      req.Exclusive,
			Cap:            req.Cap,
			UnitPriceCents: req.UnitPriceCents,
			Currency:       req.Currency,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResourceResponse(res))
	}
}

// HandleAssignClaimant returns an HTTP handler that offers a resource to a claimant.
func HandleAssignClaimant(svc ResourceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.ClaimantID) == "" {
			writeError(w, http.StatusBadRequest, codeClaimantRequired, domain.ErrClaimantRequired.Error())
			return
		}

		a, err := svc.AssignClaimant(r.Context(), chi.URLParam(r, "resourceID"), req.ClaimantID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAssignmentResponse(a))
	}
}

// HandleRecordView returns an HTTP handler that marks the resource as seen by the claimant.
func HandleRecordView(svc ResourceManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claimantID, ok := requireClaimant(w, r)
		if !ok {
			return
		}

		a, err := svc.RecordView(r.Context(), chi.URLParam(r, "resourceID"), claimantID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAssignmentResponse(a))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

func requireClaimant(w http.ResponseWriter, r *http.Request) (string, bool) {
	claimantID := strings.TrimSpace(r.Header.Get(claimantHeader))
	if claimantID == "" {
		writeError(w, http.StatusBadRequest, codeClaimantRequired, domain.ErrClaimantRequired.Error())
		return "", false
	}
	return claimantID, true
}

type createResourceRequest struct {
	OwnerID        string `json:"owner_id"`
	Title          string `json:"title"`
	Exclusive      bool   `json:"exclusive"`
	Cap            int    `json:"cap"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`
}

type policyRequest struct {
	Exclusive      bool   `json:"exclusive"`
	Cap            int    `json:"cap"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`
}

type assignRequest struct {
	ClaimantID string `json:"claimant_id"`
}

type resourceResponse struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Exclusive      bool      `json:"exclusive"`
	Cap            int       `json:"cap"`
	Consumed       int       `json:"consumed"`
	Remaining      int       `json:"remaining"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toResourceResponse(res domain.Resource) resourceResponse {
	return resourceResponse{
		ID:             res.ID,
		OwnerID:        res.OwnerID,
		Title:          res.Title,
		Exclusive:      res.Exclusive,
		Cap:            res.Cap,
		Consumed:       res.Consumed,
		Remaining:      res.Remaining(),
		UnitPriceCents: res.UnitPriceCents,
		Currency:       res.Currency,
		CreatedAt:      res.CreatedAt,
		UpdatedAt:      res.UpdatedAt,
	}
}

type assignmentResponse struct {
	ResourceID string                 `json:"resource_id"`
	ClaimantID string                 `json:"claimant_id"`
	Status     string                 `json:"status"`
	Pricing    domain.PricingSnapshot `json:"pricing"`
	UnlockedAt *time.Time             `json:"unlocked_at,omitempty"`
}

func toAssignmentResponse(a domain.Assignment) assignmentResponse {
	return assignmentResponse{
		ResourceID: a.ResourceID,
		ClaimantID: a.ClaimantID,
		Status:     string(a.Status),
		Pricing:    a.Pricing,
		UnlockedAt: a.UnlockedAt,
	}
}
