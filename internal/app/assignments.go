package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// AssignmentRegistry tracks the relationship between a resource and each
// claimant. Rows are created lazily and only move forward, except for the
// unlocked -> viewed demotion used when an approval is reversed.
type AssignmentRegistry struct {
	tx          Transactor
	assignments AssignmentRepository
	clock       clock.Clock
	logger      *slog.Logger
}

func NewAssignmentRegistry(tx Transactor, assignments AssignmentRepository, clk clock.Clock, logger *slog.Logger) *AssignmentRegistry {
	return &AssignmentRegistry{
		tx:          tx,
		assignments: assignments,
		clock:       clk,
		logger:      resolveLogger(logger),
	}
}

func (r *AssignmentRegistry) Get(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	return r.assignments.GetAssignment(ctx, resourceID, claimantID)
}

// Ensure creates an unseen assignment if the pair has none.
func (r *AssignmentRegistry) Ensure(ctx context.Context, resourceID, claimantID string, pricing domain.PricingSnapshot) (domain.Assignment, error) {
	return r.upsert(ctx, resourceID, claimantID, pricing, domain.AssignmentStatusUnseen)
}

// UpsertViewed creates a viewed assignment or promotes an unseen one. Viewed
// and unlocked assignments are left untouched.
func (r *AssignmentRegistry) UpsertViewed(ctx context.Context, resourceID, claimantID string, pricing domain.PricingSnapshot) (domain.Assignment, error) {
	return r.upsert(ctx, resourceID, claimantID, pricing, domain.AssignmentStatusViewed)
}

func (r *AssignmentRegistry) upsert(
	ctx context.Context,
	resourceID, claimantID string,
	pricing domain.PricingSnapshot,
	status domain.AssignmentStatus,
) (domain.Assignment, error) {
	if claimantID == "" {
		return domain.Assignment{}, domain.ErrClaimantRequired
	}
	if resourceID == "" {
		return domain.Assignment{}, domain.ErrInvalidID
	}

	var result domain.Assignment
	err := r.tx.WithTx(ctx, func(txCtx context.Context) error {
		existing, err := r.assignments.GetAssignmentForUpdate(txCtx, resourceID, claimantID)
		if err != nil {
			return err
		}
		if existing == nil {
			now := r.clock.Now()
			created := domain.Assignment{
				ResourceID: resourceID,
				ClaimantID: claimantID,
				Status:     status,
				Pricing:    pricing,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := r.assignments.CreateAssignment(txCtx, created); err != nil {
				if !errors.Is(err, domain.ErrAlreadyExists) {
					return err
				}
				// A concurrent caller created the row first; continue from theirs.
				existing, err = r.assignments.GetAssignmentForUpdate(txCtx, resourceID, claimantID)
				if err != nil {
					return err
				}
				if existing == nil {
					return domain.ErrAssignmentNotFound
				}
			} else {
				result = created
				return nil
			}
		}

		if existing.Status == domain.AssignmentStatusUnseen && status == domain.AssignmentStatusViewed {
			existing.Status = domain.AssignmentStatusViewed
			existing.Pricing = pricing
			existing.UpdatedAt = r.clock.Now()
			if err := r.assignments.UpdateAssignment(txCtx, *existing); err != nil {
				return err
			}
		}
		result = *existing
		return nil
	})
	if err != nil {
		return domain.Assignment{}, err
	}
	return result, nil
}

// PromoteToUnlocked grants access. It succeeds from viewed and is a no-op
// when the claimant is already unlocked.
func (r *AssignmentRegistry) PromoteToUnlocked(ctx context.Context, resourceID, claimantID string) (domain.Assignment, error) {
	return r.move(ctx, resourceID, claimantID, domain.AssignmentStatusViewed, domain.AssignmentStatusUnlocked)
}

// DemoteToViewed revokes access after an approval is reversed. Only valid from unlocked.
func (r *AssignmentRegistry) DemoteToViewed(ctx context.Context, resourceID, claimantID string) (domain.Assignment, error) {
	return r.move(ctx, resourceID, claimantID, domain.AssignmentStatusUnlocked, domain.AssignmentStatusViewed)
}

func (r *AssignmentRegistry) move(
	ctx context.Context,
	resourceID, claimantID string,
	from, to domain.AssignmentStatus,
) (domain.Assignment, error) {
	var result domain.Assignment
	err := r.tx.WithTx(ctx, func(txCtx context.Context) error {
		a, err := r.assignments.GetAssignmentForUpdate(txCtx, resourceID, claimantID)
		if err != nil {
			return err
		}
		if a == nil {
			return domain.ErrAssignmentNotFound
		}
		if a.Status == to && to == domain.AssignmentStatusUnlocked {
			result = *a
			return nil
		}
		if a.Status != from {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidAssignmentTransition, a.Status, to)
		}

		now := r.clock.Now()
		a.Status = to
		a.UpdatedAt = now
		if to == domain.AssignmentStatusUnlocked {
			a.UnlockedAt = &now
		} else {
			a.UnlockedAt = nil
		}
		if err := r.assignments.UpdateAssignment(txCtx, *a); err != nil {
			return err
		}

		r.logger.Info("assignment status changed",
			"event", "assignment_status_changed",
			"module", logModule,
			"layer", "application",
			"resource_id", resourceID,
			"claimant_id", claimantID,
			"from", string(from),
			"to", string(to),
		)
		result = *a
		return nil
	})
	if err != nil {
		return domain.Assignment{}, err
	}
	return result, nil
}
