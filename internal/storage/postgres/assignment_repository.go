package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const assignmentColumns = `resource_id, claimant_id, status, pricing, created_at, updated_at, unlocked_at`

type AssignmentRepository struct {
	conn
}

func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{conn: conn{pool: pool}}
}

// GetAssignment returns nil when the pair has no assignment yet.
func (r *AssignmentRepository) GetAssignment(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	return r.get(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE resource_id = $1 AND claimant_id = $2`, resourceID, claimantID)
}

func (r *AssignmentRepository) GetAssignmentForUpdate(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	return r.get(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE resource_id = $1 AND claimant_id = $2 FOR UPDATE`, resourceID, claimantID)
}

// CreateAssignment does not raise on a duplicate pair, so the surrounding
// transaction stays usable for the re-read.
func (r *AssignmentRepository) CreateAssignment(ctx context.Context, a domain.Assignment) error {
	const stmt = `
INSERT INTO assignments (resource_id, claimant_id, status, pricing, created_at, updated_at, unlocked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (resource_id, claimant_id) DO NOTHING`

	pricing, err := json.Marshal(a.Pricing)
	if err != nil {
		return fmt.Errorf("encode pricing: %w", err)
	}
	tag, err := r.exec(ctx, stmt, a.ResourceID, a.ClaimantID, string(a.Status), string(pricing), a.CreatedAt, a.UpdatedAt, a.UnlockedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrResourceNotFound
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *AssignmentRepository) UpdateAssignment(ctx context.Context, a domain.Assignment) error {
	const stmt = `
UPDATE assignments
SET status = $3, pricing = $4, updated_at = $5, unlocked_at = $6
WHERE resource_id = $1 AND claimant_id = $2`

	pricing, err := json.Marshal(a.Pricing)
	if err != nil {
		return fmt.Errorf("encode pricing: %w", err)
	}
	tag, err := r.exec(ctx, stmt, a.ResourceID, a.ClaimantID, string(a.Status), string(pricing), a.UpdatedAt, a.UnlockedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAssignmentNotFound
	}
	return nil
}

func (r *AssignmentRepository) get(ctx context.Context, query, resourceID, claimantID string) (*domain.Assignment, error) {
	var (
		a       domain.Assignment
		status  string
		pricing []byte
	)
	err := r.queryRow(ctx, query, resourceID, claimantID).
		Scan(&a.ResourceID, &a.ClaimantID, &status, &pricing, &a.CreatedAt, &a.UpdatedAt, &a.UnlockedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	a.Status = domain.AssignmentStatus(status)
	if err := json.Unmarshal(pricing, &a.Pricing); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}
	return &a, nil
}
