package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const resourceColumns = `id, owner_id, title, exclusive, cap, consumed, unit_price_cents, currency, created_at, updated_at`

type ResourceRepository struct {
	conn
}

func NewResourceRepository(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{conn: conn{pool: pool}}
}

func (r *ResourceRepository) CreateResource(ctx context.Context, res domain.Resource) error {
	const stmt = `
INSERT INTO resources (id, owner_id, title, exclusive, cap, consumed, unit_price_cents, currency, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT DO NOTHING`

	tag, err := r.exec(ctx, stmt,
		res.ID, res.OwnerID, res.Title, res.Exclusive, res.Cap, res.Consumed,
		res.UnitPriceCents, res.Currency, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInvalidCapacity
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *ResourceRepository) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return r.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
}

// GetResourceForShare blocks consumption updates from other transactions
// until the caller's transaction ends.
func (r *ResourceRepository) GetResourceForShare(ctx context.Context, id string) (domain.Resource, error) {
	return r.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1 FOR SHARE`, id)
}

func (r *ResourceRepository) GetResourceForUpdate(ctx context.Context, id string) (domain.Resource, error) {
	return r.get(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1 FOR UPDATE`, id)
}

func (r *ResourceRepository) UpdateResourcePolicy(ctx context.Context, id string, policy domain.ResourcePolicy, at time.Time) (domain.Resource, error) {
	const stmt = `
UPDATE resources
SET exclusive = $2, cap = $3, unit_price_cents = $4, currency = $5, updated_at = $6
WHERE id = $1 AND consumed <= CASE WHEN $2 THEN 1 ELSE $3::int END
RETURNING ` + resourceColumns

	res, err := scanResource(r.queryRow(ctx, stmt, id, policy.Exclusive, policy.Cap, policy.UnitPriceCents, policy.Currency, at))
	if err == nil {
		return res, nil
	}
	if isInvalidUUID(err) {
		return domain.Resource{}, domain.ErrInvalidID
	}
	if !isNoRows(err) {
		return domain.Resource{}, fmt.Errorf("update resource policy: %w", err)
	}
	if err := r.ensureExists(ctx, id); err != nil {
		return domain.Resource{}, err
	}
	return domain.Resource{}, fmt.Errorf("%w: new limit %d", domain.ErrCapacityBelowUsage, policy.Limit())
}

// IncrementConsumed is the authoritative capacity check: the row is only
// updated while consumed is still below the limit.
func (r *ResourceRepository) IncrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error) {
	const stmt = `
UPDATE resources
SET consumed = consumed + 1, updated_at = $2
WHERE id = $1 AND consumed < CASE WHEN exclusive THEN 1 ELSE cap END
RETURNING ` + resourceColumns

	res, err := scanResource(r.queryRow(ctx, stmt, id, at))
	if err == nil {
		return res, nil
	}
	if isInvalidUUID(err) {
		return domain.Resource{}, domain.ErrInvalidID
	}
	if !isNoRows(err) {
		return domain.Resource{}, fmt.Errorf("increment consumed: %w", err)
	}
	if err := r.ensureExists(ctx, id); err != nil {
		return domain.Resource{}, err
	}
	return domain.Resource{}, domain.ErrCapacityExceeded
}

func (r *ResourceRepository) DecrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error) {
	const stmt = `
UPDATE resources
SET consumed = consumed - 1, updated_at = $2
WHERE id = $1 AND consumed > 0
RETURNING ` + resourceColumns

	res, err := scanResource(r.queryRow(ctx, stmt, id, at))
	if err == nil {
		return res, nil
	}
	if isInvalidUUID(err) {
		return domain.Resource{}, domain.ErrInvalidID
	}
	if !isNoRows(err) {
		return domain.Resource{}, fmt.Errorf("decrement consumed: %w", err)
	}
	if err := r.ensureExists(ctx, id); err != nil {
		return domain.Resource{}, err
	}
	return domain.Resource{}, fmt.Errorf("%w: resource %s has no consumption to release", domain.ErrInvalidTransition, id)
}

func (r *ResourceRepository) get(ctx context.Context, query, id string) (domain.Resource, error) {
	res, err := scanResource(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Resource{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.Resource{}, domain.ErrResourceNotFound
		}
		return domain.Resource{}, fmt.Errorf("get resource: %w", err)
	}
	return res, nil
}

func (r *ResourceRepository) ensureExists(ctx context.Context, id string) error {
	ok, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM resources WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("check resource: %w", err)
	}
	if !ok {
		return domain.ErrResourceNotFound
	}
	return nil
}

func scanResource(row pgx.Row) (domain.Resource, error) {
	var res domain.Resource
	var currency string
	err := row.Scan(
		&res.ID, &res.OwnerID, &res.Title, &res.Exclusive, &res.Cap, &res.Consumed,
		&res.UnitPriceCents, &currency, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return domain.Resource{}, err
	}
	res.Currency = currency
	return res, nil
}
