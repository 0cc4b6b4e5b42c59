package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

type RefundRepository struct {
	conn
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{conn: conn{pool: pool}}
}

// CreateRefund keeps the first refund request of an order.
func (r *RefundRepository) CreateRefund(ctx context.Context, refund domain.RefundRequest) error {
	const stmt = `
INSERT INTO refund_requests (id, order_id, payment_id, external_reference, amount_cents, currency, reason,
	status, attempts, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (order_id) DO NOTHING`

	_, err := r.exec(ctx, stmt,
		refund.ID, refund.OrderID, refund.PaymentID, refund.ExternalReference, refund.AmountCents,
		refund.Currency, refund.Reason, string(refund.Status), refund.Attempts, refund.LastError,
		refund.CreatedAt, refund.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

func (r *RefundRepository) ListPendingRefunds(ctx context.Context, limit int) ([]domain.RefundRequest, error) {
	const query = `
SELECT id, order_id, payment_id, external_reference, amount_cents, currency, reason,
	status, attempts, last_error, created_at, updated_at
FROM refund_requests
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1`

	rows, err := r.query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []domain.RefundRequest
	for rows.Next() {
		var (
			rf     domain.RefundRequest
			status string
		)
		if err := rows.Scan(
			&rf.ID, &rf.OrderID, &rf.PaymentID, &rf.ExternalReference, &rf.AmountCents, &rf.Currency,
			&rf.Reason, &status, &rf.Attempts, &rf.LastError, &rf.CreatedAt, &rf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		rf.Status = domain.RefundStatus(status)
		refunds = append(refunds, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	return refunds, nil
}

func (r *RefundRepository) UpdateRefund(ctx context.Context, refund domain.RefundRequest) error {
	const stmt = `
UPDATE refund_requests
SET status = $2, attempts = $3, last_error = $4, updated_at = $5
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, refund.ID, string(refund.Status), refund.Attempts, refund.LastError, refund.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update refund: %s not found", refund.ID)
	}
	return nil
}
