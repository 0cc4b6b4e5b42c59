package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

const orderColumns = `id, kind, ref_id, claimant_id, unit_price_cents, quantity, currency, external_reference,
status, reason, preference_id, init_point, payment_id, raw, created_at, updated_at`

type OrderRepository struct {
	conn
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{conn: conn{pool: pool}}
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, kind, ref_id, claimant_id, unit_price_cents, quantity, currency, external_reference,
	status, reason, preference_id, init_point, payment_id, raw, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT DO NOTHING`

	tag, err := r.exec(ctx, stmt,
		order.ID, string(order.Kind), order.RefID, order.ClaimantID, order.UnitPriceCents, order.Quantity,
		order.Currency, order.ExternalReference, string(order.Status), order.Reason, order.PreferenceID,
		order.InitPoint, order.PaymentID, rawJSON(order.Raw), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

// UpdateOrderStatus is a compare-and-swap on the previous status. Empty
// reason, payment id and raw payload leave the stored values untouched.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, t domain.OrderTransition) error {
	const stmt = `
UPDATE orders
SET status = $3,
	reason = CASE WHEN $4::text = '' THEN reason ELSE $4::text END,
	payment_id = CASE WHEN $5::text = '' THEN payment_id ELSE $5::text END,
	raw = COALESCE($6::jsonb, raw),
	updated_at = $7
WHERE id = $1 AND status = $2`

	tag, err := r.exec(ctx, stmt, t.OrderID, string(t.From), string(t.To), t.Reason, t.PaymentID, rawJSON(t.Raw), t.At)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, t.To)
		}
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	ok, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, t.OrderID)
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !ok {
		return domain.ErrOrderNotFound
	}
	return fmt.Errorf("%w: order %s is no longer %s", domain.ErrConcurrentUpdate, t.OrderID, t.From)
}

func (r *OrderRepository) AttachPreference(ctx context.Context, id, preferenceID, initPoint string, at time.Time) error {
	const stmt = `UPDATE orders SET preference_id = $2, init_point = $3, updated_at = $4 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, preferenceID, initPoint, at)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("attach preference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) ListOrdersByStatus(ctx context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	const query = `SELECT ` + orderColumns + `
FROM orders
WHERE status = ANY($1) AND updated_at <= $2
ORDER BY updated_at, id
LIMIT $3`

	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := r.query(ctx, query, names, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *OrderRepository) get(ctx context.Context, query, id string) (domain.Order, error) {
	o, err := scanOrder(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if isNoRows(err) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		kind   string
		status string
		raw    []byte
	)
	err := row.Scan(
		&o.ID, &kind, &o.RefID, &o.ClaimantID, &o.UnitPriceCents, &o.Quantity, &o.Currency,
		&o.ExternalReference, &status, &o.Reason, &o.PreferenceID, &o.InitPoint, &o.PaymentID,
		&raw, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	if len(raw) > 0 {
		o.Raw = raw
	}
	return o, nil
}

// rawJSON maps an empty payload to SQL NULL.
func rawJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
