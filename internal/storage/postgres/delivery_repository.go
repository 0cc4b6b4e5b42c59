package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

type DeliveryRepository struct {
	conn
}

func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{conn: conn{pool: pool}}
}

func (r *DeliveryRepository) RecordDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	const stmt = `
INSERT INTO webhook_deliveries (id, source, external_reference, reported_status, payment_id, order_id,
	outcome, error, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.exec(ctx, stmt,
		d.ID, d.Source, d.ExternalReference, d.ReportedStatus, d.PaymentID, d.OrderID,
		string(d.Outcome), d.Error, rawJSON(d.Payload), d.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the newest deliveries first. An empty outcome lists all.
func (r *DeliveryRepository) ListDeliveries(ctx context.Context, outcome domain.DeliveryOutcome, limit int) ([]domain.WebhookDelivery, error) {
	const query = `
SELECT id, source, external_reference, reported_status, payment_id, order_id, outcome, error, payload, received_at
FROM webhook_deliveries
WHERE $1::text = '' OR outcome = $1::text
ORDER BY received_at DESC, id
LIMIT $2`

	rows, err := r.query(ctx, query, string(outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		var (
			d       domain.WebhookDelivery
			out     string
			payload []byte
		)
		if err := rows.Scan(
			&d.ID, &d.Source, &d.ExternalReference, &d.ReportedStatus, &d.PaymentID, &d.OrderID,
			&out, &d.Error, &payload, &d.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Outcome = domain.DeliveryOutcome(out)
		if len(payload) > 0 {
			d.Payload = payload
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}
