package boltdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// Refund requests are keyed by order id, which enforces one per order.

func (s *Store) CreateRefund(ctx context.Context, refund domain.RefundRequest) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		if _, err := loadOrder(tx, refund.OrderID); err != nil {
			return err
		}
		b := tx.Bucket(bucketRefunds)
		if b.Get([]byte(refund.OrderID)) != nil {
			return nil
		}
		return putJSON(b, refund.OrderID, refund)
	})
}

func (s *Store) ListPendingRefunds(ctx context.Context, limit int) ([]domain.RefundRequest, error) {
	var refunds []domain.RefundRequest
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefunds).ForEach(func(k, v []byte) error {
			var rf domain.RefundRequest
			if err := decode(k, v, &rf); err != nil {
				return err
			}
			if rf.Status == domain.RefundStatusPending {
				refunds = append(refunds, rf)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refunds, func(i, j int) bool {
		if refunds[i].CreatedAt.Equal(refunds[j].CreatedAt) {
			return refunds[i].ID < refunds[j].ID
		}
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	if limit > 0 && len(refunds) > limit {
		refunds = refunds[:limit]
	}
	return refunds, nil
}

func (s *Store) UpdateRefund(ctx context.Context, refund domain.RefundRequest) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefunds)
		var stored domain.RefundRequest
		ok, err := getJSON(b, refund.OrderID, &stored)
		if err != nil {
			return err
		}
		if !ok || stored.ID != refund.ID {
			return fmt.Errorf("update refund: %s not found", refund.ID)
		}
		return putJSON(b, refund.OrderID, refund)
	})
}

// deliveryRecord keeps the payload as opaque bytes.
type deliveryRecord struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"`
	ExternalReference string    `json:"external_reference"`
	ReportedStatus    string    `json:"reported_status"`
	PaymentID         string    `json:"payment_id,omitempty"`
	OrderID           string    `json:"order_id,omitempty"`
	Outcome           string    `json:"outcome"`
	Error             string    `json:"error,omitempty"`
	Payload           []byte    `json:"payload,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// deliveryKey sorts by arrival time so the newest rows are at the end of the bucket.
func deliveryKey(d domain.WebhookDelivery) string {
	return fmt.Sprintf("%020d-%s", d.ReceivedAt.UnixNano(), d.ID)
}

func (s *Store) RecordDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	rec := deliveryRecord{
		ID:                d.ID,
		Source:            d.Source,
		ExternalReference: d.ExternalReference,
		ReportedStatus:    d.ReportedStatus,
		PaymentID:         d.PaymentID,
		OrderID:           d.OrderID,
		Outcome:           string(d.Outcome),
		Error:             d.Error,
		Payload:           d.Payload,
		ReceivedAt:        d.ReceivedAt,
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketDeliveries), deliveryKey(d), rec)
	})
}

// ListDeliveries walks the bucket newest first. An empty outcome lists all.
func (s *Store) ListDeliveries(ctx context.Context, outcome domain.DeliveryOutcome, limit int) ([]domain.WebhookDelivery, error) {
	var out []domain.WebhookDelivery
	err := s.view(ctx, func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeliveries).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var rec deliveryRecord
			if err := decode(k, v, &rec); err != nil {
				return err
			}
			if outcome != "" && rec.Outcome != string(outcome) {
				continue
			}
			d := domain.WebhookDelivery{
				ID:                rec.ID,
				Source:            rec.Source,
				ExternalReference: rec.ExternalReference,
				ReportedStatus:    rec.ReportedStatus,
				PaymentID:         rec.PaymentID,
				OrderID:           rec.OrderID,
				Outcome:           domain.DeliveryOutcome(rec.Outcome),
				Error:             rec.Error,
				ReceivedAt:        rec.ReceivedAt,
			}
			if len(rec.Payload) > 0 {
				d.Payload = rec.Payload
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
