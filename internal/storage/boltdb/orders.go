package boltdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// orderRecord is the stored form of an order. Raw stays opaque bytes so an
// empty payload round-trips as nil.
type orderRecord struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	RefID             string    `json:"ref_id"`
	ClaimantID        string    `json:"claimant_id"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	Quantity          int       `json:"quantity"`
	Currency          string    `json:"currency"`
	ExternalReference string    `json:"external_reference"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	PreferenceID      string    `json:"preference_id,omitempty"`
	InitPoint         string    `json:"init_point,omitempty"`
	PaymentID         string    `json:"payment_id,omitempty"`
	Raw               []byte    `json:"raw,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toOrderRecord(o domain.Order) orderRecord {
	return orderRecord{
		ID:                o.ID,
		Kind:              string(o.Kind),
		RefID:             o.RefID,
		ClaimantID:        o.ClaimantID,
		UnitPriceCents:    o.UnitPriceCents,
		Quantity:          o.Quantity,
		Currency:          o.Currency,
		ExternalReference: o.ExternalReference,
		Status:            string(o.Status),
		Reason:            o.Reason,
		PreferenceID:      o.PreferenceID,
		InitPoint:         o.InitPoint,
		PaymentID:         o.PaymentID,
		Raw:               o.Raw,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func (r orderRecord) order() domain.Order {
	o := domain.Order{
		ID:                r.ID,
		Kind:              domain.OrderKind(r.Kind),
		RefID:             r.RefID,
		ClaimantID:        r.ClaimantID,
		UnitPriceCents:    r.UnitPriceCents,
		Quantity:          r.Quantity,
		Currency:          r.Currency,
		ExternalReference: r.ExternalReference,
		Status:            domain.OrderStatus(r.Status),
		Reason:            r.Reason,
		PreferenceID:      r.PreferenceID,
		InitPoint:         r.InitPoint,
		PaymentID:         r.PaymentID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if len(r.Raw) > 0 {
		o.Raw = r.Raw
	}
	return o
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	if err := validID(order.ID); err != nil {
		return err
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrders)
		if b.Get([]byte(order.ID)) != nil {
			return domain.ErrAlreadyExists
		}
		return putJSON(b, order.ID, toOrderRecord(order))
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var out domain.Order
	err := s.view(ctx, func(tx *bolt.Tx) error {
		rec, err := loadOrder(tx, id)
		if err != nil {
			return err
		}
		out = rec.order()
		return nil
	})
	return out, err
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, t domain.OrderTransition) error {
	if !t.To.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, t.To)
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		rec, err := loadOrder(tx, t.OrderID)
		if err != nil {
			return err
		}
		if rec.Status != string(t.From) {
			return fmt.Errorf("%w: order %s is no longer %s", domain.ErrConcurrentUpdate, t.OrderID, t.From)
		}
		rec.Status = string(t.To)
		if t.Reason != "" {
			rec.Reason = t.Reason
		}
		if t.PaymentID != "" {
			rec.PaymentID = t.PaymentID
		}
		if len(t.Raw) > 0 {
			rec.Raw = t.Raw
		}
		rec.UpdatedAt = t.At
		return putJSON(tx.Bucket(bucketOrders), rec.ID, rec)
	})
}

func (s *Store) AttachPreference(ctx context.Context, id, preferenceID, initPoint string, at time.Time) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		rec, err := loadOrder(tx, id)
		if err != nil {
			return err
		}
		rec.PreferenceID = preferenceID
		rec.InitPoint = initPoint
		rec.UpdatedAt = at
		return putJSON(tx.Bucket(bucketOrders), rec.ID, rec)
	})
}

func (s *Store) ListOrdersByStatus(ctx context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	wanted := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		wanted[string(st)] = true
	}

	var orders []domain.Order
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrders).ForEach(func(k, v []byte) error {
			var rec orderRecord
			if err := decode(k, v, &rec); err != nil {
				return err
			}
			if wanted[rec.Status] && !rec.UpdatedAt.After(updatedBefore) {
				orders = append(orders, rec.order())
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].UpdatedAt.Equal(orders[j].UpdatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].UpdatedAt.Before(orders[j].UpdatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func loadOrder(tx *bolt.Tx, id string) (orderRecord, error) {
	if err := validID(id); err != nil {
		return orderRecord{}, err
	}
	var rec orderRecord
	ok, err := getJSON(tx.Bucket(bucketOrders), id, &rec)
	if err != nil {
		return orderRecord{}, err
	}
	if !ok {
		return orderRecord{}, domain.ErrOrderNotFound
	}
	return rec, nil
}
