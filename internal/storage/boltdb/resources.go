package boltdb

import (
	"context"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

func (s *Store) CreateResource(ctx context.Context, res domain.Resource) error {
	if err := validID(res.ID); err != nil {
		return err
	}
	if res.Consumed < 0 || res.Consumed > res.Limit() {
		return domain.ErrInvalidCapacity
	}
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		if b.Get([]byte(res.ID)) != nil {
			return domain.ErrAlreadyExists
		}
		return putJSON(b, res.ID, res)
	})
}

func (s *Store) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	var res domain.Resource
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		res, err = loadResource(tx, id)
		return err
	})
	return res, err
}

// GetResourceForShare is a plain read: bolt writers are already serialized.
func (s *Store) GetResourceForShare(ctx context.Context, id string) (domain.Resource, error) {
	return s.GetResource(ctx, id)
}

func (s *Store) GetResourceForUpdate(ctx context.Context, id string) (domain.Resource, error) {
	return s.GetResource(ctx, id)
}

func (s *Store) UpdateResourcePolicy(ctx context.Context, id string, policy domain.ResourcePolicy, at time.Time) (domain.Resource, error) {
	return s.mutateResource(ctx, id, func(res *domain.Resource) error {
		if policy.Limit() < res.Consumed {
			return fmt.Errorf("%w: limit %d, consumed %d", domain.ErrCapacityBelowUsage, policy.Limit(), res.Consumed)
		}
		res.Exclusive = policy.Exclusive
		res.Cap = policy.Cap
		res.UnitPriceCents = policy.UnitPriceCents
		res.Currency = policy.Currency
		res.UpdatedAt = at
		return nil
	})
}

func (s *Store) IncrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error) {
	return s.mutateResource(ctx, id, func(res *domain.Resource) error {
		if res.Consumed >= res.Limit() {
			return domain.ErrCapacityExceeded
		}
		res.Consumed++
		res.UpdatedAt = at
		return nil
	})
}

func (s *Store) DecrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error) {
	return s.mutateResource(ctx, id, func(res *domain.Resource) error {
		if res.Consumed <= 0 {
			return fmt.Errorf("%w: resource %s has no consumption to release", domain.ErrInvalidTransition, id)
		}
		res.Consumed--
		res.UpdatedAt = at
		return nil
	})
}

func (s *Store) mutateResource(ctx context.Context, id string, fn func(res *domain.Resource) error) (domain.Resource, error) {
	var out domain.Resource
	err := s.update(ctx, func(tx *bolt.Tx) error {
		res, err := loadResource(tx, id)
		if err != nil {
			return err
		}
		if err := fn(&res); err != nil {
			return err
		}
		out = res
		return putJSON(tx.Bucket(bucketResources), id, res)
	})
	if err != nil {
		return domain.Resource{}, err
	}
	return out, nil
}

func loadResource(tx *bolt.Tx, id string) (domain.Resource, error) {
	if err := validID(id); err != nil {
		return domain.Resource{}, err
	}
	var res domain.Resource
	ok, err := getJSON(tx.Bucket(bucketResources), id, &res)
	if err != nil {
		return domain.Resource{}, err
	}
	if !ok {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	return res, nil
}
