package boltdb

import (
	"context"

	bolt "github.com/boltdb/bolt"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// GetAssignment returns nil when the pair has no assignment yet.
func (s *Store) GetAssignment(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	var out *domain.Assignment
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var a domain.Assignment
		ok, err := getJSON(tx.Bucket(bucketAssignments), domain.AssignmentKey(resourceID, claimantID), &a)
		if err != nil || !ok {
			return err
		}
		out = &a
		return nil
	})
	return out, err
}

func (s *Store) GetAssignmentForUpdate(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	return s.GetAssignment(ctx, resourceID, claimantID)
}

func (s *Store) CreateAssignment(ctx context.Context, a domain.Assignment) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		if _, err := loadResource(tx, a.ResourceID); err != nil {
			return err
		}
		b := tx.Bucket(bucketAssignments)
		key := a.Key()
		if b.Get([]byte(key)) != nil {
			return domain.ErrAlreadyExists
		}
		return putJSON(b, key, a)
	})
}

func (s *Store) UpdateAssignment(ctx context.Context, a domain.Assignment) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		key := a.Key()
		if b.Get([]byte(key)) == nil {
			return domain.ErrAssignmentNotFound
		}
		return putJSON(b, key, a)
	})
}
