package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
	"github.com/saviocipriano12/pedraum-sub001/internal/testutil"
)

func TestAssignmentRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewAssignmentRepository(pool)
	tx := NewTransactor(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("create, read and update", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		res := testutil.InsertResource(t, ctx, pool, false, 3, 0)
		now := time.Now().UTC().Truncate(time.Microsecond)

		missing, err := repo.GetAssignment(ctx, res.ID, "seller-1")
		if err != nil {
			t.Fatalf("get missing: %v", err)
		}
		if missing != nil {
			t.Fatalf("expected nil, got %+v", missing)
		}

		a := domain.Assignment{
			ResourceID: res.ID,
			ClaimantID: "seller-1",
			Status:     domain.AssignmentStatusViewed,
			Pricing:    res.Snapshot(),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repo.CreateAssignment(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.CreateAssignment(ctx, a); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}

		err = tx.WithTx(ctx, func(txCtx context.Context) error {
			got, err := repo.GetAssignmentForUpdate(txCtx, res.ID, "seller-1")
			if err != nil {
				return err
			}
			if got == nil || got.Pricing != res.Snapshot() {
				t.Fatalf("unexpected assignment %+v", got)
			}
			got.Status = domain.AssignmentStatusUnlocked
			got.UnlockedAt = &now
			return repo.UpdateAssignment(txCtx, *got)
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}

		got, err := repo.GetAssignment(ctx, res.ID, "seller-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.IsUnlocked() || got.UnlockedAt == nil || !got.UnlockedAt.Equal(now) {
			t.Fatalf("unexpected assignment %+v", got)
		}
	})

	t.Run("duplicate insert inside a transaction keeps it usable", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		res := testutil.InsertResource(t, ctx, pool, false, 3, 0)
		a := domain.Assignment{
			ResourceID: res.ID,
			ClaimantID: "seller-1",
			Status:     domain.AssignmentStatusUnseen,
			Pricing:    res.Snapshot(),
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := repo.CreateAssignment(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}

		err := tx.WithTx(ctx, func(txCtx context.Context) error {
			if err := repo.CreateAssignment(txCtx, a); !errors.Is(err, domain.ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}
			got, err := repo.GetAssignmentForUpdate(txCtx, res.ID, "seller-1")
			if err != nil {
				return err
			}
			if got == nil {
				t.Fatalf("expected assignment after conflict")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}
	})

	t.Run("unknown resource", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		err := repo.CreateAssignment(ctx, domain.Assignment{
			ResourceID: "00000000-0000-0000-0000-000000000001",
			ClaimantID: "seller-1",
			Status:     domain.AssignmentStatusUnseen,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		})
		if !errors.Is(err, domain.ErrResourceNotFound) {
			t.Fatalf("expected ErrResourceNotFound, got %v", err)
		}
	})
}
