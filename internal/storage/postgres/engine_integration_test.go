package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saviocipriano12/pedraum-sub001/internal/app"
	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
	"github.com/saviocipriano12/pedraum-sub001/internal/testutil"
)

type stubGateway struct{}

func (stubGateway) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	return domain.Preference{ID: "pref-" + req.ExternalReference[len(req.ExternalReference)-8:], InitPoint: "https://pay.example"}, nil
}

func (stubGateway) LookupPayment(ctx context.Context, ref string) (domain.PaymentReport, bool, error) {
	return domain.PaymentReport{}, false, nil
}

func (stubGateway) Refund(ctx context.Context, refund domain.RefundRequest) error {
	return errors.New("not used")
}

type pgEngine struct {
	pool       *pgxpool.Pool
	resources  *ResourceRepository
	checkout   *app.CheckoutService
	reconciler *app.Reconciler
}

func newPGEngine(t *testing.T) pgEngine {
	t.Helper()
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	clk := clock.NewSystem()
	tx := NewTransactor(pool)
	resources := NewResourceRepository(pool)
	ledger := app.NewOrderLedger(tx, NewOrderRepository(pool), clk, nil)
	registry := app.NewAssignmentRegistry(tx, NewAssignmentRepository(pool), clk, nil)
	return pgEngine{
		pool:       pool,
		resources:  resources,
		checkout:   app.NewCheckoutService(tx, resources, ledger, registry, stubGateway{}, clk, nil),
		reconciler: app.NewReconciler(tx, resources, ledger, registry, NewRefundRepository(pool), NewDeliveryRepository(pool), clk, nil),
	}
}

// approveConcurrently delivers every approval in its own goroutine.
func (e pgEngine) approveConcurrently(t *testing.T, ctx context.Context, orders []domain.Order, copies int) {
	t.Helper()
	var wg sync.WaitGroup
	for _, o := range orders {
		for j := 0; j < copies; j++ {
			wg.Add(1)
			go func(o domain.Order) {
				defer wg.Done()
				_, err := e.reconciler.Reconcile(ctx, app.ReconcileInput{
					ExternalReference: o.ExternalReference,
					Status:            "approved",
					PaymentID:         "pay-" + o.ID[:8],
					Payload:           []byte(`{"status":"approved"}`),
				})
				if err != nil {
					t.Errorf("reconcile %s: %v", o.ID, err)
				}
			}(o)
		}
	}
	wg.Wait()
}

func TestEngine_ConcurrentApprovalsOnPostgres(t *testing.T) {
	e := newPGEngine(t)
	pool, resources, checkout := e.pool, e.resources, e.checkout
	ctx := context.Background()

	const capacity = 3
	res := testutil.InsertResource(t, ctx, pool, false, capacity, 0)

	var placed []domain.Order
	for i := 0; i < capacity+2; i++ {
		out, err := checkout.Checkout(ctx, app.CheckoutInput{ClaimantID: fmt.Sprintf("seller-%d", i), ResourceID: res.ID})
		if err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
		placed = append(placed, out.Order)
	}

	e.approveConcurrently(t, ctx, placed, 2)

	got, err := resources.GetResource(ctx, res.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.Consumed != capacity {
		t.Fatalf("expected consumed %d, got %d", capacity, got.Consumed)
	}

	var unlocked, refundRows int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM assignments WHERE resource_id = $1 AND status = 'unlocked'`, res.ID).Scan(&unlocked); err != nil {
		t.Fatalf("count unlocked: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM refund_requests`).Scan(&refundRows); err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if unlocked != capacity || refundRows != 2 {
		t.Fatalf("expected %d unlocked and 2 refunds, got %d and %d", capacity, unlocked, refundRows)
	}
}

func TestEngine_SameClaimantConcurrentApprovalsOnPostgres(t *testing.T) {
	e := newPGEngine(t)
	ctx := context.Background()
	res := testutil.InsertResource(t, ctx, e.pool, false, 5, 0)

	var placed []domain.Order
	for i := 0; i < 2; i++ {
		out, err := e.checkout.Checkout(ctx, app.CheckoutInput{ClaimantID: "seller-1", ResourceID: res.ID})
		if err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
		placed = append(placed, out.Order)
	}

	e.approveConcurrently(t, ctx, placed, 1)

	got, err := e.resources.GetResource(ctx, res.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.Consumed != 1 {
		t.Fatalf("expected consumed 1, got %d", got.Consumed)
	}

	var approved, duplicates int
	if err := e.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE ref_id = $1 AND status = 'approved'`, res.ID).Scan(&approved); err != nil {
		t.Fatalf("count approved: %v", err)
	}
	if err := e.pool.QueryRow(ctx, `SELECT COUNT(*) FROM refund_requests WHERE reason = $1`, domain.ReasonDuplicateUnlock).Scan(&duplicates); err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if approved != 1 || duplicates != 1 {
		t.Fatalf("expected 1 approved order and 1 duplicate_unlock refund, got %d and %d", approved, duplicates)
	}
}
