package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

func TestReconciler_FirstApprovalUnlocks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 3)
	order := env.startCheckout(t, res.ID, "seller-1")

	out, err := env.reconciler.Reconcile(ctx, env.report(order, "approved"))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.Outcome != domain.DeliveryApplied || out.Previous != domain.OrderStatusPending || out.Current != domain.OrderStatusApproved {
		t.Fatalf("unexpected result %+v", out)
	}
	if got := env.store.resource(res.ID).Consumed; got != 1 {
		t.Fatalf("expected consumed 1, got %d", got)
	}
	a, _ := env.store.assignment(res.ID, "seller-1")
	if !a.IsUnlocked() {
		t.Fatalf("expected unlocked assignment, got %s", a.Status)
	}
	stored := env.store.order(order.ID)
	if stored.PaymentID == "" || len(stored.Raw) == 0 {
		t.Fatalf("expected payment id and raw payload on order, got %+v", stored)
	}
}

func TestReconciler_DuplicateApprovalIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 3)
	order := env.startCheckout(t, res.ID, "seller-1")

	for i := 0; i < 3; i++ {
		if _, err := env.reconciler.Reconcile(ctx, env.report(order, "approved")); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}
	if got := env.store.resource(res.ID).Consumed; got != 1 {
		t.Fatalf("expected consumed 1 after replays, got %d", got)
	}
	outcomes := env.store.deliveryOutcomes()
	want := []domain.DeliveryOutcome{domain.DeliveryApplied, domain.DeliveryDuplicate, domain.DeliveryDuplicate}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(outcomes))
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("delivery %d: expected %s, got %s", i, want[i], outcomes[i])
		}
	}
}

func TestReconciler_CapacityExhaustedCompensates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 3)

	var orders []domain.Order
	for _, claimant := range []string{"seller-1", "seller-2", "seller-3", "seller-4"} {
		orders = append(orders, env.startCheckout(t, res.ID, claimant))
	}
	for i, order := range orders {
		out, err := env.reconciler.Reconcile(ctx, env.report(order, "approved"))
		if err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
		if i < 3 && out.Outcome != domain.DeliveryApplied {
			t.Fatalf("order %d: expected applied, got %s", i, out.Outcome)
		}
		if i == 3 && out.Outcome != domain.DeliveryCompensated {
			t.Fatalf("order %d: expected compensated, got %s", i, out.Outcome)
		}
	}

	if got := env.store.resource(res.ID).Consumed; got != 3 {
		t.Fatalf("expected consumed 3, got %d", got)
	}
	last := env.store.order(orders[3].ID)
	if last.Status != domain.OrderStatusRejected || last.Reason != domain.ReasonCapacityExhausted {
		t.Fatalf("expected rejected/capacity_exhausted, got %s/%s", last.Status, last.Reason)
	}
	a, _ := env.store.assignment(res.ID, "seller-4")
	if a.IsUnlocked() {
		t.Fatalf("compensated claimant must not be unlocked")
	}
	refund, ok := env.store.refunds[last.ID]
	if !ok {
		t.Fatalf("expected refund request for compensated order")
	}
	if refund.AmountCents != last.TotalCents() || refund.Status != domain.RefundStatusPending {
		t.Fatalf("unexpected refund %+v", refund)
	}

	// The gateway retrying the same approval is acknowledged without a second refund.
	out, err := env.reconciler.Reconcile(ctx, env.report(orders[3], "approved"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if out.Outcome != domain.DeliveryDuplicate {
		t.Fatalf("expected duplicate on replay, got %s", out.Outcome)
	}
	if env.store.refundCount() != 1 {
		t.Fatalf("expected a single refund, got %d", env.store.refundCount())
	}
}

func TestReconciler_ConcurrentApprovalsNeverExceedCap(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	const claimants = 8
	res := env.addResource(t, false, claimants-1)

	orders := make([]domain.Order, claimants)
	for i := range orders {
		orders[i] = env.startCheckout(t, res.ID, "seller-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, claimants*2)
	for _, order := range orders {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(o domain.Order) {
				defer wg.Done()
				if _, err := env.reconciler.Reconcile(ctx, env.report(o, "approved")); err != nil {
					errs <- err
				}
			}(order)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("reconcile: %v", err)
	}

	if got := env.store.resource(res.ID).Consumed; got != claimants-1 {
		t.Fatalf("expected consumed %d, got %d", claimants-1, got)
	}
	if env.store.refundCount() != 1 {
		t.Fatalf("expected exactly one refund, got %d", env.store.refundCount())
	}
	unlocked := 0
	for _, a := range env.store.assignments {
		if a.IsUnlocked() {
			unlocked++
		}
	}
	if unlocked != claimants-1 {
		t.Fatalf("expected %d unlocked assignments, got %d", claimants-1, unlocked)
	}
}

func TestReconciler_ExclusiveRace(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, true, 1)

	first := env.startCheckout(t, res.ID, "seller-1")
	second := env.startCheckout(t, res.ID, "seller-2")

	var wg sync.WaitGroup
	results := make([]ReconcileResult, 2)
	for i, o := range []domain.Order{first, second} {
		wg.Add(1)
		go func(i int, o domain.Order) {
			defer wg.Done()
			out, err := env.reconciler.Reconcile(ctx, env.report(o, "approved"))
			if err != nil {
				t.Errorf("reconcile: %v", err)
			}
			results[i] = out
		}(i, o)
	}
	wg.Wait()

	applied, compensated := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case domain.DeliveryApplied:
			applied++
		case domain.DeliveryCompensated:
			compensated++
		}
	}
	if applied != 1 || compensated != 1 {
		t.Fatalf("expected one unlock and one compensation, got applied=%d compensated=%d", applied, compensated)
	}
	if got := env.store.resource(res.ID).Consumed; got != 1 {
		t.Fatalf("expected consumed 1, got %d", got)
	}
	if env.store.refundCount() != 1 {
		t.Fatalf("expected one refund, got %d", env.store.refundCount())
	}
}

func TestReconciler_SecondPaymentBySameClaimantIsRefunded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 5)

	first := env.startCheckout(t, res.ID, "seller-1")
	second := env.startCheckout(t, res.ID, "seller-1")

	if _, err := env.reconciler.Reconcile(ctx, env.report(first, "approved")); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	out, err := env.reconciler.Reconcile(ctx, env.report(second, "approved"))
	if err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if out.Outcome != domain.DeliveryCompensated {
		t.Fatalf("expected compensated, got %s", out.Outcome)
	}
	if got := env.store.order(second.ID).Reason; got != domain.ReasonDuplicateUnlock {
		t.Fatalf("expected duplicate_unlock reason, got %s", got)
	}
	if got := env.store.resource(res.ID).Consumed; got != 1 {
		t.Fatalf("expected consumed 1, got %d", got)
	}
}

func TestReconciler_ReversalReleasesSlot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 2)
	order := env.startCheckout(t, res.ID, "seller-1")

	if _, err := env.reconciler.Reconcile(ctx, env.report(order, "approved")); err != nil {
		t.Fatalf("approve: %v", err)
	}
	out, err := env.reconciler.Reconcile(ctx, env.report(order, "refunded"))
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if out.Outcome != domain.DeliveryApplied || out.Current != domain.OrderStatusCancelled {
		t.Fatalf("unexpected result %+v", out)
	}
	if got := env.store.resource(res.ID).Consumed; got != 0 {
		t.Fatalf("expected consumed 0, got %d", got)
	}
	a, _ := env.store.assignment(res.ID, "seller-1")
	if a.Status != domain.AssignmentStatusViewed {
		t.Fatalf("expected viewed after reversal, got %s", a.Status)
	}

	// Replaying the reversal changes nothing.
	out, err = env.reconciler.Reconcile(ctx, env.report(order, "charged_back"))
	if err != nil {
		t.Fatalf("replay reversal: %v", err)
	}
	if out.Outcome != domain.DeliveryDuplicate {
		t.Fatalf("expected duplicate, got %s", out.Outcome)
	}
	if got := env.store.resource(res.ID).Consumed; got != 0 {
		t.Fatalf("expected consumed 0 after replay, got %d", got)
	}
}

func TestReconciler_OutOfOrderDeliveries(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 2)
	order := env.startCheckout(t, res.ID, "seller-1")

	out, err := env.reconciler.Reconcile(ctx, env.report(order, "in_process"))
	if err != nil || out.Current != domain.OrderStatusInProcess {
		t.Fatalf("in_process: %+v %v", out, err)
	}
	if _, err := env.reconciler.Reconcile(ctx, env.report(order, "approved")); err != nil {
		t.Fatalf("approve: %v", err)
	}

	out, err = env.reconciler.Reconcile(ctx, env.report(order, "pending"))
	if err != nil {
		t.Fatalf("late pending: %v", err)
	}
	if out.Outcome != domain.DeliveryStale || out.Current != domain.OrderStatusApproved {
		t.Fatalf("expected stale with order still approved, got %+v", out)
	}
	if got := env.store.resource(res.ID).Consumed; got != 1 {
		t.Fatalf("expected consumed 1, got %d", got)
	}
}

func TestReconciler_IntegrityFaultsAreHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		input   func(env *testEnv, order domain.Order) ReconcileInput
		wantErr error
	}{
		{
			name: "malformed reference",
			input: func(env *testEnv, order domain.Order) ReconcileInput {
				return ReconcileInput{ExternalReference: "garbage", Status: "approved"}
			},
			wantErr: domain.ErrMalformedReference,
		},
		{
			name: "unknown kind",
			input: func(env *testEnv, order domain.Order) ReconcileInput {
				return ReconcileInput{ExternalReference: "gift_card|" + order.RefID + "|" + order.ID, Status: "approved"}
			},
			wantErr: domain.ErrUnknownOrderKind,
		},
		{
			name: "unknown order",
			input: func(env *testEnv, order domain.Order) ReconcileInput {
				return ReconcileInput{ExternalReference: "lead_unlock|" + order.RefID + "|" + newUUID(), Status: "approved"}
			},
			wantErr: domain.ErrOrderNotFound,
		},
		{
			name: "reference pointing at another resource",
			input: func(env *testEnv, order domain.Order) ReconcileInput {
				return ReconcileInput{ExternalReference: "lead_unlock|other|" + order.ID, Status: "approved"}
			},
			wantErr: domain.ErrMalformedReference,
		},
		{
			name: "approval of a cancelled order",
			input: func(env *testEnv, order domain.Order) ReconcileInput {
				o := env.store.orders[order.ID]
				o.Status = domain.OrderStatusCancelled
				env.store.orders[order.ID] = o
				return env.report(order, "approved")
			},
			wantErr: domain.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			res := env.addResource(t, false, 2)
			order := env.startCheckout(t, res.ID, "seller-1")

			_, err := env.reconciler.Reconcile(ctx, tt.input(env, order))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			held, err := env.reconciler.Deliveries(ctx, domain.DeliveryHeld, 0)
			if err != nil {
				t.Fatalf("list deliveries: %v", err)
			}
			if len(held) != 1 || held[0].Error == "" {
				t.Fatalf("expected one held delivery with error, got %+v", held)
			}
			if got := env.store.resource(res.ID).Consumed; got != 0 {
				t.Fatalf("expected no consumption, got %d", got)
			}
		})
	}
}

func TestReconciler_RejectionBeforeApproval(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 2)
	order := env.startCheckout(t, res.ID, "seller-1")

	out, err := env.reconciler.Reconcile(ctx, env.report(order, "rejected"))
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Current != domain.OrderStatusRejected || out.Outcome != domain.DeliveryApplied {
		t.Fatalf("unexpected result %+v", out)
	}
	a, _ := env.store.assignment(res.ID, "seller-1")
	if a.Status != domain.AssignmentStatusViewed {
		t.Fatalf("expected assignment to stay viewed, got %s", a.Status)
	}
	if env.store.refundCount() != 0 {
		t.Fatalf("expected no refund for an unpaid rejection")
	}
}

func TestReconciler_RefundEchoOnCompensatedOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, status := range []string{"refunded", "cancelled", "charged_back", "rejected"} {
		t.Run(status, func(t *testing.T) {
			env := newTestEnv(t)
			res := env.addResource(t, true, 0)
			winner := env.startCheckout(t, res.ID, "seller-1")
			loser := env.startCheckout(t, res.ID, "seller-2")
			for _, o := range []domain.Order{winner, loser} {
				if _, err := env.reconciler.Reconcile(ctx, env.report(o, "approved")); err != nil {
					t.Fatalf("approve %s: %v", o.ID, err)
				}
			}
			if !env.store.order(loser.ID).Compensated() {
				t.Fatalf("expected the second order to be compensated")
			}

			out, err := env.reconciler.Reconcile(ctx, env.report(loser, status))
			if err != nil {
				t.Fatalf("refund echo: %v", err)
			}
			if out.Outcome != domain.DeliveryDuplicate || out.Current != domain.OrderStatusRejected {
				t.Fatalf("unexpected result %+v", out)
			}
			held, err := env.reconciler.Deliveries(ctx, domain.DeliveryHeld, 0)
			if err != nil {
				t.Fatalf("list deliveries: %v", err)
			}
			if len(held) != 0 {
				t.Fatalf("expected nothing held for review, got %+v", held)
			}
			if env.store.refundCount() != 1 {
				t.Fatalf("expected a single refund, got %d", env.store.refundCount())
			}
			if got := env.store.resource(res.ID).Consumed; got != 1 {
				t.Fatalf("expected consumed 1, got %d", got)
			}
		})
	}
}

func TestReconciler_LocksResourceBeforeAssignment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.addResource(t, false, 2)
	order := env.startCheckout(t, res.ID, "seller-1")

	for _, status := range []string{"approved", "refunded"} {
		env.store.trace = nil
		if _, err := env.reconciler.Reconcile(ctx, env.report(order, status)); err != nil {
			t.Fatalf("reconcile %s: %v", status, err)
		}
		trace := env.store.trace
		if len(trace) < 2 || trace[0] != "lock_resource" || trace[len(trace)-1] != "write_assignment" {
			t.Fatalf("%s: expected resource lock before assignment write, got %v", status, trace)
		}
	}
}
