package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

type memTxKey struct{}

// memStore is an in-memory store for every repository port. Transactions
// hold a single mutex, so they are fully serialized, and are rolled back by
// restoring a snapshot when fn fails.
type memStore struct {
	mu          sync.Mutex
	resources   map[string]domain.Resource
	orders      map[string]domain.Order
	assignments map[string]domain.Assignment
	refunds     map[string]domain.RefundRequest
	deliveries  []domain.WebhookDelivery
	// trace lists resource locks and assignment writes in call order.
	trace []string

	updateRefundErr error
}

func newMemStore() *memStore {
	return &memStore{
		resources:   map[string]domain.Resource{},
		orders:      map[string]domain.Order{},
		assignments: map[string]domain.Assignment{},
		refunds:     map[string]domain.RefundRequest{},
	}
}

type memSnapshot struct {
	resources   map[string]domain.Resource
	orders      map[string]domain.Order
	assignments map[string]domain.Assignment
	refunds     map[string]domain.RefundRequest
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		resources:   copyMap(s.resources),
		orders:      copyMap(s.orders),
		assignments: copyMap(s.assignments),
		refunds:     copyMap(s.refunds),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.resources = snap.resources
		s.orders = snap.orders
		s.assignments = snap.assignments
		s.refunds = snap.refunds
		return err
	}
	return nil
}

func (s *memStore) do(ctx context.Context, fn func() error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *memStore) CreateResource(ctx context.Context, resource domain.Resource) error {
	return s.do(ctx, func() error {
		if _, ok := s.resources[resource.ID]; ok {
			return domain.ErrAlreadyExists
		}
		s.resources[resource.ID] = resource
		return nil
	})
}

func (s *memStore) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	var out domain.Resource
	err := s.do(ctx, func() error {
		r, ok := s.resources[id]
		if !ok {
			return domain.ErrResourceNotFound
		}
		out = r
		return nil
	})
	return out, err
}

func (s *memStore) GetResourceForShare(ctx context.Context, id string) (domain.Resource, error) {
	return s.GetResource(ctx, id)
}

func (s *memStore) GetResourceForUpdate(ctx context.Context, id string) (domain.Resource, error) {
	res, err := s.GetResource(ctx, id)
	if err == nil {
		s.trace = append(s.trace, "lock_resource")
	}
	return res, err
}

func (s *memStore) UpdateResourcePolicy(ctx context.Context, id string, policy domain.ResourcePolicy, at time.Time) (domain.Resource, error) {
	var out domain.Resource
	err := s.do(ctx, func() error {
		r, ok := s.resources[id]
		if !ok {
			return domain.ErrResourceNotFound
		}
		if policy.Limit() < r.Consumed {
			return domain.ErrCapacityBelowUsage
		}
		r.Exclusive = policy.Exclusive
		r.Cap = policy.Cap
		r.UnitPriceCents = policy.UnitPriceCents
		r.Currency = policy.Currency
		r.UpdatedAt = at
		s.resources[id] = r
		out = r
		return nil
	})
	return out, err
}

func (s *memStore) IncrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error) {
	var out domain.Resource
	err := s.do(ctx, func() error {
		r, ok := s.resources[id]
		if !ok {
			return domain.ErrResourceNotFound
		}
		if r.Consumed >= r.Limit() {
			return domain.ErrCapacityExceeded
		}
		r.Consumed++
		r.UpdatedAt = at
		s.resources[id] = r
		out = r
		return nil
	})
	return out, err
}

func (s *memStore) DecrementConsumed(ctx context.Context, id string, at time.Time) (domain.Resource, error) {
	var out domain.Resource
	err := s.do(ctx, func() error {
		r, ok := s.resources[id]
		if !ok {
			return domain.ErrResourceNotFound
		}
		if r.Consumed == 0 {
			return fmt.Errorf("%w: consumed already zero", domain.ErrInvalidTransition)
		}
		r.Consumed--
		r.UpdatedAt = at
		s.resources[id] = r
		out = r
		return nil
	})
	return out, err
}

func (s *memStore) CreateOrder(ctx context.Context, order domain.Order) error {
	return s.do(ctx, func() error {
		if _, ok := s.orders[order.ID]; ok {
			return domain.ErrAlreadyExists
		}
		s.orders[order.ID] = order
		return nil
	})
}

func (s *memStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var out domain.Order
	err := s.do(ctx, func() error {
		o, ok := s.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		out = o
		return nil
	})
	return out, err
}

func (s *memStore) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, t domain.OrderTransition) error {
	return s.do(ctx, func() error {
		o, ok := s.orders[t.OrderID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if o.Status != t.From {
			return domain.ErrConcurrentUpdate
		}
		o.Status = t.To
		if t.Reason != "" {
			o.Reason = t.Reason
		}
		if t.PaymentID != "" {
			o.PaymentID = t.PaymentID
		}
		if t.Raw != nil {
			o.Raw = t.Raw
		}
		o.UpdatedAt = t.At
		s.orders[t.OrderID] = o
		return nil
	})
}

func (s *memStore) AttachPreference(ctx context.Context, id, preferenceID, initPoint string, at time.Time) error {
	return s.do(ctx, func() error {
		o, ok := s.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		o.PreferenceID = preferenceID
		o.InitPoint = initPoint
		o.UpdatedAt = at
		s.orders[id] = o
		return nil
	})
}

func (s *memStore) ListOrdersByStatus(ctx context.Context, statuses []domain.OrderStatus, updatedBefore time.Time, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := s.do(ctx, func() error {
		for _, o := range s.orders {
			if o.UpdatedAt.After(updatedBefore) {
				continue
			}
			for _, st := range statuses {
				if o.Status == st {
					out = append(out, o)
					break
				}
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *memStore) GetAssignment(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	var out *domain.Assignment
	err := s.do(ctx, func() error {
		if a, ok := s.assignments[domain.AssignmentKey(resourceID, claimantID)]; ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (s *memStore) GetAssignmentForUpdate(ctx context.Context, resourceID, claimantID string) (*domain.Assignment, error) {
	return s.GetAssignment(ctx, resourceID, claimantID)
}

func (s *memStore) CreateAssignment(ctx context.Context, assignment domain.Assignment) error {
	return s.do(ctx, func() error {
		key := assignment.Key()
		if _, ok := s.assignments[key]; ok {
			return domain.ErrAlreadyExists
		}
		s.assignments[key] = assignment
		return nil
	})
}

func (s *memStore) UpdateAssignment(ctx context.Context, assignment domain.Assignment) error {
	return s.do(ctx, func() error {
		s.trace = append(s.trace, "write_assignment")
		key := assignment.Key()
		if _, ok := s.assignments[key]; !ok {
			return domain.ErrAssignmentNotFound
		}
		s.assignments[key] = assignment
		return nil
	})
}

func (s *memStore) CreateRefund(ctx context.Context, refund domain.RefundRequest) error {
	return s.do(ctx, func() error {
		if _, ok := s.refunds[refund.OrderID]; ok {
			return nil
		}
		s.refunds[refund.OrderID] = refund
		return nil
	})
}

func (s *memStore) ListPendingRefunds(ctx context.Context, limit int) ([]domain.RefundRequest, error) {
	var out []domain.RefundRequest
	err := s.do(ctx, func() error {
		for _, r := range s.refunds {
			if r.Status == domain.RefundStatusPending {
				out = append(out, r)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *memStore) UpdateRefund(ctx context.Context, refund domain.RefundRequest) error {
	return s.do(ctx, func() error {
		if s.updateRefundErr != nil {
			return s.updateRefundErr
		}
		s.refunds[refund.OrderID] = refund
		return nil
	})
}

func (s *memStore) RecordDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	return s.do(ctx, func() error {
		s.deliveries = append(s.deliveries, delivery)
		return nil
	})
}

func (s *memStore) ListDeliveries(ctx context.Context, outcome domain.DeliveryOutcome, limit int) ([]domain.WebhookDelivery, error) {
	var out []domain.WebhookDelivery
	err := s.do(ctx, func() error {
		for _, d := range s.deliveries {
			if outcome == "" || d.Outcome == outcome {
				out = append(out, d)
			}
		}
		return nil
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *memStore) resource(id string) domain.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[id]
}

func (s *memStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) assignment(resourceID, claimantID string) (domain.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[domain.AssignmentKey(resourceID, claimantID)]
	return a, ok
}

func (s *memStore) refundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunds)
}

func (s *memStore) deliveryOutcomes() []domain.DeliveryOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeliveryOutcome, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, d.Outcome)
	}
	return out
}

type fakeGateway struct {
	mu sync.Mutex

	prefErr   error
	lookupErr error
	refundErr error

	preferences []domain.PreferenceRequest
	payments    map[string]domain.PaymentReport
	refunded    []domain.RefundRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]domain.PaymentReport{}}
}

func (g *fakeGateway) CreatePreference(ctx context.Context, req domain.PreferenceRequest) (domain.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prefErr != nil {
		return domain.Preference{}, g.prefErr
	}
	g.preferences = append(g.preferences, req)
	id := fmt.Sprintf("pref-%d", len(g.preferences))
	return domain.Preference{ID: id, InitPoint: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) LookupPayment(ctx context.Context, externalReference string) (domain.PaymentReport, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return domain.PaymentReport{}, false, g.lookupErr
	}
	p, ok := g.payments[externalReference]
	return p, ok, nil
}

func (g *fakeGateway) Refund(ctx context.Context, refund domain.RefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunded = append(g.refunded, refund)
	return nil
}

type testEnv struct {
	store      *memStore
	gateway    *fakeGateway
	clock      *clock.Manual
	ledger     *OrderLedger
	registry   *AssignmentRegistry
	checkout   *CheckoutService
	reconciler *Reconciler
	resources  *ResourceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	gw := newFakeGateway()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewOrderLedger(store, store, clk, nil)
	registry := NewAssignmentRegistry(store, store, clk, nil)
	return &testEnv{
		store:      store,
		gateway:    gw,
		clock:      clk,
		ledger:     ledger,
		registry:   registry,
		checkout:   NewCheckoutService(store, store, ledger, registry, gw, clk, nil),
		reconciler: NewReconciler(store, store, ledger, registry, store, store, clk, nil),
		resources:  NewResourceService(store, registry, clk),
	}
}

func (e *testEnv) addResource(t *testing.T, exclusive bool, capacity int) domain.Resource {
	t.Helper()
	res, err := e.resources.CreateResource(context.Background(), CreateResourceInput{
		OwnerID:        "buyer-1",
		Title:          "Need 200 bags of cement",
		Exclusive:      exclusive,
		Cap:            capacity,
		UnitPriceCents: 1500,
		Currency:       "BRL",
	})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	return res
}

func (e *testEnv) startCheckout(t *testing.T, resourceID, claimantID string) domain.Order {
	t.Helper()
	res, err := e.checkout.Checkout(context.Background(), CheckoutInput{
		ClaimantID: claimantID,
		ResourceID: resourceID,
	})
	if err != nil {
		t.Fatalf("checkout for %s: %v", claimantID, err)
	}
	if res.AlreadyUnlocked {
		t.Fatalf("checkout for %s: unexpected already unlocked", claimantID)
	}
	return res.Order
}

func (e *testEnv) report(order domain.Order, status string) ReconcileInput {
	return ReconcileInput{
		ExternalReference: order.ExternalReference,
		Status:            status,
		PaymentID:         "pay-" + order.ID[:8],
		Payload:           []byte(`{"status":"` + status + `"}`),
	}
}
