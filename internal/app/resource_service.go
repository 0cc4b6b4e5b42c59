package app

import (
	"context"
	"strings"

	"github.com/saviocipriano12/pedraum-sub001/internal/clock"
	"github.com/saviocipriano12/pedraum-sub001/internal/domain"
)

// ResourceService holds the administrative operations around resources and
// the lazy creation of assignments.
type ResourceService struct {
	resources ResourceRepository
	registry  *AssignmentRegistry
	clock     clock.Clock
}

func NewResourceService(resources ResourceRepository, registry *AssignmentRegistry, clk clock.Clock) *ResourceService {
	return &ResourceService{
		resources: resources,
		registry:  registry,
		clock:     clk,
	}
}

type CreateResourceInput struct {
	OwnerID        string
	Title          string
	Exclusive      bool
	Cap            int
	UnitPriceCents int64
	Currency       string
}

func (s *ResourceService) CreateResource(ctx context.Context, in CreateResourceInput) (domain.Resource, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Resource{}, domain.ErrTitleRequired
	}
	policy := domain.ResourcePolicy{
		Exclusive:      in.Exclusive,
		Cap:            in.Cap,
		UnitPriceCents: in.UnitPriceCents,
		Currency:       in.Currency,
	}
	if in.Exclusive && in.Cap <= 0 {
		policy.Cap = 1
	}
	if err := policy.Validate(); err != nil {
		return domain.Resource{}, err
	}

	now := s.clock.Now()
	resource := domain.Resource{
		ID:             newUUID(),
		OwnerID:        in.OwnerID,
		Title:          strings.TrimSpace(in.Title),
		Exclusive:      policy.Exclusive,
		Cap:            policy.Cap,
		UnitPriceCents: policy.UnitPriceCents,
		Currency:       policy.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.resources.CreateResource(ctx, resource); err != nil {
		return domain.Resource{}, err
	}
	return resource, nil
}

func (s *ResourceService) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	if id == "" {
		return domain.Resource{}, domain.ErrInvalidID
	}
	return s.resources.GetResource(ctx, id)
}

// UpdatePolicy replaces exclusivity, cap and price. The store refuses a limit
// below what is already consumed. Existing assignments keep their snapshot.
func (s *ResourceService) UpdatePolicy(ctx context.Context, id string, policy domain.ResourcePolicy) (domain.Resource, error) {
	if id == "" {
		return domain.Resource{}, domain.ErrInvalidID
	}
	if policy.Exclusive && policy.Cap <= 0 {
		policy.Cap = 1
	}
	if err := policy.Validate(); err != nil {
		return domain.Resource{}, err
	}

	return s.resources.UpdateResourcePolicy(ctx, id, policy, s.clock.Now())
}

// AssignClaimant records that a claimant was matched to a resource without
// having opened it yet.
func (s *ResourceService) AssignClaimant(ctx context.Context, resourceID, claimantID string) (domain.Assignment, error) {
	resource, err := s.GetResource(ctx, resourceID)
	if err != nil {
		return domain.Assignment{}, err
	}
	return s.registry.Ensure(ctx, resource.ID, claimantID, resource.Snapshot())
}

// RecordView marks the resource as seen by the claimant and captures the
// pricing in force at that moment.
func (s *ResourceService) RecordView(ctx context.Context, resourceID, claimantID string) (domain.Assignment, error) {
	resource, err := s.GetResource(ctx, resourceID)
	if err != nil {
		return domain.Assignment{}, err
	}
	return s.registry.UpsertViewed(ctx, resource.ID, claimantID, resource.Snapshot())
}
