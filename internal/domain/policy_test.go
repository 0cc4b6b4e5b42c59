package domain

import "testing"

func TestCanClaim(t *testing.T) {
	t.Parallel()

	unlocked := &Assignment{ResourceID: "res-1", ClaimantID: "sup-1", Status: AssignmentStatusUnlocked}
	viewed := &Assignment{ResourceID: "res-1", ClaimantID: "sup-2", Status: AssignmentStatusViewed}

	tests := []struct {
		name       string
		resource   Resource
		assignment *Assignment
		allowed    bool
	}{
		{
			name:     "exclusive untouched",
			resource: Resource{Exclusive: true, Consumed: 0},
			allowed:  true,
		},
		{
			name:       "exclusive taken by someone else",
			resource:   Resource{Exclusive: true, Consumed: 1},
			assignment: viewed,
			allowed:    false,
		},
		{
			name:     "exclusive taken no assignment",
			resource: Resource{Exclusive: true, Consumed: 1},
			allowed:  false,
		},
		{
			name:       "exclusive re-entrant for owner",
			resource:   Resource{Exclusive: true, Consumed: 1},
			assignment: unlocked,
			allowed:    true,
		},
		{
			name:     "exclusive ignores cap",
			resource: Resource{Exclusive: true, Cap: 0, Consumed: 0},
			allowed:  true,
		},
		{
			name:     "shared below cap",
			resource: Resource{Cap: 3, Consumed: 2},
			allowed:  true,
		},
		{
			name:       "shared at cap",
			resource:   Resource{Cap: 3, Consumed: 3},
			assignment: unlocked,
			allowed:    false,
		},
		{
			name:     "shared zero cap",
			resource: Resource{Cap: 0, Consumed: 0},
			allowed:  false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CanClaim(tt.resource, tt.assignment)
			if got.Allowed != tt.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tt.allowed, got)
			}
			if tt.allowed && got.Err() != nil {
				t.Fatalf("expected nil error, got %v", got.Err())
			}
			if !tt.allowed {
				if got.Err() != ErrCapacityExceeded {
					t.Fatalf("expected ErrCapacityExceeded, got %v", got.Err())
				}
				if got.Reason == "" {
					t.Fatalf("expected deny reason")
				}
			}
		})
	}
}

func TestResourceLimit(t *testing.T) {
	t.Parallel()

	if got := (Resource{Exclusive: true, Cap: 10}).Limit(); got != 1 {
		t.Fatalf("expected exclusive limit 1, got %d", got)
	}
	if got := (Resource{Cap: 4}).Limit(); got != 4 {
		t.Fatalf("expected shared limit 4, got %d", got)
	}
	if got := (Resource{Cap: 2, Consumed: 2}).Remaining(); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
}

func TestResourcePolicyValidate(t *testing.T) {
	t.Parallel()

	ok := ResourcePolicy{Cap: 3, UnitPriceCents: 1500, Currency: "BRL"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}

	cases := map[string]struct {
		policy ResourcePolicy
		want   error
	}{
		"shared without cap": {ResourcePolicy{UnitPriceCents: 1, Currency: "BRL"}, ErrInvalidCapacity},
		"zero price":         {ResourcePolicy{Exclusive: true, Currency: "BRL"}, ErrInvalidPrice},
		"lower currency":     {ResourcePolicy{Exclusive: true, UnitPriceCents: 1, Currency: "brl"}, ErrInvalidCurrency},
		"long currency":      {ResourcePolicy{Exclusive: true, UnitPriceCents: 1, Currency: "REAL"}, ErrInvalidCurrency},
	}
	for name, tc := range cases {
		if err := tc.policy.Validate(); err != tc.want {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}
