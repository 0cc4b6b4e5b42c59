package domain

import (
	"strings"
	"time"
)

// Resource is a buyer's posted opportunity that claimants pay to unlock.
type Resource struct {
	ID             string
	OwnerID        string
	Title          string
	Exclusive      bool
	Cap            int
	Consumed       int
	UnitPriceCents int64
	Currency       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Limit is the number of unlocks the policy admits: one when exclusive, Cap otherwise.
func (r Resource) Limit() int {
	if r.Exclusive {
		return 1
	}
	return r.Cap
}

func (r Resource) Remaining() int {
	if rem := r.Limit() - r.Consumed; rem > 0 {
		return rem
	}
	return 0
}

// Snapshot captures the pricing terms in force right now.
func (r Resource) Snapshot() PricingSnapshot {
	return PricingSnapshot{
		UnitPriceCents: r.UnitPriceCents,
		Currency:       r.Currency,
		Exclusive:      r.Exclusive,
		Cap:            r.Cap,
	}
}

// ResourcePolicy is the mutable part of a resource.
type ResourcePolicy struct {
	Exclusive      bool
	Cap            int
	UnitPriceCents int64
	Currency       string
}

// Validate checks the policy on its own; the consumption floor is checked by the caller.
func (p ResourcePolicy) Validate() error {
	if !p.Exclusive && p.Cap <= 0 {
		return ErrInvalidCapacity
	}
	if p.UnitPriceCents <= 0 {
		return ErrInvalidPrice
	}
	if !validCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

func (p ResourcePolicy) Limit() int {
	if p.Exclusive {
		return 1
	}
	return p.Cap
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	return strings.ToUpper(code) == code && strings.Trim(code, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") == ""
}
