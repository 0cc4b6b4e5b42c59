package domain

import "time"

type AssignmentStatus string

const (
	AssignmentStatusUnseen   AssignmentStatus = "unseen"
	AssignmentStatusViewed   AssignmentStatus = "viewed"
	AssignmentStatusUnlocked AssignmentStatus = "unlocked"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentStatusUnseen, AssignmentStatusViewed, AssignmentStatusUnlocked:
		return true
	}
	return false
}

// PricingSnapshot freezes the terms a claimant saw when they first claimed.
type PricingSnapshot struct {
	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`
	Exclusive      bool   `json:"exclusive"`
	Cap            int    `json:"cap"`
}

// Assignment is the durable relationship between one resource and one claimant.
// There is at most one per pair and it is never deleted.
type Assignment struct {
	ResourceID string
	ClaimantID string
	Status     AssignmentStatus
	Pricing    PricingSnapshot
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UnlockedAt *time.Time
}

func (a Assignment) Key() string {
	return AssignmentKey(a.ResourceID, a.ClaimantID)
}

func (a *Assignment) IsUnlocked() bool {
	return a != nil && a.Status == AssignmentStatusUnlocked
}

func AssignmentKey(resourceID, claimantID string) string {
	return resourceID + ":" + claimantID
}
