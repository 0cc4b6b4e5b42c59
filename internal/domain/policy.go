package domain

// Decision is the outcome of a capacity check.
type Decision struct {
	Allowed bool
	Reason  string
}

func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrCapacityExceeded
}

const (
	denyExclusiveTaken = "exclusive resource already unlocked by another claimant"
	denyCapReached     = "shared resource reached its cap"
)

// CanClaim decides whether a new unlock may proceed. assignment is the
// requesting claimant's assignment and may be nil. The check is pure; callers
// own atomicity.
func CanClaim(resource Resource, assignment *Assignment) Decision {
	if resource.Exclusive {
		if resource.Consumed == 0 || assignment.IsUnlocked() {
			return Decision{Allowed: true}
		}
		return Decision{Reason: denyExclusiveTaken}
	}
	if resource.Consumed < resource.Cap {
		return Decision{Allowed: true}
	}
	return Decision{Reason: denyCapReached}
}
