package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const referenceSeparator = "|"

// Reference is the parsed form of the external reference the gateway echoes back.
type Reference struct {
	Kind    OrderKind
	RefID   string
	OrderID string
}

func (r Reference) String() string {
	return string(r.Kind) + referenceSeparator + r.RefID + referenceSeparator + r.OrderID
}

// BuildExternalReference embeds kind, refID and the order UUID into one idempotency key.
func BuildExternalReference(kind OrderKind, refID, orderID string) (string, error) {
	ref := Reference{Kind: kind, RefID: refID, OrderID: orderID}
	if err := ref.validate(); err != nil {
		return "", err
	}
	return ref.String(), nil
}

// ParseExternalReference fails closed: anything that is not exactly
// kind|refID|uuid is rejected with ErrMalformedReference.
func ParseExternalReference(raw string) (Reference, error) {
	parts := strings.Split(strings.TrimSpace(raw), referenceSeparator)
	if len(parts) != 3 {
		return Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, raw)
	}
	ref := Reference{Kind: OrderKind(parts[0]), RefID: parts[1], OrderID: parts[2]}
	if err := ref.validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}

func (r Reference) validate() error {
	if r.Kind == "" || r.RefID == "" || r.OrderID == "" {
		return fmt.Errorf("%w: empty segment", ErrMalformedReference)
	}
	for _, part := range []string{string(r.Kind), r.RefID, r.OrderID} {
		if strings.Contains(part, referenceSeparator) || strings.TrimSpace(part) != part {
			return fmt.Errorf("%w: invalid segment %q", ErrMalformedReference, part)
		}
	}
	id, err := uuid.Parse(r.OrderID)
	if err != nil || id.String() != r.OrderID {
		return fmt.Errorf("%w: order id %q", ErrMalformedReference, r.OrderID)
	}
	return nil
}
