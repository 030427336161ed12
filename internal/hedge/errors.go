package hedge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned when an allocation request is rejected
// before any read (missing reference, non-positive fixing price,
// direction or commodity mismatch).
var ErrInvalidInput = errors.New("hedge: invalid input")

// CapacityViolation describes one over-allocated resource: either a
// hedge execution ("hedge:<id>") or the physical reference itself.
type CapacityViolation struct {
	Resource  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (v CapacityViolation) String() string {
	return fmt.Sprintf("%s: requested %s, available %s", v.Resource, v.Requested, v.Available)
}

// CapacityError reports every allocation that exceeds a hedge's open
// quantity or the reference's available unfixed quantity. Nothing is
// persisted when it is returned.
type CapacityError struct {
	Violations []CapacityViolation
}

func (e *CapacityError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "hedge: allocation exceeds capacity: " + strings.Join(parts, "; ")
}
