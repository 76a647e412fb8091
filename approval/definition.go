package approval

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/waqf-engine/money"
)

// Level is one configured approval step.
type Level struct {
	Order        int  `json:"order"`
	RequiredRole Role `json:"required_role"`
	CanSkip      bool `json:"can_skip,omitempty"`

	// AutoEscalateAfter of zero disables escalation for the level.
	AutoEscalateAfter time.Duration `json:"auto_escalate_after,omitempty"`

	// Nil bounds are open.
	MinAmount *money.Money `json:"min_amount,omitempty"`
	MaxAmount *money.Money `json:"max_amount,omitempty"`
}

// Applies reports whether amount falls within [MinAmount, MaxAmount].
func (l Level) Applies(amount money.Money) bool {
	if l.MinAmount != nil && amount.LessThan(*l.MinAmount) {
		return false
	}
	if l.MaxAmount != nil && amount.GreaterThan(*l.MaxAmount) {
		return false
	}
	return true
}

// Definition configures the levels an entity type goes through.
type Definition struct {
	ID         string  `json:"id"`
	EntityType string  `json:"entity_type"`
	Levels     []Level `json:"levels"`

	// AutoApproveOutOfRange approves immediately when no level applies.
	// Without it such submissions fail with ErrNoApplicableLevel.
	AutoApproveOutOfRange bool `json:"auto_approve_out_of_range,omitempty"`
}

// Validate checks orders, roles and bounds.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDefinition)
	}
	if len(d.Levels) == 0 && !d.AutoApproveOutOfRange {
		return fmt.Errorf("%w: %s has no levels", ErrInvalidDefinition, d.ID)
	}
	seen := make(map[int]bool, len(d.Levels))
	for _, l := range d.Levels {
		if l.Order < 1 {
			return fmt.Errorf("%w: %s level order %d must be positive", ErrInvalidDefinition, d.ID, l.Order)
		}
		if seen[l.Order] {
			return fmt.Errorf("%w: %s has duplicate level order %d", ErrInvalidDefinition, d.ID, l.Order)
		}
		seen[l.Order] = true
		if !l.RequiredRole.Valid() {
			return fmt.Errorf("%w: %s level %d has no required role", ErrInvalidDefinition, d.ID, l.Order)
		}
		if l.AutoEscalateAfter < 0 {
			return fmt.Errorf("%w: %s level %d has negative escalation timeout", ErrInvalidDefinition, d.ID, l.Order)
		}
		if l.MinAmount != nil && l.MaxAmount != nil && l.MinAmount.GreaterThan(*l.MaxAmount) {
			return fmt.Errorf("%w: %s level %d min %s above max %s", ErrInvalidDefinition, d.ID, l.Order, l.MinAmount, l.MaxAmount)
		}
	}
	return nil
}

// Level returns the level with the given order.
func (d Definition) Level(order int) (Level, bool) {
	for _, l := range d.Levels {
		if l.Order == order {
			return l, true
		}
	}
	return Level{}, false
}

// ApplicableLevels returns the orders of the levels covering amount, ascending.
func (d Definition) ApplicableLevels(amount money.Money) []int {
	var orders []int
	for _, l := range d.Levels {
		if l.Applies(amount) {
			orders = append(orders, l.Order)
		}
	}
	sort.Ints(orders)
	return orders
}
