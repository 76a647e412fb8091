/*
errors.go - Error types for the distribution calculator

ERROR CATEGORIES:
  1. Configuration errors - bad deduction policy or split ratio
  2. Rule errors - succession cases without a supplied rule
  3. Funding errors - tier 1 cannot be covered
  4. Fatal errors - the whole-plan invariant failed (calculator bug)

Calculator errors abort plan creation entirely; no partial plan is returned.
ErrInternalInconsistency must surface as a hard failure, never as a
validation message.
*/
package distribution

import (
	"errors"
	"fmt"

	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPolicy is returned when deduction percentages are negative,
	// sum above 100, or rules are malformed.
	ErrInvalidPolicy = errors.New("invalid deduction policy")

	// ErrInvalidAmount is returned for negative revenue or malformed inputs.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnsupportedSuccession is returned for heir compositions with no
	// configured share rule (e.g. spouse without children).
	ErrUnsupportedSuccession = errors.New("unsupported succession case")

	// ErrInsufficientFunds is returned when the tier 1 requirement exceeds the pool.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInternalInconsistency means a computed plan broke its own invariants.
	ErrInternalInconsistency = errors.New("internal inconsistency")

	// ErrInvalidRoster is returned for beneficiaries the calculator cannot
	// classify, and for an active ID listed more than once.
	ErrInvalidRoster = errors.New("invalid roster")

	// ErrEmptyRoster is returned when no active beneficiary exists.
	ErrEmptyRoster = errors.New("no active beneficiaries")

	// ErrUnbalancedJournal is returned when a plan's journal entry does not balance.
	ErrUnbalancedJournal = errors.New("journal entry does not balance")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// PolicyError describes why a deduction policy was rejected.
type PolicyError struct {
	PolicyID string
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid deduction policy %q: %s", e.PolicyID, e.Reason)
}

func (e *PolicyError) Unwrap() error { return ErrInvalidPolicy }

// SuccessionError reports the heir composition that has no rule.
type SuccessionError struct {
	Reason    string
	Spouses   int
	Sons      int
	Daughters int
	Others    int
}

func (e *SuccessionError) Error() string {
	return fmt.Sprintf("unsupported succession case: %s (spouses=%d sons=%d daughters=%d other=%d)",
		e.Reason, e.Spouses, e.Sons, e.Daughters, e.Others)
}

func (e *SuccessionError) Unwrap() error { return ErrUnsupportedSuccession }

// TierShortfallError reports an uncovered tier 1 requirement.
type TierShortfallError struct {
	Level     int
	Required  money.Money
	Available money.Money
}

func (e *TierShortfallError) Error() string {
	return fmt.Sprintf("insufficient funds for priority tier %d: required %s, available %s",
		e.Level, e.Required, e.Available)
}

func (e *TierShortfallError) Unwrap() error { return ErrInsufficientFunds }

// InconsistencyError names the invariant a plan broke.
type InconsistencyError struct {
	PlanID   string
	Check    string
	Expected money.Money
	Actual   money.Money
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("internal inconsistency in plan %s: %s (expected %s, got %s)",
		e.PlanID, e.Check, e.Expected, e.Actual)
}

func (e *InconsistencyError) Unwrap() error { return ErrInternalInconsistency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFatal reports errors that indicate a calculator bug.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInternalInconsistency) || errors.Is(err, ErrUnbalancedJournal)
}

// IsClientError reports errors caused by caller input or configuration.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnsupportedSuccession) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrEmptyRoster) ||
		errors.Is(err, ErrInvalidRoster) ||
		errors.Is(err, money.ErrInvalidAmount) ||
		errors.Is(err, money.ErrTooPrecise)
}
