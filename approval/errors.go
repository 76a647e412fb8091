/*
errors.go - Error types for the approval workflow engine

ERROR CATEGORIES:
  1. Configuration errors - invalid definitions, no applicable level
  2. Command errors - wrong level, wrong role, skip not allowed
  3. State errors - terminal instance, unknown instance
  4. Concurrency errors - stale version (retryable)

No workflow error mutates instance state: the instance is exactly as it
was before the failed call. ErrConcurrentModification is the only error
callers should retry automatically.
*/
package approval

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDefinition is returned for malformed workflow definitions.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrNoApplicableLevel is returned when no level covers the amount and
	// auto-approval of out-of-range amounts is not configured.
	ErrNoApplicableLevel = errors.New("no applicable approval level")

	// ErrLevelMismatch is returned when a command targets a level other than
	// the instance's current level.
	ErrLevelMismatch = errors.New("level mismatch")

	// ErrRoleMismatch is returned when the actor's role may not act on the level.
	ErrRoleMismatch = errors.New("role mismatch")

	// ErrNotAssignee is returned when an escalated decision is assigned to a
	// specific actor and someone else tries to decide.
	ErrNotAssignee = errors.New("decision assigned to another actor")

	// ErrInstanceTerminal is returned for any command on an approved,
	// rejected or cancelled instance.
	ErrInstanceTerminal = errors.New("instance is terminal")

	// ErrConcurrentModification is returned when the caller's expected
	// version is stale. Safe to retry after re-reading the instance.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrSkipNotAllowed is returned when skipping a level without CanSkip.
	ErrSkipNotAllowed = errors.New("level cannot be skipped")

	// ErrReasonRequired is returned when cancelling without a reason.
	ErrReasonRequired = errors.New("reason required")

	// ErrInvalidVerdict is returned for verdicts other than approve/reject.
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrUnknownRole is returned when parsing an unknown role name.
	ErrUnknownRole = errors.New("unknown role")

	// ErrInstanceNotFound is returned for unknown instance IDs.
	ErrInstanceNotFound = errors.New("approval instance not found")

	// ErrDuplicateInstance is returned when restoring an already loaded instance.
	ErrDuplicateInstance = errors.New("approval instance already loaded")

	// ErrNoApprover is returned when an escalation policy finds nobody to assign.
	ErrNoApprover = errors.New("no approver available")

	// ErrInvalidAuditTrail is returned when replayed entries do not form a
	// valid transition sequence.
	ErrInvalidAuditTrail = errors.New("invalid audit trail")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// LevelMismatchError carries the level the caller targeted.
type LevelMismatchError struct {
	InstanceID string
	Requested  int
	Current    int
}

func (e *LevelMismatchError) Error() string {
	return fmt.Sprintf("level mismatch on %s: requested level %d, current level %d",
		e.InstanceID, e.Requested, e.Current)
}

func (e *LevelMismatchError) Unwrap() error { return ErrLevelMismatch }

// RoleMismatchError carries the role the level required.
type RoleMismatchError struct {
	InstanceID string
	Level      int
	Required   Role
	Actual     Role
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("role mismatch on %s level %d: requires %s, actor is %s",
		e.InstanceID, e.Level, e.Required, e.Actual)
}

func (e *RoleMismatchError) Unwrap() error { return ErrRoleMismatch }

// VersionConflictError reports a stale ExpectedVersion.
// With no expected version, Level names the level another caller decided
// first.
type VersionConflictError struct {
	InstanceID string
	Expected   int64
	Level      int
	Actual     int64
}

func (e *VersionConflictError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("concurrent modification of %s: level %d already decided, now version %d",
			e.InstanceID, e.Level, e.Actual)
	}
	return fmt.Sprintf("concurrent modification of %s: expected version %d, now %d",
		e.InstanceID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports errors a caller may retry after re-reading state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound reports unknown instances.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsConflict reports commands that do not fit the instance's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLevelMismatch) ||
		errors.Is(err, ErrInstanceTerminal) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateInstance)
}

// IsForbidden reports actors not allowed to perform the command.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrRoleMismatch) || errors.Is(err, ErrNotAssignee)
}

// IsClientError reports invalid commands or configuration.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrNoApplicableLevel) ||
		errors.Is(err, ErrSkipNotAllowed) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrInvalidVerdict) ||
		errors.Is(err, ErrUnknownRole)
}
