package approval

import (
	"context"
	"fmt"
	"sort"
)

// EscalationPolicy decides who an overdue decision moves to. Whether a
// waqf escalates to a fixed fallback role or to another approver of the
// same role is configuration, so both are provided.
type EscalationPolicy interface {
	Reassign(ctx context.Context, inst *Instance, level Level) (Assignment, error)
}

// FallbackRole moves the decision to a fixed role per required role.
type FallbackRole struct {
	// Fallbacks maps a level's required role to the role that takes over.
	Fallbacks map[Role]Role
	// Default is used for roles missing from Fallbacks.
	Default Role
}

func (p FallbackRole) Reassign(ctx context.Context, inst *Instance, level Level) (Assignment, error) {
	to, ok := p.Fallbacks[level.RequiredRole]
	if !ok {
		to = p.Default
	}
	if !to.Valid() {
		return Assignment{}, fmt.Errorf("%w: no fallback for %s", ErrNoApprover, level.RequiredRole)
	}
	return Assignment{Role: to}, nil
}

// ApproverDirectory lists the actors currently holding a role.
type ApproverDirectory interface {
	Approvers(ctx context.Context, role Role) ([]string, error)
}

// StaticDirectory is a fixed role → actor IDs map.
type StaticDirectory map[Role][]string

func (d StaticDirectory) Approvers(ctx context.Context, role Role) ([]string, error) {
	return append([]string(nil), d[role]...), nil
}

// SameRoleRotation keeps the required role but pins the decision to the
// first available approver (by ID) who has not acted on the instance yet.
type SameRoleRotation struct {
	Directory ApproverDirectory
}

func (p SameRoleRotation) Reassign(ctx context.Context, inst *Instance, level Level) (Assignment, error) {
	approvers, err := p.Directory.Approvers(ctx, level.RequiredRole)
	if err != nil {
		return Assignment{}, fmt.Errorf("list %s approvers: %w", level.RequiredRole, err)
	}
	sort.Strings(approvers)

	acted := make(map[string]bool)
	for _, s := range inst.LevelStates {
		if s.ActorID != "" {
			acted[s.ActorID] = true
		}
	}
	for _, id := range approvers {
		if !acted[id] {
			return Assignment{Role: level.RequiredRole, ActorID: id}, nil
		}
	}
	return Assignment{}, fmt.Errorf("%w: every %s already acted on %s", ErrNoApprover, level.RequiredRole, inst.ID)
}
