package approval

import (
	"time"

	"github.com/warp/waqf-engine/money"
)

// Status is the instance-level state. Pending is parameterized by
// Instance.CurrentLevel; the other three are terminal.
type Status string

const (
	StatusNone      Status = ""
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports approved, rejected and cancelled.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// LevelStatus is the outcome of one level.
type LevelStatus string

const (
	LevelPending  LevelStatus = "pending"
	LevelApproved LevelStatus = "approved"
	LevelRejected LevelStatus = "rejected"
	LevelSkipped  LevelStatus = "skipped"
)

// Verdict is an approver's decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Assignment records who an escalated decision was moved to.
type Assignment struct {
	Role       Role      `json:"role"`
	ActorID    string    `json:"actor_id,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// LevelState is the recorded state of one applicable level.
type LevelState struct {
	Status     LevelStatus `json:"status"`
	ActorID    string      `json:"actor_id,omitempty"`
	ActorRole  Role        `json:"actor_role,omitempty"`
	DecidedAt  *time.Time  `json:"decided_at,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	Escalation *Assignment `json:"escalation,omitempty"`
}

// Instance tracks one subject (usually an allocation plan) through one
// definition. Only the engine's transition function changes it.
type Instance struct {
	ID           string      `json:"id"`
	SubjectID    string      `json:"subject_id"`
	DefinitionID string      `json:"definition_id"`
	EntityType   string      `json:"entity_type"`
	Amount       money.Money `json:"amount"`

	// Levels holds the applicable level orders, ascending.
	Levels       []int               `json:"levels"`
	CurrentLevel int                 `json:"current_level"`
	LevelStates  map[int]*LevelState `json:"level_states"`

	Status         Status    `json:"status"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LevelEnteredAt time.Time `json:"level_entered_at"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
}

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Levels = append([]int(nil), i.Levels...)
	c.LevelStates = make(map[int]*LevelState, len(i.LevelStates))
	for order, s := range i.LevelStates {
		cs := *s
		if s.DecidedAt != nil {
			t := *s.DecidedAt
			cs.DecidedAt = &t
		}
		if s.Escalation != nil {
			a := *s.Escalation
			cs.Escalation = &a
		}
		c.LevelStates[order] = &cs
	}
	return &c
}

// Current returns the state of the current level, nil when there is none.
func (i *Instance) Current() *LevelState {
	return i.LevelStates[i.CurrentLevel]
}

// NextLevel returns the applicable level after the current one, or 0.
func (i *Instance) NextLevel() int {
	for _, order := range i.Levels {
		if order > i.CurrentLevel {
			return order
		}
	}
	return 0
}

// Decided reports whether an applicable level already has a verdict or
// was skipped.
func (i *Instance) Decided(order int) bool {
	s := i.LevelStates[order]
	return s != nil && s.DecidedAt != nil
}

// IsEscalated reports whether the current level has been escalated.
func (i *Instance) IsEscalated() bool {
	s := i.Current()
	return s != nil && s.Escalation != nil
}

// Overdue reports whether the current level's escalation timeout passed.
func (i *Instance) Overdue(level Level, now time.Time) bool {
	if i.Status != StatusPending || level.AutoEscalateAfter <= 0 {
		return false
	}
	return now.Sub(i.LevelEnteredAt) > level.AutoEscalateAfter
}
