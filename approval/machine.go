/*
machine.go - Approval state machine

STATES:
  pending(level)  one per applicable level, Instance.CurrentLevel names it
  approved        terminal
  rejected        terminal
  cancelled       terminal

TRANSITIONS:
  (none,    submitted)       -> pending
  (none,    auto_approved)   -> approved
  (pending, level_approved)  -> pending(next) | approved
  (pending, level_skipped)   -> pending(next) | approved
  (pending, rejected)        -> rejected
  (pending, escalated)       -> pending(same level)
  (pending, cancelled)       -> cancelled

Terminal states have no outgoing transitions.

Live commands and Replay share apply(): the engine builds the audit entry
first, then applies it. Replaying the log therefore runs exactly the code
that produced the live state.
*/
package approval

import (
	"fmt"
	"time"

	"github.com/warp/waqf-engine/audit"
)

type transitionKey struct {
	from  Status
	event audit.Event
}

var transitions = map[transitionKey][]Status{
	{StatusNone, audit.EventSubmitted}:        {StatusPending},
	{StatusNone, audit.EventAutoApproved}:     {StatusApproved},
	{StatusPending, audit.EventLevelApproved}: {StatusPending, StatusApproved},
	{StatusPending, audit.EventLevelSkipped}:  {StatusPending, StatusApproved},
	{StatusPending, audit.EventRejected}:      {StatusRejected},
	{StatusPending, audit.EventEscalated}:     {StatusPending},
	{StatusPending, audit.EventCancelled}:     {StatusCancelled},
}

// CanTransition reports whether event may move an instance from one status to another.
func CanTransition(from Status, event audit.Event, to Status) bool {
	for _, s := range transitions[transitionKey{from, event}] {
		if s == to {
			return true
		}
	}
	return false
}

// apply returns the state after entry. It never modifies inst.
func apply(inst *Instance, def Definition, e audit.Entry) (*Instance, error) {
	from := StatusNone
	if inst != nil {
		from = inst.Status
	}
	to := Status(e.ToStatus)
	if Status(e.FromStatus) != from || !CanTransition(from, e.Event, to) {
		return nil, fmt.Errorf("%w: %s cannot go %s -(%s)-> %s",
			ErrInvalidAuditTrail, e.InstanceID, from, e.Event, to)
	}

	var next *Instance
	if inst == nil {
		if e.Sequence != 1 {
			return nil, fmt.Errorf("%w: %s starts at sequence %d", ErrInvalidAuditTrail, e.InstanceID, e.Sequence)
		}
		next = &Instance{
			ID:           e.InstanceID,
			SubjectID:    e.SubjectID,
			DefinitionID: e.DefinitionID,
			EntityType:   e.EntityType,
			Amount:       e.Amount,
			LevelStates:  map[int]*LevelState{},
			CreatedAt:    e.Timestamp,
		}
	} else {
		if e.Sequence != inst.Version+1 {
			return nil, fmt.Errorf("%w: %s expected sequence %d, got %d",
				ErrInvalidAuditTrail, inst.ID, inst.Version+1, e.Sequence)
		}
		if e.Event != audit.EventEscalated && e.Event != audit.EventCancelled && e.LevelOrder != inst.CurrentLevel {
			return nil, fmt.Errorf("%w: %s entry for level %d, current level %d",
				ErrInvalidAuditTrail, inst.ID, e.LevelOrder, inst.CurrentLevel)
		}
		next = inst.Clone()
	}

	actorRole, _ := ParseRole(e.ActorRole)
	at := e.Timestamp

	switch e.Event {
	case audit.EventLevelApproved, audit.EventLevelSkipped, audit.EventRejected:
		if next.Current() == nil {
			return nil, fmt.Errorf("%w: %s has no state for level %d", ErrInvalidAuditTrail, e.InstanceID, next.CurrentLevel)
		}
	}

	switch e.Event {
	case audit.EventSubmitted:
		next.Levels = def.ApplicableLevels(e.Amount)
		if len(next.Levels) == 0 || e.ToLevel != next.Levels[0] {
			return nil, fmt.Errorf("%w: %s submitted at level %d, applicable %v",
				ErrInvalidAuditTrail, e.InstanceID, e.ToLevel, next.Levels)
		}
		for _, order := range next.Levels {
			next.LevelStates[order] = &LevelState{Status: LevelPending}
		}
		next.CurrentLevel = e.ToLevel
		next.LevelEnteredAt = at

	case audit.EventAutoApproved:
		next.Levels = []int{}

	case audit.EventLevelApproved, audit.EventLevelSkipped:
		status := LevelApproved
		if e.Event == audit.EventLevelSkipped {
			status = LevelSkipped
		}
		decide(next, status, e.ActorID, actorRole, at, e.Reason)
		if want := next.NextLevel(); e.ToLevel != want || (want == 0) != (to == StatusApproved) {
			return nil, fmt.Errorf("%w: %s advanced to level %d, next applicable is %d",
				ErrInvalidAuditTrail, e.InstanceID, e.ToLevel, want)
		}
		if e.ToLevel != 0 {
			next.CurrentLevel = e.ToLevel
			next.LevelEnteredAt = at
		}

	case audit.EventRejected:
		decide(next, LevelRejected, e.ActorID, actorRole, at, e.Reason)

	case audit.EventEscalated:
		state := next.Current()
		if state == nil {
			return nil, fmt.Errorf("%w: %s escalated without a current level", ErrInvalidAuditTrail, e.InstanceID)
		}
		role, err := ParseRole(e.AssignedRole)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuditTrail, err)
		}
		state.Escalation = &Assignment{Role: role, ActorID: e.AssignedActor, AssignedAt: at}

	case audit.EventCancelled:
		next.CancelReason = e.Reason
	}

	next.Status = to
	next.Version = e.Sequence
	next.UpdatedAt = at
	return next, nil
}

func decide(inst *Instance, status LevelStatus, actorID string, role Role, at time.Time, notes string) {
	state := inst.Current()
	state.Status = status
	state.ActorID = actorID
	state.ActorRole = role
	t := at
	state.DecidedAt = &t
	state.Notes = notes
}
