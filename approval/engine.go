/*
engine.go - Approval workflow engine

PURPOSE:
  Drives a subject (an allocation plan, or any approvable entity) through
  the applicable levels of a Definition to approved, rejected or cancelled.

TRANSITION FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  lock instance ──▶ check version ──▶ validate ──▶ build entry    │
  │                                                       │          │
  │                                                       ▼          │
  │  observers ◀── unlock ◀── commit ◀── append audit ◀── apply      │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

  The audit append and the state swap happen under the instance lock. If
  the append fails the instance is untouched. Observers (persistence,
  notifications, plan status sync) run after commit; their errors are
  logged and never undo the transition.

CONCURRENCY:
  Each instance has its own mutex. The engine-wide lock only guards the
  instance map, so commands on different instances never wait on each
  other. Commands may carry ExpectedVersion; a stale version fails with
  ErrConcurrentModification before anything else is checked. Without one,
  a decision on a level that is already decided fails the same way.

  Escalation asks its policy (and any approver directory) for the new
  assignee before taking the instance lock.

SEE ALSO:
  - machine.go: transition table and apply()
  - escalation.go: reassignment policies
  - scanner.go: periodic escalation
  - replay.go: rebuilding instances from the audit log
*/
package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/waqf-engine/audit"
	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// OBSERVERS
// =============================================================================

// Transition is handed to observers after a transition commits.
type Transition struct {
	Instance   *Instance
	Entry      audit.Entry
	Definition Definition
}

// Observer reacts to committed transitions.
type Observer interface {
	OnTransition(ctx context.Context, t Transition) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition) error

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) error { return f(ctx, t) }

// =============================================================================
// COMMANDS
// =============================================================================

// SubmitRequest starts an approval.
type SubmitRequest struct {
	SubjectID  string
	Amount     money.Money
	Definition Definition
	Actor      Actor
}

// Decision approves or rejects the current level.
type Decision struct {
	InstanceID      string
	Level           int
	Actor           Actor
	Verdict         Verdict
	Notes           string
	ExpectedVersion int64
}

// SkipRequest skips the current level.
type SkipRequest struct {
	InstanceID      string
	Level           int
	Actor           Actor
	Notes           string
	ExpectedVersion int64
}

// CancelRequest administratively cancels a pending instance.
type CancelRequest struct {
	InstanceID      string
	Actor           Actor
	Reason          string
	ExpectedVersion int64
}

// ListFilter selects instances. Zero fields match everything.
type ListFilter struct {
	Status    Status
	SubjectID string
}

// =============================================================================
// ENGINE
// =============================================================================

// Options configures an Engine.
type Options struct {
	Clock      Clock
	Escalation EscalationPolicy
	Logger     zerolog.Logger
	NewID      func() string
}

// Engine owns every loaded approval instance.
type Engine struct {
	audit      audit.Log
	clock      Clock
	escalation EscalationPolicy
	log        zerolog.Logger
	newID      func() string

	mu        sync.RWMutex
	slots     map[string]*slot
	observers []Observer
}

type slot struct {
	mu   sync.Mutex
	inst *Instance
	def  Definition
}

// NewEngine creates an engine recording to auditLog. Zero options default
// to the wall clock, fallback-to-admin escalation and random UUIDs.
func NewEngine(auditLog audit.Log, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Escalation == nil {
		opts.Escalation = FallbackRole{Default: RoleAdmin}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		audit:      auditLog,
		clock:      opts.Clock,
		escalation: opts.Escalation,
		log:        opts.Logger.With().Str("component", "approval").Logger(),
		newID:      opts.NewID,
		slots:      make(map[string]*slot),
	}
}

// Observe registers an observer for committed transitions.
func (e *Engine) Observe(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// Submit creates an instance at the lowest applicable level. When no level
// applies it is approved at once if the definition allows it, otherwise
// ErrNoApplicableLevel is returned and nothing is recorded.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Instance, error) {
	def := req.Definition
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidDefinition, req.Amount)
	}

	entry := audit.Entry{
		ID:           audit.NewID(),
		InstanceID:   e.newID(),
		Sequence:     1,
		FromStatus:   string(StatusNone),
		ActorID:      req.Actor.ID,
		ActorRole:    roleName(req.Actor.Role),
		Timestamp:    e.clock.Now().UTC(),
		SubjectID:    req.SubjectID,
		DefinitionID: def.ID,
		EntityType:   def.EntityType,
		Amount:       req.Amount,
	}

	orders := def.ApplicableLevels(req.Amount)
	if len(orders) == 0 {
		if !def.AutoApproveOutOfRange {
			return nil, fmt.Errorf("%w: %s for amount %s", ErrNoApplicableLevel, def.ID, req.Amount)
		}
		entry.Event = audit.EventAutoApproved
		entry.ToStatus = string(StatusApproved)
		entry.Reason = "no level covers amount"
	} else {
		entry.Event = audit.EventSubmitted
		entry.ToStatus = string(StatusPending)
		entry.ToLevel = orders[0]
	}

	inst, err := apply(nil, def, entry)
	if err != nil {
		return nil, err
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("record audit entry: %w", err)
	}

	e.mu.Lock()
	e.slots[inst.ID] = &slot{inst: inst, def: def}
	e.mu.Unlock()

	e.committed(ctx, inst, entry, def)
	return inst.Clone(), nil
}

// Decide records an approve or reject verdict on the current level.
// Rejection is final at any level. Approval advances to the next
// applicable level or, after the last one, approves the instance.
func (e *Engine) Decide(ctx context.Context, d Decision) (*Instance, error) {
	inst, _, err := e.transition(ctx, d.InstanceID, d.ExpectedVersion, d.Level, func(inst *Instance, def Definition, now time.Time) (*audit.Entry, error) {
		if d.Verdict != VerdictApprove && d.Verdict != VerdictReject {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVerdict, d.Verdict)
		}
		if err := authorize(inst, def, d.Level, d.Actor); err != nil {
			return nil, err
		}
		entry := &audit.Entry{
			LevelOrder: d.Level,
			ActorID:    d.Actor.ID,
			ActorRole:  roleName(d.Actor.Role),
			Reason:     d.Notes,
		}
		if d.Verdict == VerdictReject {
			entry.Event = audit.EventRejected
			entry.ToStatus = string(StatusRejected)
			return entry, nil
		}
		entry.Event = audit.EventLevelApproved
		advance(inst, entry)
		return entry, nil
	})
	return inst, err
}

// Skip passes over a level marked CanSkip. It advances like an approval
// but the level is recorded as skipped.
func (e *Engine) Skip(ctx context.Context, req SkipRequest) (*Instance, error) {
	inst, _, err := e.transition(ctx, req.InstanceID, req.ExpectedVersion, req.Level, func(inst *Instance, def Definition, now time.Time) (*audit.Entry, error) {
		if req.Level != inst.CurrentLevel {
			return nil, &LevelMismatchError{InstanceID: inst.ID, Requested: req.Level, Current: inst.CurrentLevel}
		}
		if lvl, _ := def.Level(req.Level); !lvl.CanSkip {
			return nil, fmt.Errorf("%w: %s level %d", ErrSkipNotAllowed, inst.ID, req.Level)
		}
		if err := authorize(inst, def, req.Level, req.Actor); err != nil {
			return nil, err
		}
		entry := &audit.Entry{
			Event:      audit.EventLevelSkipped,
			LevelOrder: req.Level,
			ActorID:    req.Actor.ID,
			ActorRole:  roleName(req.Actor.Role),
			Reason:     req.Notes,
		}
		advance(inst, entry)
		return entry, nil
	})
	return inst, err
}

// Escalate reassigns an overdue pending decision through the escalation
// policy. It does not change the current level. Calling it when the level
// is not overdue, or was already escalated, is a no-op and reports false.
//
// The policy is consulted outside the instance lock. If the instance moved
// on meanwhile the assignment is dropped and nothing is recorded.
func (e *Engine) Escalate(ctx context.Context, instanceID string) (*Instance, bool, error) {
	s, err := e.slot(instanceID)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	seen := s.inst.Clone()
	def := s.def
	s.mu.Unlock()

	if seen.Status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, seen.ID, seen.Status)
	}
	lvl, ok := def.Level(seen.CurrentLevel)
	if !ok || seen.IsEscalated() || !seen.Overdue(lvl, e.clock.Now().UTC()) {
		return seen, false, nil
	}
	assignment, err := e.escalation.Reassign(ctx, seen, lvl)
	if err != nil {
		return nil, false, fmt.Errorf("escalate %s level %d: %w", seen.ID, lvl.Order, err)
	}

	return e.transition(ctx, instanceID, 0, 0, func(inst *Instance, def Definition, now time.Time) (*audit.Entry, error) {
		if inst.Version != seen.Version {
			return nil, nil
		}
		return &audit.Entry{
			Event:         audit.EventEscalated,
			LevelOrder:    inst.CurrentLevel,
			ToLevel:       inst.CurrentLevel,
			ToStatus:      string(StatusPending),
			ActorID:       System.ID,
			Reason:        fmt.Sprintf("pending longer than %s", lvl.AutoEscalateAfter),
			AssignedRole:  assignment.Role.String(),
			AssignedActor: assignment.ActorID,
		}, nil
	})
}

// Cancel moves a pending instance to cancelled. A reason is mandatory and
// only administrators and the nazer may cancel.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (*Instance, error) {
	inst, _, err := e.transition(ctx, req.InstanceID, req.ExpectedVersion, 0, func(inst *Instance, def Definition, now time.Time) (*audit.Entry, error) {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return nil, fmt.Errorf("%w: cancelling %s", ErrReasonRequired, inst.ID)
		}
		if req.Actor.Role != RoleAdmin && req.Actor.Role != RoleNazer {
			return nil, &RoleMismatchError{InstanceID: inst.ID, Level: inst.CurrentLevel, Required: RoleAdmin, Actual: req.Actor.Role}
		}
		return &audit.Entry{
			Event:      audit.EventCancelled,
			LevelOrder: inst.CurrentLevel,
			ToStatus:   string(StatusCancelled),
			ActorID:    req.Actor.ID,
			ActorRole:  roleName(req.Actor.Role),
			Reason:     reason,
		}, nil
	})
	return inst, err
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a copy of an instance.
func (e *Engine) Get(id string) (*Instance, error) {
	s, err := e.slot(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.Clone(), nil
}

// Definition returns the definition an instance runs under.
func (e *Engine) Definition(id string) (Definition, error) {
	s, err := e.slot(id)
	if err != nil {
		return Definition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def, nil
}

// List returns copies of matching instances ordered by creation time.
func (e *Engine) List(f ListFilter) []*Instance {
	var out []*Instance
	for _, s := range e.snapshot() {
		s.mu.Lock()
		if (f.Status == StatusNone || s.inst.Status == f.Status) &&
			(f.SubjectID == "" || s.inst.SubjectID == f.SubjectID) {
			out = append(out, s.inst.Clone())
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Overdue returns the IDs of pending instances whose current level passed
// its escalation timeout and has not been escalated yet.
func (e *Engine) Overdue(now time.Time) []string {
	var ids []string
	for _, s := range e.snapshot() {
		s.mu.Lock()
		if lvl, ok := s.def.Level(s.inst.CurrentLevel); ok && !s.inst.IsEscalated() && s.inst.Overdue(lvl, now) {
			ids = append(ids, s.inst.ID)
		}
		s.mu.Unlock()
	}
	sort.Strings(ids)
	return ids
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// =============================================================================
// RESTORE
// =============================================================================

// Restore loads a persisted instance, e.g. on restart.
func (e *Engine) Restore(inst *Instance, def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if inst.DefinitionID != def.ID {
		return fmt.Errorf("%w: instance %s runs under %s, not %s", ErrInvalidDefinition, inst.ID, inst.DefinitionID, def.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.slots[inst.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInstance, inst.ID)
	}
	e.slots[inst.ID] = &slot{inst: inst.Clone(), def: def}
	return nil
}

// RestoreFromLog rebuilds an instance from its audit entries and loads it.
func (e *Engine) RestoreFromLog(ctx context.Context, instanceID string, def Definition) (*Instance, error) {
	entries, err := e.audit.ForInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load audit entries for %s: %w", instanceID, err)
	}
	inst, err := Replay(entries, def)
	if err != nil {
		return nil, err
	}
	if err := e.Restore(inst, def); err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// =============================================================================
// INTERNALS
// =============================================================================

type buildFunc func(inst *Instance, def Definition, now time.Time) (*audit.Entry, error)

// transition runs one command under the instance lock. build returns nil
// for a no-op. level is the level a decision targets, 0 for commands that
// act on the instance as a whole.
//
// Without an expected version, a decision on a level that was decided in
// the meantime lost a race and fails like a stale version would.
func (e *Engine) transition(ctx context.Context, id string, expected int64, level int, build buildFunc) (*Instance, bool, error) {
	s, err := e.slot(id)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	inst := s.inst
	if expected != 0 && expected != inst.Version {
		s.mu.Unlock()
		return nil, false, &VersionConflictError{InstanceID: id, Expected: expected, Actual: inst.Version}
	}
	if expected == 0 && level != 0 && inst.Decided(level) {
		s.mu.Unlock()
		return nil, false, &VersionConflictError{InstanceID: id, Level: level, Actual: inst.Version}
	}
	if inst.Status.IsTerminal() {
		s.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, id, inst.Status)
	}

	now := e.clock.Now().UTC()
	entry, err := build(inst, s.def, now)
	if err != nil || entry == nil {
		out := inst.Clone()
		s.mu.Unlock()
		if err != nil {
			return nil, false, err
		}
		return out, false, nil
	}

	entry.ID = audit.NewID()
	entry.InstanceID = id
	entry.Sequence = inst.Version + 1
	entry.FromStatus = string(inst.Status)
	entry.Timestamp = now

	next, err := apply(inst, s.def, *entry)
	if err != nil {
		s.mu.Unlock()
		return nil, false, err
	}
	if err := e.audit.Append(ctx, *entry); err != nil {
		s.mu.Unlock()
		return nil, false, fmt.Errorf("record audit entry: %w", err)
	}
	s.inst = next
	def := s.def
	s.mu.Unlock()

	e.committed(ctx, next, *entry, def)
	return next.Clone(), true, nil
}

func (e *Engine) committed(ctx context.Context, inst *Instance, entry audit.Entry, def Definition) {
	e.log.Info().
		Str("instance_id", inst.ID).
		Str("subject_id", inst.SubjectID).
		Str("event", string(entry.Event)).
		Int("level", entry.LevelOrder).
		Str("status", string(inst.Status)).
		Int64("version", inst.Version).
		Msg("approval transition")

	e.mu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()

	for _, o := range observers {
		t := Transition{Instance: inst.Clone(), Entry: entry, Definition: def}
		if err := o.OnTransition(ctx, t); err != nil {
			e.log.Error().Err(err).
				Str("instance_id", inst.ID).
				Str("event", string(entry.Event)).
				Msg("transition observer failed")
		}
	}
}

func (e *Engine) slot(id string) (*slot, error) {
	e.mu.RLock()
	s, ok := e.slots[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return s, nil
}

func (e *Engine) snapshot() []*slot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*slot, 0, len(e.slots))
	for _, s := range e.slots {
		out = append(out, s)
	}
	return out
}

// authorize checks the command targets the current level and the actor
// may act on it. After escalation the assignee replaces the level's role.
func authorize(inst *Instance, def Definition, level int, actor Actor) error {
	if level != inst.CurrentLevel {
		return &LevelMismatchError{InstanceID: inst.ID, Requested: level, Current: inst.CurrentLevel}
	}
	lvl, _ := def.Level(level)
	required := lvl.RequiredRole
	if esc := inst.Current().Escalation; esc != nil {
		required = esc.Role
		if actor.Role == required && esc.ActorID != "" && actor.ID != esc.ActorID {
			return fmt.Errorf("%w: %s level %d is assigned to %s", ErrNotAssignee, inst.ID, level, esc.ActorID)
		}
	}
	if actor.Role != required {
		return &RoleMismatchError{InstanceID: inst.ID, Level: level, Required: required, Actual: actor.Role}
	}
	return nil
}

// advance fills the target of an approve or skip.
func advance(inst *Instance, entry *audit.Entry) {
	if next := inst.NextLevel(); next != 0 {
		entry.ToLevel = next
		entry.ToStatus = string(StatusPending)
		return
	}
	entry.ToStatus = string(StatusApproved)
}

func roleName(r Role) string {
	if !r.Valid() {
		return ""
	}
	return r.String()
}
