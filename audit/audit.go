/*
audit.go - Append-only audit trail of approval transitions

PURPOSE:
  Every approval transition (submit, level decision, skip, escalation,
  cancellation) is recorded as exactly one Entry. Entries are never updated
  or deleted. The log, not the mutable instance state, is the source of
  truth: an instance can be rebuilt from its entries alone.

ORDERING:
  Entries of one instance carry a gap-free Sequence starting at 1.
  Across instances the total order is (Timestamp, ID). IDs are UUIDv7, so
  they also sort by creation time when timestamps collide.

SEE ALSO:
  - approval/engine.go: appends one entry per transition
  - approval/replay.go: rebuilds an instance from ForInstance
  - store/sqlite/audit.go: durable implementation
*/
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event names the kind of transition an entry records.
type Event string

const (
	EventSubmitted     Event = "submitted"
	EventAutoApproved  Event = "auto_approved"
	EventLevelApproved Event = "level_approved"
	EventLevelSkipped  Event = "level_skipped"
	EventRejected      Event = "rejected"
	EventEscalated     Event = "escalated"
	EventCancelled     Event = "cancelled"
)

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventSubmitted, EventAutoApproved, EventLevelApproved, EventLevelSkipped,
		EventRejected, EventEscalated, EventCancelled:
		return true
	}
	return false
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry is one immutable audit record.
type Entry struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Sequence   int64     `json:"sequence"`
	Event      Event     `json:"event"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	LevelOrder int       `json:"level_order,omitempty"`
	ToLevel    int       `json:"to_level,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorRole  string    `json:"actor_role,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason,omitempty"`

	// Set on submission so the instance can be rebuilt from the log.
	SubjectID    string      `json:"subject_id,omitempty"`
	DefinitionID string      `json:"definition_id,omitempty"`
	EntityType   string      `json:"entity_type,omitempty"`
	Amount       money.Money `json:"amount"`

	// Set on escalation: who the pending decision moved to.
	AssignedRole  string `json:"assigned_role,omitempty"`
	AssignedActor string `json:"assigned_actor,omitempty"`
}

// NewID returns a time-ordered entry ID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Validate checks the fields every entry must carry.
func (e Entry) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	case e.InstanceID == "":
		return fmt.Errorf("%w: missing instance id", ErrInvalidEntry)
	case e.Sequence < 1:
		return fmt.Errorf("%w: sequence %d", ErrInvalidEntry, e.Sequence)
	case !e.Event.Valid():
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEntry, e.Event)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	return nil
}

// Less orders entries by (Timestamp, ID).
func Less(a, b Entry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// Sort orders entries in place by (Timestamp, ID).
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// =============================================================================
// LOG
// =============================================================================

var (
	// ErrInvalidEntry is returned for entries missing required fields.
	ErrInvalidEntry = errors.New("invalid audit entry")

	// ErrDuplicateEntry is returned when an entry ID was already appended.
	ErrDuplicateEntry = errors.New("duplicate audit entry")

	// ErrSequenceGap is returned when an entry does not directly follow the
	// last recorded sequence of its instance.
	ErrSequenceGap = errors.New("audit sequence gap")
)

// Filter selects entries for Query. Zero fields match everything.
type Filter struct {
	InstanceID string
	Event      Event
	ActorID    string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Matches reports whether e passes the filter (ignoring Limit).
func (f Filter) Matches(e Entry) bool {
	if f.InstanceID != "" && e.InstanceID != f.InstanceID {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Log is the append-only audit store.
type Log interface {
	// Append records one entry. It must reject duplicates and sequence gaps.
	Append(ctx context.Context, e Entry) error

	// ForInstance returns every entry of an instance in Sequence order.
	ForInstance(ctx context.Context, instanceID string) ([]Entry, error)

	// Query returns matching entries ordered by (Timestamp, ID).
	Query(ctx context.Context, f Filter) ([]Entry, error)
}
