/*
event.go - Notification events emitted by approval transitions

PURPOSE:
  Translates committed approval transitions into the events the
  notification collaborator consumes. Delivery and templating happen
  elsewhere; this package only guarantees at-least-once hand-off,
  idempotent on instance id + transition id.

EVENTS:
  level_pending  a level now waits for ActorRole (on submit and on advance)
  approved       the instance reached approved
  rejected       the instance was rejected
  escalated      the pending decision moved to ActorRole / Assignee
  cancelled      the instance was cancelled

SEE ALSO:
  - dispatcher.go: queue, retry and de-duplication
  - nats.go: NATS publisher
*/
package notify

import (
	"context"
	"time"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/audit"
)

// Kind of notification.
type Kind string

const (
	KindLevelPending Kind = "level_pending"
	KindApproved     Kind = "approved"
	KindRejected     Kind = "rejected"
	KindEscalated    Kind = "escalated"
	KindCancelled    Kind = "cancelled"
)

// Event is the payload handed to publishers.
type Event struct {
	Kind           Kind      `json:"event"`
	InstanceID     string    `json:"instance_id"`
	SubjectID      string    `json:"subject_id,omitempty"`
	EntityType     string    `json:"entity_type,omitempty"`
	TransitionID   string    `json:"transition_id"`
	Sequence       int64     `json:"sequence"`
	LevelOrder     int       `json:"level_order,omitempty"`
	ActorRole      string    `json:"actor_role,omitempty"`
	Assignee       string    `json:"assignee,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Publisher delivers one event. Implementations may be called again with
// the same IdempotencyKey and should tolerate it.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// IdempotencyKey is instance id + transition id.
func IdempotencyKey(instanceID, transitionID string) string {
	return instanceID + ":" + transitionID
}

// FromTransition maps a committed transition to its notification.
func FromTransition(t approval.Transition) (Event, bool) {
	e := t.Entry
	ev := Event{
		InstanceID:     e.InstanceID,
		SubjectID:      t.Instance.SubjectID,
		EntityType:     t.Instance.EntityType,
		TransitionID:   e.ID,
		Sequence:       e.Sequence,
		OccurredAt:     e.Timestamp,
		IdempotencyKey: IdempotencyKey(e.InstanceID, e.ID),
	}

	pending := func(order int) {
		ev.Kind = KindLevelPending
		ev.LevelOrder = order
		if lvl, ok := t.Definition.Level(order); ok {
			ev.ActorRole = lvl.RequiredRole.String()
		}
	}

	switch e.Event {
	case audit.EventSubmitted:
		pending(e.ToLevel)
	case audit.EventLevelApproved, audit.EventLevelSkipped:
		if approval.Status(e.ToStatus) == approval.StatusApproved {
			ev.Kind = KindApproved
			ev.LevelOrder = e.LevelOrder
		} else {
			pending(e.ToLevel)
		}
	case audit.EventAutoApproved:
		ev.Kind = KindApproved
	case audit.EventRejected:
		ev.Kind = KindRejected
		ev.LevelOrder = e.LevelOrder
		ev.ActorRole = e.ActorRole
	case audit.EventEscalated:
		ev.Kind = KindEscalated
		ev.LevelOrder = e.LevelOrder
		ev.ActorRole = e.AssignedRole
		ev.Assignee = e.AssignedActor
	case audit.EventCancelled:
		ev.Kind = KindCancelled
		ev.LevelOrder = e.LevelOrder
	default:
		return Event{}, false
	}
	return ev, true
}
