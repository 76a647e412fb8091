/*
store.go - Persistence contracts of the orchestration layer

PURPOSE:
  The distribution calculator and approval engine perform no I/O. This
  file names what the service needs from storage: the roster, computed
  plans, approval instances and posted journal entries.

CONTRACTS:
  PlanStore:     plans are written once; only Status changes afterwards,
                 and never away from approved, rejected or cancelled
  InstanceStore: version-guarded upsert; an older version never replaces
                 a newer one (observers may run out of order)
  PayoutSink:    one journal entry per plan; posting twice is a no-op

IMPLEMENTATIONS:
  - store/sqlite: production
  - store/memory: tests and the simulator

SEE ALSO:
  - distribution/types.go: Roster
  - service.go: the only caller
*/
package waqf

import (
	"context"
	"time"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
)

// RosterStore is the roster plus its write side.
type RosterStore interface {
	distribution.Roster

	// SaveBeneficiary inserts or replaces a beneficiary. It is part of the
	// roster from registeredAt on.
	SaveBeneficiary(ctx context.Context, b distribution.Beneficiary, registeredAt time.Time) error

	// GetBeneficiary returns ErrBeneficiaryNotFound when unknown.
	GetBeneficiary(ctx context.Context, id distribution.BeneficiaryID) (distribution.Beneficiary, error)

	// AddInstallment records a loan installment due from a share.
	AddInstallment(ctx context.Context, inst distribution.Installment) error
}

// PlanStore persists allocation plans.
type PlanStore interface {
	// SavePlan fails with ErrDuplicatePlan when the ID exists.
	SavePlan(ctx context.Context, plan *distribution.AllocationPlan) error
	GetPlan(ctx context.Context, id string) (*distribution.AllocationPlan, error)
	// UpdatePlanStatus fails with ErrPlanFinalized when the plan already
	// holds a different terminal status. Repeating the same status is fine.
	UpdatePlanStatus(ctx context.Context, id string, status distribution.PlanStatus) error
	// DiscardDraft deletes a plan that never reached approval. Plans in any
	// other status are left alone and reported with ErrPlanFinalized.
	DiscardDraft(ctx context.Context, id string) error
	// ListPlans returns plans ordered by creation time. An empty status
	// matches every plan.
	ListPlans(ctx context.Context, status distribution.PlanStatus) ([]*distribution.AllocationPlan, error)
}

// InstanceRecord is a persisted approval instance with its definition.
type InstanceRecord struct {
	Instance   *approval.Instance
	Definition approval.Definition
}

// InstanceStore persists approval instances for restart.
type InstanceStore interface {
	SaveInstance(ctx context.Context, inst *approval.Instance, def approval.Definition) error
	LoadInstances(ctx context.Context) ([]InstanceRecord, error)
}

// PayoutSink is the journal collaborator.
type PayoutSink interface {
	// PostJournal records the entry. Reports false when the plan already
	// had one.
	PostJournal(ctx context.Context, entry distribution.JournalEntry) (bool, error)
	// GetJournal returns ErrJournalNotFound when the plan has none.
	GetJournal(ctx context.Context, planID string) (distribution.JournalEntry, error)
}

// Store is everything a single backend provides.
type Store interface {
	RosterStore
	PlanStore
	InstanceStore
	PayoutSink
}
