// Package memory provides an in-memory waqf.Store for tests and the
// simulator.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	beneficiaries map[distribution.BeneficiaryID]beneficiary
	installments  []distribution.Installment
	plans         map[string]*distribution.AllocationPlan
	planOrder     []string
	instances     map[string]waqf.InstanceRecord
	journals      map[string]distribution.JournalEntry
}

type beneficiary struct {
	distribution.Beneficiary
	registeredAt time.Time
}

var _ waqf.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		beneficiaries: make(map[distribution.BeneficiaryID]beneficiary),
		plans:         make(map[string]*distribution.AllocationPlan),
		instances:     make(map[string]waqf.InstanceRecord),
		journals:      make(map[string]distribution.JournalEntry),
	}
}

// =============================================================================
// ROSTER
// =============================================================================

func (m *Memory) SaveBeneficiary(_ context.Context, b distribution.Beneficiary, registeredAt time.Time) error {
	if b.ID == "" {
		return fmt.Errorf("%w: beneficiary without id", distribution.ErrInvalidRoster)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beneficiaries[b.ID] = beneficiary{Beneficiary: b, registeredAt: registeredAt.UTC()}
	return nil
}

func (m *Memory) GetBeneficiary(_ context.Context, id distribution.BeneficiaryID) (distribution.Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.beneficiaries[id]
	if !ok {
		return distribution.Beneficiary{}, fmt.Errorf("%w: %s", waqf.ErrBeneficiaryNotFound, id)
	}
	return b.Beneficiary, nil
}

// LoadRoster returns beneficiaries registered on or before asOf, by ID.
func (m *Memory) LoadRoster(_ context.Context, asOf time.Time) ([]distribution.Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []distribution.Beneficiary
	for _, b := range m.beneficiaries {
		if !b.registeredAt.After(asOf) {
			out = append(out, b.Beneficiary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddInstallment(_ context.Context, inst distribution.Installment) error {
	if inst.Amount.IsNegative() {
		return fmt.Errorf("%w: installment %s is negative", distribution.ErrInvalidAmount, inst.LoanID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.beneficiaries[inst.BeneficiaryID]; !ok {
		return fmt.Errorf("%w: %s", waqf.ErrBeneficiaryNotFound, inst.BeneficiaryID)
	}
	m.installments = append(m.installments, inst)
	return nil
}

func (m *Memory) LoadActiveLoanInstallments(_ context.Context, ids []distribution.BeneficiaryID) (map[distribution.BeneficiaryID][]distribution.Installment, error) {
	want := make(map[distribution.BeneficiaryID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[distribution.BeneficiaryID][]distribution.Installment)
	for _, inst := range m.installments {
		if want[inst.BeneficiaryID] {
			out[inst.BeneficiaryID] = append(out[inst.BeneficiaryID], inst)
		}
	}
	return out, nil
}

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) SavePlan(_ context.Context, plan *distribution.AllocationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plans[plan.ID]; exists {
		return fmt.Errorf("%w: %s", waqf.ErrDuplicatePlan, plan.ID)
	}
	m.plans[plan.ID] = clonePlan(plan)
	m.planOrder = append(m.planOrder, plan.ID)
	return nil
}

func (m *Memory) GetPlan(_ context.Context, id string) (*distribution.AllocationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", waqf.ErrPlanNotFound, id)
	}
	return clonePlan(p), nil
}

func (m *Memory) UpdatePlanStatus(_ context.Context, id string, status distribution.PlanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return fmt.Errorf("%w: %s", waqf.ErrPlanNotFound, id)
	}
	if p.Status.IsTerminal() && p.Status != status {
		return fmt.Errorf("%w: %s is %s", waqf.ErrPlanFinalized, id, p.Status)
	}
	p.Status = status
	return nil
}

func (m *Memory) DiscardDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return fmt.Errorf("%w: %s", waqf.ErrPlanNotFound, id)
	}
	if p.Status != distribution.PlanDraft {
		return fmt.Errorf("%w: %s is %s", waqf.ErrPlanFinalized, id, p.Status)
	}
	delete(m.plans, id)
	for i, pid := range m.planOrder {
		if pid == id {
			m.planOrder = append(m.planOrder[:i], m.planOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) ListPlans(_ context.Context, status distribution.PlanStatus) ([]*distribution.AllocationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*distribution.AllocationPlan
	for _, id := range m.planOrder {
		p := m.plans[id]
		if status == "" || p.Status == status {
			out = append(out, clonePlan(p))
		}
	}
	return out, nil
}

func clonePlan(p *distribution.AllocationPlan) *distribution.AllocationPlan {
	c := *p
	c.Deductions = append([]distribution.Deduction(nil), p.Deductions...)
	c.Allocations = append([]distribution.Allocation(nil), p.Allocations...)
	c.Arrears = append([]distribution.Arrears(nil), p.Arrears...)
	return &c
}

// =============================================================================
// APPROVAL INSTANCES
// =============================================================================

// SaveInstance keeps the highest version seen.
func (m *Memory) SaveInstance(_ context.Context, inst *approval.Instance, def approval.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.instances[inst.ID]; ok && cur.Instance.Version >= inst.Version {
		return nil
	}
	m.instances[inst.ID] = waqf.InstanceRecord{Instance: inst.Clone(), Definition: def}
	return nil
}

func (m *Memory) LoadInstances(_ context.Context) ([]waqf.InstanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]waqf.InstanceRecord, 0, len(m.instances))
	for _, rec := range m.instances {
		out = append(out, waqf.InstanceRecord{Instance: rec.Instance.Clone(), Definition: rec.Definition})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance.ID < out[j].Instance.ID })
	return out, nil
}

// =============================================================================
// JOURNAL
// =============================================================================

func (m *Memory) PostJournal(_ context.Context, entry distribution.JournalEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.journals[entry.PlanID]; exists {
		return false, nil
	}
	entry.Lines = append([]distribution.JournalLine(nil), entry.Lines...)
	m.journals[entry.PlanID] = entry
	return true, nil
}

func (m *Memory) GetJournal(_ context.Context, planID string) (distribution.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.journals[planID]
	if !ok {
		return distribution.JournalEntry{}, fmt.Errorf("%w: %s", waqf.ErrJournalNotFound, planID)
	}
	e.Lines = append([]distribution.JournalLine(nil), e.Lines...)
	return e, nil
}

// JournalCount reports how many plans were paid out.
func (m *Memory) JournalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.journals)
}
