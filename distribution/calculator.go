package distribution

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// CALCULATOR - composes deductions, heir shares and the priority waterfall
// =============================================================================

// SplitRatio divides the distributable amount between the heir pool and
// the ordinary pool. HeirPercent of the distributable goes to heirs.
type SplitRatio struct {
	HeirPercent money.Percent `json:"heir_percent"`
}

// Validate checks the ratio is within [0, 100].
func (s SplitRatio) Validate() error {
	if s.HeirPercent.IsNegative() || s.HeirPercent.GreaterThan(money.Hundred) {
		return fmt.Errorf("%w: heir split %s%% outside [0, 100]", ErrInvalidPolicy, s.HeirPercent)
	}
	return nil
}

// PlanInput is everything one distribution run depends on.
type PlanInput struct {
	AsOf         time.Time
	GrossRevenue money.Money
	Policy       DeductionPolicy
	Split        SplitRatio
	Priority     PriorityRules
	Roster       []Beneficiary
	Installments map[BeneficiaryID][]Installment
}

// Calculator computes allocation plans. It performs no I/O.
type Calculator struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to a random UUID.
	NewID func() string
}

// NewCalculator returns a calculator with real clock and UUID plan IDs.
func NewCalculator() *Calculator {
	return &Calculator{Now: time.Now, NewID: uuid.NewString}
}

// ComputePlan runs deductions, splits the distributable amount between the
// heir and ordinary pools, allocates each pool, applies loan installments
// and finally re-verifies the whole plan. Any error discards the plan.
func (c *Calculator) ComputePlan(in PlanInput) (*AllocationPlan, error) {
	if err := in.Split.Validate(); err != nil {
		return nil, err
	}

	deductions, distributable, err := ApplyDeductions(in.GrossRevenue, in.Policy)
	if err != nil {
		return nil, err
	}

	var heirs, ordinary []Beneficiary
	seen := make(map[BeneficiaryID]bool, len(in.Roster))
	for _, b := range in.Roster {
		if !b.IsActive {
			continue
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("%w: beneficiary %s listed twice", ErrInvalidRoster, b.ID)
		}
		seen[b.ID] = true
		switch b.Category {
		case CategoryHeir:
			heirs = append(heirs, b)
		case CategoryOrdinary:
			ordinary = append(ordinary, b)
		default:
			return nil, fmt.Errorf("%w: beneficiary %s has unknown category %q", ErrInvalidRoster, b.ID, b.Category)
		}
	}
	if len(heirs) == 0 && len(ordinary) == 0 {
		return nil, ErrEmptyRoster
	}

	// A side with nobody on it cedes its pool to the other side.
	var heirPool money.Money
	switch {
	case len(heirs) == 0:
		heirPool = money.Zero
	case len(ordinary) == 0:
		heirPool = distributable
	default:
		heirPool = distributable.MulPercent(in.Split.HeirPercent)
	}
	ordinaryPool := distributable.Sub(heirPool)

	var allocations []Allocation
	if len(heirs) > 0 {
		heirAllocs, err := AllocateHeirShares(heirPool, heirs)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, heirAllocs...)
	}
	if len(ordinary) > 0 {
		ordAllocs, err := AllocateByPriority(ordinaryPool, ordinary, in.Priority)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, ordAllocs...)
	}

	allocations, arrears := ApplyInstallments(allocations, in.Installments)

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	newID := uuid.NewString
	if c.NewID != nil {
		newID = c.NewID
	}

	plan := &AllocationPlan{
		ID:                  newID(),
		PolicyID:            in.Policy.ID,
		AsOf:                in.AsOf,
		GrossRevenue:        in.GrossRevenue,
		Deductions:          deductions,
		DistributableAmount: distributable,
		HeirPool:            heirPool,
		OrdinaryPool:        ordinaryPool,
		Allocations:         allocations,
		Arrears:             arrears,
		CreatedAt:           now().UTC(),
		Status:              PlanDraft,
	}

	if err := VerifyPlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// VerifyPlan checks the whole-plan invariants. It is the calculator's
// regression canary and is also used when loading plans from storage.
func VerifyPlan(p *AllocationPlan) error {
	if got := p.TotalDeductions().Add(p.DistributableAmount); got != p.GrossRevenue {
		return &InconsistencyError{PlanID: p.ID, Check: "deductions + distributable != gross", Expected: p.GrossRevenue, Actual: got}
	}
	if got := p.HeirPool.Add(p.OrdinaryPool); got != p.DistributableAmount {
		return &InconsistencyError{PlanID: p.ID, Check: "heir pool + ordinary pool != distributable", Expected: p.DistributableAmount, Actual: got}
	}
	if got := p.TotalAllocated(); got != p.DistributableAmount {
		return &InconsistencyError{PlanID: p.ID, Check: "allocations != distributable", Expected: p.DistributableAmount, Actual: got}
	}

	seen := make(map[BeneficiaryID]bool, len(p.Allocations))
	for _, a := range p.Allocations {
		if seen[a.BeneficiaryID] {
			return &InconsistencyError{PlanID: p.ID, Check: "duplicate allocation for " + string(a.BeneficiaryID), Expected: money.Zero, Actual: a.Amount}
		}
		seen[a.BeneficiaryID] = true

		if a.Amount.IsNegative() || a.NetPayout.IsNegative() || a.LoanRepayment.IsNegative() {
			return &InconsistencyError{PlanID: p.ID, Check: "negative allocation for " + string(a.BeneficiaryID), Expected: money.Zero, Actual: a.NetPayout}
		}
		if got := a.NetPayout.Add(a.LoanRepayment); got != a.Amount {
			return &InconsistencyError{PlanID: p.ID, Check: "net + repayment != share for " + string(a.BeneficiaryID), Expected: a.Amount, Actual: got}
		}
	}
	return nil
}
