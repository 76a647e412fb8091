/*
Package distribution turns gross period revenue into exact beneficiary payouts.

PURPOSE:
  A waqf distributes its rental and investment income each period. This
  package computes the full allocation plan for one distribution run:

    gross revenue
      └─ deductions (nazer, reserve, corpus, ...)      policy.go
           └─ distributable amount
                ├─ heir pool      (fixed shares)        heirs.go
                └─ ordinary pool  (priority waterfall)  priority.go
                     └─ loan installments / arrears     priority.go

KEY INVARIANTS:
  - Σ deductions + distributable == gross, to the minor unit
  - Σ allocations == distributable, to the minor unit
  - No allocation is negative; loan repayments never exceed a share

  The calculator re-checks both sums before returning. A failure is
  ErrInternalInconsistency and the plan is discarded.

SEE ALSO:
  - calculator.go: composition and invariant check
  - journal.go: balanced journal entry for a plan
  - approval/: workflow a plan goes through before payout
*/
package distribution

import (
	"context"
	"time"

	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// BENEFICIARIES
// =============================================================================

type BeneficiaryID string

type Category string

const (
	CategoryHeir     Category = "heir"
	CategoryOrdinary Category = "ordinary"
)

type HeirType string

const (
	HeirSpouse   HeirType = "spouse"
	HeirSon      HeirType = "son"
	HeirDaughter HeirType = "daughter"
	HeirOther    HeirType = "other"
)

// Beneficiary is a roster member. Plans reference beneficiaries by ID only.
type Beneficiary struct {
	ID            BeneficiaryID `json:"id"`
	Name          string        `json:"name"`
	Category      Category      `json:"category"`
	HeirType      HeirType      `json:"heir_type,omitempty"`
	PriorityLevel int           `json:"priority_level,omitempty"` // 1 = highest
	IsActive      bool          `json:"is_active"`
}

// Installment is a loan installment due from a beneficiary's share.
type Installment struct {
	LoanID        string        `json:"loan_id"`
	BeneficiaryID BeneficiaryID `json:"beneficiary_id"`
	Amount        money.Money   `json:"amount"`
	DueDate       time.Time     `json:"due_date"`
}

// Roster is the persistence collaborator the calculator reads from.
type Roster interface {
	// LoadRoster returns every beneficiary known as of the given date.
	LoadRoster(ctx context.Context, asOf time.Time) ([]Beneficiary, error)

	// LoadActiveLoanInstallments returns installments due, keyed by beneficiary.
	LoadActiveLoanInstallments(ctx context.Context, ids []BeneficiaryID) (map[BeneficiaryID][]Installment, error)
}

// =============================================================================
// ALLOCATION PLAN
// =============================================================================

type Pool string

const (
	PoolHeir     Pool = "heir"
	PoolOrdinary Pool = "ordinary"
)

// Allocation is one beneficiary's share. Amount is the gross share and is
// what sums to the distributable amount; NetPayout is what gets paid.
type Allocation struct {
	BeneficiaryID BeneficiaryID `json:"beneficiary_id"`
	Pool          Pool          `json:"pool"`
	Amount        money.Money   `json:"amount"`
	LoanRepayment money.Money   `json:"loan_repayment"`
	NetPayout     money.Money   `json:"net_payout"`
}

// Arrears records an installment the share could not fully cover.
type Arrears struct {
	BeneficiaryID BeneficiaryID `json:"beneficiary_id"`
	LoanID        string        `json:"loan_id"`
	Due           money.Money   `json:"due"`
	Collected     money.Money   `json:"collected"`
	Shortfall     money.Money   `json:"shortfall"`
}

type PlanStatus string

const (
	PlanDraft           PlanStatus = "draft"
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanApproved        PlanStatus = "approved"
	PlanRejected        PlanStatus = "rejected"
	PlanCancelled       PlanStatus = "cancelled"
)

// IsTerminal reports whether the plan can no longer change.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanApproved || s == PlanRejected || s == PlanCancelled
}

// AllocationPlan is the immutable output of one distribution run. Only
// Status changes after creation, and only from approval transitions.
type AllocationPlan struct {
	ID                  string       `json:"id"`
	PolicyID            string       `json:"policy_id"`
	AsOf                time.Time    `json:"as_of"`
	GrossRevenue        money.Money  `json:"gross_revenue"`
	Deductions          []Deduction  `json:"deductions"`
	DistributableAmount money.Money  `json:"distributable_amount"`
	HeirPool            money.Money  `json:"heir_pool"`
	OrdinaryPool        money.Money  `json:"ordinary_pool"`
	Allocations         []Allocation `json:"allocations"`
	Arrears             []Arrears    `json:"arrears,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	Status              PlanStatus   `json:"status"`
}

// TotalDeductions sums the deduction amounts.
func (p *AllocationPlan) TotalDeductions() money.Money {
	total := money.Zero
	for _, d := range p.Deductions {
		total = total.Add(d.Amount)
	}
	return total
}

// TotalAllocated sums gross allocation amounts.
func (p *AllocationPlan) TotalAllocated() money.Money {
	total := money.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// AllocationFor returns the allocation of a beneficiary, if any.
func (p *AllocationPlan) AllocationFor(id BeneficiaryID) (Allocation, bool) {
	for _, a := range p.Allocations {
		if a.BeneficiaryID == id {
			return a, true
		}
	}
	return Allocation{}, false
}
