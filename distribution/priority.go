package distribution

import (
	"fmt"
	"sort"

	"github.com/warp/waqf-engine/money"
)

// PriorityRules configures the ordinary-beneficiary waterfall.
type PriorityRules struct {
	// TierCaps caps the total a priority level may receive. Excess flows to
	// the next level. The lowest populated level is never capped so the
	// pool is always exhausted. A cap on level 1 is also its requirement:
	// a pool below it fails with ErrInsufficientFunds.
	TierCaps map[int]money.Money `json:"tier_caps,omitempty"`
}

// Validate rejects negative caps.
func (r PriorityRules) Validate() error {
	for level, c := range r.TierCaps {
		if c.IsNegative() {
			return fmt.Errorf("%w: tier %d cap %s is negative", ErrInvalidAmount, level, c)
		}
	}
	return nil
}

// AllocateByPriority runs a strict priority waterfall over the pool.
//
// Members are grouped by PriorityLevel ascending (1 = highest). Each tier
// takes everything that is left, up to its cap, before the next tier gets
// anything. Within a tier the amount is split evenly with leftover minor
// units handed out by beneficiary ID ascending.
func AllocateByPriority(pool money.Money, members []Beneficiary, rules PriorityRules) ([]Allocation, error) {
	if pool.IsNegative() {
		return nil, fmt.Errorf("%w: negative ordinary pool %s", ErrInvalidAmount, pool)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		if pool.IsZero() {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: ordinary pool %s has no members", ErrEmptyRoster, pool)
	}

	tiers := make(map[int][]Beneficiary)
	for _, m := range members {
		tiers[m.PriorityLevel] = append(tiers[m.PriorityLevel], m)
	}
	levels := make([]int, 0, len(tiers))
	for level := range tiers {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	allocations := make([]Allocation, 0, len(members))
	remaining := pool
	for i, level := range levels {
		tier := tiers[level]
		sortByID(tier)

		tierAmount := remaining
		if limit, capped := rules.TierCaps[level]; capped {
			if i == 0 && remaining.LessThan(limit) {
				return nil, &TierShortfallError{Level: level, Required: limit, Available: remaining}
			}
			if i < len(levels)-1 {
				tierAmount = remaining.Min(limit)
			}
		}

		shares, err := money.Allocate(tierAmount, evenWeights(len(tier)))
		if err != nil {
			return nil, err
		}
		for j, m := range tier {
			allocations = append(allocations, Allocation{
				BeneficiaryID: m.ID,
				Pool:          PoolOrdinary,
				Amount:        shares[j],
				NetPayout:     shares[j],
			})
		}
		remaining = remaining.Sub(tierAmount)
	}
	return allocations, nil
}

// ApplyInstallments deducts due loan installments from each share.
//
// Installments are collected in due-date order (then loan ID). A share is
// never pushed below zero: whatever it cannot cover is returned as an
// Arrears entry rather than a negative payout. The gross Amount of every
// allocation is left untouched so plan totals still reconcile.
func ApplyInstallments(allocations []Allocation, installments map[BeneficiaryID][]Installment) ([]Allocation, []Arrears) {
	out := make([]Allocation, len(allocations))
	var arrears []Arrears

	for i, a := range allocations {
		dues := append([]Installment(nil), installments[a.BeneficiaryID]...)
		sort.Slice(dues, func(x, y int) bool {
			if !dues[x].DueDate.Equal(dues[y].DueDate) {
				return dues[x].DueDate.Before(dues[y].DueDate)
			}
			return dues[x].LoanID < dues[y].LoanID
		})

		available := a.Amount
		repaid := money.Zero
		for _, inst := range dues {
			if !inst.Amount.IsPositive() {
				continue
			}
			collected := available.Min(inst.Amount)
			available = available.Sub(collected)
			repaid = repaid.Add(collected)
			if collected.LessThan(inst.Amount) {
				arrears = append(arrears, Arrears{
					BeneficiaryID: a.BeneficiaryID,
					LoanID:        inst.LoanID,
					Due:           inst.Amount,
					Collected:     collected,
					Shortfall:     inst.Amount.Sub(collected),
				})
			}
		}

		a.LoanRepayment = repaid
		a.NetPayout = a.Amount.Sub(repaid)
		out[i] = a
	}
	return out, arrears
}
