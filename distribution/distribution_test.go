package distribution_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func standardPolicy() distribution.DeductionPolicy {
	return distribution.DeductionPolicy{
		ID: "standard",
		Rules: []distribution.DeductionRule{
			{Name: "nazer", Percent: money.MustPercent("5")},
			{Name: "reserve", Percent: money.MustPercent("10")},
			{Name: "corpus", Percent: money.MustPercent("5")},
			{Name: "maintenance", Percent: money.MustPercent("3")},
			{Name: "development", Percent: money.MustPercent("2")},
		},
	}
}

func heir(id string, t distribution.HeirType) distribution.Beneficiary {
	return distribution.Beneficiary{
		ID:       distribution.BeneficiaryID(id),
		Category: distribution.CategoryHeir,
		HeirType: t,
		IsActive: true,
	}
}

func ordinary(id string, level int) distribution.Beneficiary {
	return distribution.Beneficiary{
		ID:            distribution.BeneficiaryID(id),
		Category:      distribution.CategoryOrdinary,
		PriorityLevel: level,
		IsActive:      true,
	}
}

func amountsByID(allocs []distribution.Allocation) map[distribution.BeneficiaryID]money.Money {
	out := make(map[distribution.BeneficiaryID]money.Money, len(allocs))
	for _, a := range allocs {
		out[a.BeneficiaryID] = a.Amount
	}
	return out
}

func sumAllocations(allocs []distribution.Allocation) money.Money {
	total := money.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}

func fixedCalculator() *distribution.Calculator {
	return &distribution.Calculator{
		Now:   func() time.Time { return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string { return "plan-1" },
	}
}

// =============================================================================
// DEDUCTION POLICY
// =============================================================================

func TestApplyDeductions_StandardPolicy(t *testing.T) {
	// GIVEN: gross 1,000,000 and nazer 5%, reserve 10%, corpus 5%, maintenance 3%, development 2%
	// WHEN: applying the policy
	// THEN: deductions total 250,000 and 750,000 is distributable

	deductions, distributable, err := distribution.ApplyDeductions(money.FromMajor(1_000_000), standardPolicy())
	require.NoError(t, err)

	total := money.Zero
	for _, d := range deductions {
		total = total.Add(d.Amount)
	}
	assert.Equal(t, money.FromMajor(250_000), total)
	assert.Equal(t, money.FromMajor(750_000), distributable)
	assert.Equal(t, "nazer", deductions[0].Name)
	assert.Equal(t, money.FromMajor(50_000), deductions[0].Amount)
	assert.Equal(t, "deduction:nazer", deductions[0].Account)
}

func TestApplyDeductions_RemainderNotRecomputedFromPercentSum(t *testing.T) {
	// 0.03 at 50% + 50%: each half rounds 1.5 -> 2 (even), so a naive
	// gross*(1-100%) would say 0 while subtraction says -1 -> rejected.
	policy := distribution.DeductionPolicy{ID: "halves", Rules: []distribution.DeductionRule{
		{Name: "a", Percent: money.MustPercent("50")},
		{Name: "b", Percent: money.MustPercent("50")},
	}}
	_, _, err := distribution.ApplyDeductions(money.FromMinor(3), policy)
	assert.ErrorIs(t, err, distribution.ErrInvalidPolicy)

	// 0.05 at 50% + 50%: 2.5 -> 2 each, distributable keeps the odd unit.
	deductions, distributable, err := distribution.ApplyDeductions(money.FromMinor(5), policy)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deductions[0].Amount.Minor())
	assert.Equal(t, int64(2), deductions[1].Amount.Minor())
	assert.Equal(t, int64(1), distributable.Minor())
}

func TestApplyDeductions_InvalidPolicies(t *testing.T) {
	cases := map[string]distribution.DeductionPolicy{
		"over 100": {ID: "p", Rules: []distribution.DeductionRule{
			{Name: "a", Percent: money.MustPercent("60")},
			{Name: "b", Percent: money.MustPercent("40.01")},
		}},
		"negative": {ID: "p", Rules: []distribution.DeductionRule{
			{Name: "a", Percent: money.MustPercent("-1")},
		}},
		"duplicate": {ID: "p", Rules: []distribution.DeductionRule{
			{Name: "a", Percent: money.MustPercent("1")},
			{Name: "a", Percent: money.MustPercent("1")},
		}},
		"unnamed": {ID: "p", Rules: []distribution.DeductionRule{
			{Percent: money.MustPercent("1")},
		}},
	}
	for name, policy := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := distribution.ApplyDeductions(money.FromMajor(100), policy)
			assert.ErrorIs(t, err, distribution.ErrInvalidPolicy)
			var pe *distribution.PolicyError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestApplyDeductions_PropertyReconcilesToMinorUnit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		gross := money.FromMinor(rng.Int63n(10_000_000_000))
		var rules []distribution.DeductionRule
		remaining := 10000 // basis points
		n := rng.Intn(6)
		for j := 0; j < n; j++ {
			bp := rng.Intn(remaining + 1)
			remaining -= bp
			rules = append(rules, distribution.DeductionRule{
				Name:    fmt.Sprintf("r%d", j),
				Percent: money.MustPercent(fmt.Sprintf("%d.%02d", bp/100, bp%100)),
			})
		}
		policy := distribution.DeductionPolicy{ID: "random", Rules: rules}

		deductions, distributable, err := distribution.ApplyDeductions(gross, policy)
		if errors.Is(err, distribution.ErrInvalidPolicy) {
			continue // rounding overshoot at exactly 100%
		}
		require.NoError(t, err)

		total := distributable
		for _, d := range deductions {
			total = total.Add(d.Amount)
		}
		require.Equal(t, gross, total, "iteration %d", i)
	}
}

// =============================================================================
// HEIR SHARES
// =============================================================================

func TestAllocateHeirShares_TwoSonsOneDaughter(t *testing.T) {
	// GIVEN: 875,000 distributable, 2 sons and 1 daughter, no spouse
	// THEN: unit = 175,000; sons 350,000 each; daughter 175,000

	allocs, err := distribution.AllocateHeirShares(money.FromMajor(875_000), []distribution.Beneficiary{
		heir("d1", distribution.HeirDaughter),
		heir("s2", distribution.HeirSon),
		heir("s1", distribution.HeirSon),
	})
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, money.FromMajor(350_000), got["s1"])
	assert.Equal(t, money.FromMajor(350_000), got["s2"])
	assert.Equal(t, money.FromMajor(175_000), got["d1"])
	assert.Equal(t, money.FromMajor(875_000), sumAllocations(allocs))

	// sons come before daughters, each by ID
	assert.Equal(t, distribution.BeneficiaryID("s1"), allocs[0].BeneficiaryID)
	assert.Equal(t, distribution.BeneficiaryID("s2"), allocs[1].BeneficiaryID)
	assert.Equal(t, distribution.BeneficiaryID("d1"), allocs[2].BeneficiaryID)
}

func TestAllocateHeirShares_SpouseGetsOneEighth(t *testing.T) {
	allocs, err := distribution.AllocateHeirShares(money.FromMajor(1_000_000), []distribution.Beneficiary{
		heir("w1", distribution.HeirSpouse),
		heir("s1", distribution.HeirSon),
		heir("s2", distribution.HeirSon),
		heir("d1", distribution.HeirDaughter),
	})
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, money.FromMajor(125_000), got["w1"])
	assert.Equal(t, money.FromMajor(350_000), got["s1"])
	assert.Equal(t, money.FromMajor(350_000), got["s2"])
	assert.Equal(t, money.FromMajor(175_000), got["d1"])
}

func TestAllocateHeirShares_MultipleSpousesSplitEvenly(t *testing.T) {
	// 8.01 -> spouse pool 1.00 (801/8 = 100), split 0.50 / 0.50; children get 7.01
	allocs, err := distribution.AllocateHeirShares(money.FromMinor(801), []distribution.Beneficiary{
		heir("w2", distribution.HeirSpouse),
		heir("w1", distribution.HeirSpouse),
		heir("d1", distribution.HeirDaughter),
	})
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, int64(50), got["w1"].Minor())
	assert.Equal(t, int64(50), got["w2"].Minor())
	assert.Equal(t, int64(701), got["d1"].Minor())
}

func TestAllocateHeirShares_RemainderGoesToSonsFirst(t *testing.T) {
	// 10.04 over 2 sons + 1 daughter = 5 units -> unit 2.00, leftover 4 minor units.
	// Round-robin s1, s2, d1, s1.
	allocs, err := distribution.AllocateHeirShares(money.FromMinor(1004), []distribution.Beneficiary{
		heir("d1", distribution.HeirDaughter),
		heir("s1", distribution.HeirSon),
		heir("s2", distribution.HeirSon),
	})
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, int64(402), got["s1"].Minor())
	assert.Equal(t, int64(401), got["s2"].Minor())
	assert.Equal(t, int64(201), got["d1"].Minor())
	assert.Equal(t, int64(1004), sumAllocations(allocs).Minor())
}

func TestAllocateHeirShares_UnsupportedCases(t *testing.T) {
	cases := map[string][]distribution.Beneficiary{
		"spouse only": {heir("w1", distribution.HeirSpouse)},
		"other heir":  {heir("s1", distribution.HeirSon), heir("x1", distribution.HeirOther)},
		"no heirs":    nil,
	}
	for name, heirs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := distribution.AllocateHeirShares(money.FromMajor(1000), heirs)
			assert.ErrorIs(t, err, distribution.ErrUnsupportedSuccession)
			var se *distribution.SuccessionError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestAllocateHeirShares_PropertyExactAndTwoToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		var heirs []distribution.Beneficiary
		spouses, sons, daughters := rng.Intn(3), rng.Intn(4), rng.Intn(4)
		if sons+daughters == 0 {
			sons = 1
		}
		for j := 0; j < spouses; j++ {
			heirs = append(heirs, heir(fmt.Sprintf("w%d", j), distribution.HeirSpouse))
		}
		for j := 0; j < sons; j++ {
			heirs = append(heirs, heir(fmt.Sprintf("s%d", j), distribution.HeirSon))
		}
		for j := 0; j < daughters; j++ {
			heirs = append(heirs, heir(fmt.Sprintf("d%d", j), distribution.HeirDaughter))
		}

		// Multiples of 8*(2*sons+daughters) leave no remainder anywhere.
		units := int64(2*sons + daughters)
		base := money.FromMinor(rng.Int63n(1_000_000) * 8 * units * int64(max(spouses, 1)))

		allocs, err := distribution.AllocateHeirShares(base, heirs)
		require.NoError(t, err)
		require.Equal(t, base, sumAllocations(allocs))

		got := amountsByID(allocs)
		if sons > 0 && daughters > 0 {
			assert.Equal(t, got["d0"].Times(2), got["s0"], "son share must be twice a daughter share")
		}

		// Arbitrary amounts still reconcile exactly.
		odd := money.FromMinor(rng.Int63n(1_000_000_000))
		allocs, err = distribution.AllocateHeirShares(odd, heirs)
		require.NoError(t, err)
		require.Equal(t, odd, sumAllocations(allocs))
	}
}

// =============================================================================
// PRIORITY TIERS
// =============================================================================

func TestAllocateByPriority_StrictWaterfall(t *testing.T) {
	// Uncapped tier 1 takes everything.
	allocs, err := distribution.AllocateByPriority(money.FromMajor(900), []distribution.Beneficiary{
		ordinary("a", 1), ordinary("b", 1), ordinary("c", 2),
	}, distribution.PriorityRules{})
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, money.FromMajor(450), got["a"])
	assert.Equal(t, money.FromMajor(450), got["b"])
	assert.True(t, got["c"].IsZero())
}

func TestAllocateByPriority_CapFlowsExcessDown(t *testing.T) {
	rules := distribution.PriorityRules{TierCaps: map[int]money.Money{
		1: money.FromMajor(600),
		2: money.FromMajor(100), // lowest populated tier: cap ignored
	}}
	allocs, err := distribution.AllocateByPriority(money.FromMinor(80000), []distribution.Beneficiary{
		ordinary("a", 1), ordinary("b", 1), ordinary("e", 2), ordinary("c", 2), ordinary("d", 2),
	}, rules)
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, money.FromMajor(300), got["a"])
	assert.Equal(t, money.FromMajor(300), got["b"])
	// 200.00 over c, d, e: 66.67 / 66.67 / 66.66 by ID
	assert.Equal(t, int64(6667), got["c"].Minor())
	assert.Equal(t, int64(6667), got["d"].Minor())
	assert.Equal(t, int64(6666), got["e"].Minor())
	assert.Equal(t, money.FromMajor(800), sumAllocations(allocs))
}

func TestAllocateByPriority_TierOneShortfall(t *testing.T) {
	rules := distribution.PriorityRules{TierCaps: map[int]money.Money{1: money.FromMajor(1000)}}
	_, err := distribution.AllocateByPriority(money.FromMajor(999), []distribution.Beneficiary{
		ordinary("a", 1), ordinary("b", 2),
	}, rules)

	var shortfall *distribution.TierShortfallError
	require.ErrorAs(t, err, &shortfall)
	assert.ErrorIs(t, err, distribution.ErrInsufficientFunds)
	assert.Equal(t, 1, shortfall.Level)
}

func TestAllocateByPriority_LowerTiersNeverFail(t *testing.T) {
	rules := distribution.PriorityRules{TierCaps: map[int]money.Money{
		1: money.FromMajor(100),
		2: money.FromMajor(500),
	}}
	allocs, err := distribution.AllocateByPriority(money.FromMajor(100), []distribution.Beneficiary{
		ordinary("a", 1), ordinary("b", 2), ordinary("c", 3),
	}, rules)
	require.NoError(t, err)

	got := amountsByID(allocs)
	assert.Equal(t, money.FromMajor(100), got["a"])
	assert.True(t, got["b"].IsZero())
	assert.True(t, got["c"].IsZero())
}

func TestAllocateByPriority_PropertyMonotonicWhenConstrained(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 200; i++ {
		var members []distribution.Beneficiary
		caps := map[int]money.Money{}
		perMemberCap := money.FromMinor(rng.Int63n(10_000) + 1)
		var capacity money.Money
		for level := 1; level <= 3; level++ {
			n := rng.Intn(3) + 1
			for j := 0; j < n; j++ {
				members = append(members, ordinary(fmt.Sprintf("t%d-%d", level, j), level))
			}
			caps[level] = perMemberCap.Times(int64(n))
			capacity = capacity.Add(caps[level])
		}
		// constrained: strictly below total capacity, at least tier 1
		pool := caps[1].Add(money.FromMinor(rng.Int63n(capacity.Sub(caps[1]).Minor())))

		allocs, err := distribution.AllocateByPriority(pool, members, distribution.PriorityRules{TierCaps: caps})
		require.NoError(t, err)
		require.Equal(t, pool, sumAllocations(allocs))

		minPerTier := map[int]money.Money{}
		maxPerTier := map[int]money.Money{}
		for _, a := range allocs {
			var level int
			fmt.Sscanf(string(a.BeneficiaryID), "t%d-", &level)
			if cur, ok := minPerTier[level]; !ok || a.Amount.LessThan(cur) {
				minPerTier[level] = a.Amount
			}
			if cur, ok := maxPerTier[level]; !ok || a.Amount.GreaterThan(cur) {
				maxPerTier[level] = a.Amount
			}
		}
		assert.False(t, minPerTier[1].LessThan(maxPerTier[2]), "tier 1 member got less than tier 2 member")
		assert.False(t, minPerTier[2].LessThan(maxPerTier[3]), "tier 2 member got less than tier 3 member")
	}
}

// =============================================================================
// LOAN INSTALLMENTS
// =============================================================================

func TestApplyInstallments_NeverNegative(t *testing.T) {
	allocs := []distribution.Allocation{
		{BeneficiaryID: "a", Amount: money.FromMajor(100), NetPayout: money.FromMajor(100)},
		{BeneficiaryID: "b", Amount: money.FromMajor(30), NetPayout: money.FromMajor(30)},
	}
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	installments := map[distribution.BeneficiaryID][]distribution.Installment{
		"a": {{LoanID: "L1", BeneficiaryID: "a", Amount: money.FromMajor(40), DueDate: jan}},
		"b": {
			{LoanID: "L3", BeneficiaryID: "b", Amount: money.FromMajor(20), DueDate: jan.AddDate(0, 1, 0)},
			{LoanID: "L2", BeneficiaryID: "b", Amount: money.FromMajor(25), DueDate: jan},
		},
	}

	out, arrears := distribution.ApplyInstallments(allocs, installments)

	assert.Equal(t, money.FromMajor(60), out[0].NetPayout)
	assert.Equal(t, money.FromMajor(40), out[0].LoanRepayment)
	assert.Equal(t, money.FromMajor(100), out[0].Amount)

	// b: L2 (earlier) takes 25, L3 gets the remaining 5 and 15 goes to arrears
	assert.True(t, out[1].NetPayout.IsZero())
	assert.Equal(t, money.FromMajor(30), out[1].LoanRepayment)
	require.Len(t, arrears, 1)
	assert.Equal(t, "L3", arrears[0].LoanID)
	assert.Equal(t, money.FromMajor(5), arrears[0].Collected)
	assert.Equal(t, money.FromMajor(15), arrears[0].Shortfall)

	// input untouched
	assert.Equal(t, money.FromMajor(100), allocs[0].NetPayout)
}

// =============================================================================
// CALCULATOR
// =============================================================================

func TestComputePlan_FullRun(t *testing.T) {
	roster := []distribution.Beneficiary{
		heir("w1", distribution.HeirSpouse),
		heir("s1", distribution.HeirSon),
		heir("d1", distribution.HeirDaughter),
		ordinary("o1", 1),
		ordinary("o2", 2),
		{ID: "gone", Category: distribution.CategoryOrdinary, PriorityLevel: 1, IsActive: false},
	}
	plan, err := fixedCalculator().ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1_000_000),
		Policy:       standardPolicy(),
		Split:        distribution.SplitRatio{HeirPercent: money.MustPercent("80")},
		Priority:     distribution.PriorityRules{TierCaps: map[int]money.Money{1: money.FromMajor(100_000)}},
		Roster:       roster,
		Installments: map[distribution.BeneficiaryID][]distribution.Installment{
			"o1": {{LoanID: "L1", BeneficiaryID: "o1", Amount: money.FromMajor(10_000)}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "plan-1", plan.ID)
	assert.Equal(t, distribution.PlanDraft, plan.Status)
	assert.Equal(t, money.FromMajor(750_000), plan.DistributableAmount)
	assert.Equal(t, money.FromMajor(600_000), plan.HeirPool)
	assert.Equal(t, money.FromMajor(150_000), plan.OrdinaryPool)
	assert.Equal(t, plan.DistributableAmount, plan.TotalAllocated())

	got := amountsByID(plan.Allocations)
	assert.Equal(t, money.FromMajor(75_000), got["w1"])
	assert.Equal(t, money.FromMajor(350_000), got["s1"])
	assert.Equal(t, money.FromMajor(175_000), got["d1"])
	assert.Equal(t, money.FromMajor(100_000), got["o1"])
	assert.Equal(t, money.FromMajor(50_000), got["o2"])
	_, hasInactive := got["gone"]
	assert.False(t, hasInactive)

	o1, _ := plan.AllocationFor("o1")
	assert.Equal(t, money.FromMajor(90_000), o1.NetPayout)
	assert.Equal(t, money.FromMajor(10_000), o1.LoanRepayment)
}

func TestComputePlan_EmptySideCedesPool(t *testing.T) {
	plan, err := fixedCalculator().ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Policy:       distribution.DeductionPolicy{ID: "none"},
		Split:        distribution.SplitRatio{HeirPercent: money.MustPercent("50")},
		Roster:       []distribution.Beneficiary{ordinary("o1", 1)},
	})
	require.NoError(t, err)
	assert.True(t, plan.HeirPool.IsZero())
	assert.Equal(t, money.FromMajor(1000), plan.Allocations[0].Amount)
}

func TestComputePlan_ErrorsAbortPlan(t *testing.T) {
	calc := fixedCalculator()

	_, err := calc.ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Policy:       standardPolicy(),
		Roster:       []distribution.Beneficiary{{ID: "x", Category: distribution.CategoryOrdinary}},
	})
	assert.ErrorIs(t, err, distribution.ErrEmptyRoster)

	plan, err := calc.ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Policy:       standardPolicy(),
		Roster:       []distribution.Beneficiary{heir("w1", distribution.HeirSpouse)},
	})
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, distribution.ErrUnsupportedSuccession)

	_, err = calc.ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Split:        distribution.SplitRatio{HeirPercent: money.MustPercent("101")},
		Roster:       []distribution.Beneficiary{ordinary("o1", 1)},
	})
	assert.ErrorIs(t, err, distribution.ErrInvalidPolicy)
	assert.True(t, distribution.IsClientError(err))
}

func TestComputePlan_DuplicateActiveIDIsARosterError(t *testing.T) {
	calc := fixedCalculator()

	// GIVEN: the same member listed twice
	plan, err := calc.ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Policy:       distribution.DeductionPolicy{ID: "none"},
		Roster:       []distribution.Beneficiary{ordinary("a", 1), ordinary("a", 1)},
	})

	// THEN: rejected as bad input, never reported as a calculator fault
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, distribution.ErrInvalidRoster)
	assert.True(t, distribution.IsClientError(err))
	assert.False(t, distribution.IsFatal(err))

	// an inactive record under the same ID is ignored
	old := ordinary("a", 2)
	old.IsActive = false
	plan, err = calc.ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Policy:       distribution.DeductionPolicy{ID: "none"},
		Roster:       []distribution.Beneficiary{ordinary("a", 1), old},
	})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, money.FromMajor(1000), plan.Allocations[0].Amount)
}

func TestVerifyPlan_DetectsTampering(t *testing.T) {
	plan, err := fixedCalculator().ComputePlan(distribution.PlanInput{
		GrossRevenue: money.FromMajor(1000),
		Policy:       standardPolicy(),
		Roster:       []distribution.Beneficiary{ordinary("o1", 1), ordinary("o2", 1)},
	})
	require.NoError(t, err)
	require.NoError(t, distribution.VerifyPlan(plan))

	plan.Allocations[0].Amount = plan.Allocations[0].Amount.Add(money.FromMinor(1))
	err = distribution.VerifyPlan(plan)
	assert.ErrorIs(t, err, distribution.ErrInternalInconsistency)
	assert.True(t, distribution.IsFatal(err))
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestBuildJournalEntry_Balances(t *testing.T) {
	plan, err := fixedCalculator().ComputePlan(distribution.PlanInput{
		GrossRevenue: money.MustParse("123456.78"),
		Policy:       standardPolicy(),
		Split:        distribution.SplitRatio{HeirPercent: money.MustPercent("60")},
		Roster: []distribution.Beneficiary{
			heir("s1", distribution.HeirSon), heir("d1", distribution.HeirDaughter),
			ordinary("o1", 1), ordinary("o2", 1),
		},
		Installments: map[distribution.BeneficiaryID][]distribution.Installment{
			"s1": {{LoanID: "L9", BeneficiaryID: "s1", Amount: money.FromMajor(500)}},
		},
	})
	require.NoError(t, err)

	entry := distribution.BuildJournalEntry(plan)
	require.NoError(t, entry.Validate())

	debit, credit := entry.Totals()
	assert.Equal(t, plan.GrossRevenue, debit)
	assert.Equal(t, plan.GrossRevenue, credit)

	entry.Lines = append(entry.Lines, distribution.JournalLine{Account: "stray", Credit: money.FromMinor(1)})
	assert.ErrorIs(t, entry.Validate(), distribution.ErrUnbalancedJournal)
}
