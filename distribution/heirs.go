package distribution

import (
	"fmt"
	"sort"

	"github.com/warp/waqf-engine/money"
)

// Share weights of the children remainder (son : daughter = 2 : 1).
const (
	sonUnits      int64 = 2
	daughterUnits int64 = 1

	// spouseDenominator gives the spouse pool: 1/8 when children exist.
	spouseDenominator int64 = 8
)

// AllocateHeirShares splits the heir pool by fixed succession shares.
//
// With at least one child, all spouses together get distributable/8
// (integer division; the residue stays with the children), split evenly.
// The rest goes to children at 2 units per son and 1 per daughter.
// Leftover minor units are handed out one at a time: sons before
// daughters, each group by beneficiary ID ascending.
//
// Compositions without a supplied rule fail with ErrUnsupportedSuccession:
// spouse-only estates, "other" heirs, or no heirs at all.
func AllocateHeirShares(distributable money.Money, heirs []Beneficiary) ([]Allocation, error) {
	if distributable.IsNegative() {
		return nil, fmt.Errorf("%w: negative heir pool %s", ErrInvalidAmount, distributable)
	}

	var spouses, sons, daughters, others []Beneficiary
	for _, h := range heirs {
		switch h.HeirType {
		case HeirSpouse:
			spouses = append(spouses, h)
		case HeirSon:
			sons = append(sons, h)
		case HeirDaughter:
			daughters = append(daughters, h)
		default:
			others = append(others, h)
		}
	}

	composition := func(reason string) error {
		return &SuccessionError{
			Reason:    reason,
			Spouses:   len(spouses),
			Sons:      len(sons),
			Daughters: len(daughters),
			Others:    len(others),
		}
	}
	switch {
	case len(others) > 0:
		return nil, composition("no share rule for heir type other")
	case len(heirs) == 0:
		return nil, composition("no heirs")
	case len(sons)+len(daughters) == 0:
		// The deed states no spouse-only fraction.
		return nil, composition("spouse without children")
	}

	sortByID(spouses)
	sortByID(sons)
	sortByID(daughters)

	allocations := make([]Allocation, 0, len(heirs))
	remainder := distributable

	if len(spouses) > 0 {
		spousePool, _ := distributable.DivMod(spouseDenominator)
		shares, err := money.Allocate(spousePool, evenWeights(len(spouses)))
		if err != nil {
			return nil, err
		}
		for i, s := range spouses {
			allocations = append(allocations, heirAllocation(s.ID, shares[i]))
		}
		remainder = remainder.Sub(spousePool)
	}

	children := make([]Beneficiary, 0, len(sons)+len(daughters))
	children = append(children, sons...)
	children = append(children, daughters...)

	weights := make([]int64, len(children))
	for i, c := range children {
		if c.HeirType == HeirSon {
			weights[i] = sonUnits
		} else {
			weights[i] = daughterUnits
		}
	}

	shares, err := money.Allocate(remainder, weights)
	if err != nil {
		return nil, err
	}
	for i, c := range children {
		allocations = append(allocations, heirAllocation(c.ID, shares[i]))
	}
	return allocations, nil
}

func heirAllocation(id BeneficiaryID, amount money.Money) Allocation {
	return Allocation{BeneficiaryID: id, Pool: PoolHeir, Amount: amount, NetPayout: amount}
}

func sortByID(bs []Beneficiary) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
}

func evenWeights(n int) []int64 {
	w := make([]int64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
