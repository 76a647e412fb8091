package distribution

import (
	"fmt"

	"github.com/warp/waqf-engine/money"
)

// DeductionRule is one named percentage taken from gross revenue.
type DeductionRule struct {
	Name    string        `json:"name"`
	Percent money.Percent `json:"percent"`
	Account string        `json:"account,omitempty"`
}

// DeductionPolicy is an ordered list of deductions. Once referenced by a
// finalized plan it must not change; new terms get a new policy ID.
type DeductionPolicy struct {
	ID    string          `json:"id"`
	Name  string          `json:"name,omitempty"`
	Rules []DeductionRule `json:"rules"`
}

// Deduction is a computed deduction line of a plan.
type Deduction struct {
	Name    string        `json:"name"`
	Percent money.Percent `json:"percent"`
	Account string        `json:"account"`
	Amount  money.Money   `json:"amount"`
}

// TotalPercent sums the rule percentages.
func (p DeductionPolicy) TotalPercent() money.Percent {
	total := money.PercentFromInt(0)
	for _, r := range p.Rules {
		total = total.Add(r.Percent)
	}
	return total
}

// Validate checks percentages and names.
func (p DeductionPolicy) Validate() error {
	seen := make(map[string]bool, len(p.Rules))
	for _, r := range p.Rules {
		if r.Name == "" {
			return &PolicyError{PolicyID: p.ID, Reason: "deduction rule without a name"}
		}
		if seen[r.Name] {
			return &PolicyError{PolicyID: p.ID, Reason: fmt.Sprintf("duplicate deduction %q", r.Name)}
		}
		seen[r.Name] = true
		if r.Percent.IsNegative() {
			return &PolicyError{PolicyID: p.ID, Reason: fmt.Sprintf("deduction %q has negative percentage %s", r.Name, r.Percent)}
		}
	}
	if total := p.TotalPercent(); total.GreaterThan(money.Hundred) {
		return &PolicyError{PolicyID: p.ID, Reason: fmt.Sprintf("deductions total %s%%, above 100%%", total)}
	}
	return nil
}

// ApplyDeductions computes each deduction in policy order as
// round_half_even(gross * pct / 100). The distributable amount is what is
// left after subtracting those amounts; it is never recomputed from the
// summed percentage, so deductions + distributable == gross exactly.
func ApplyDeductions(gross money.Money, policy DeductionPolicy) ([]Deduction, money.Money, error) {
	if gross.IsNegative() {
		return nil, money.Zero, fmt.Errorf("%w: negative gross revenue %s", ErrInvalidAmount, gross)
	}
	if err := policy.Validate(); err != nil {
		return nil, money.Zero, err
	}

	deductions := make([]Deduction, 0, len(policy.Rules))
	remaining := gross
	for _, r := range policy.Rules {
		amount := gross.MulPercent(r.Percent)
		account := r.Account
		if account == "" {
			account = "deduction:" + r.Name
		}
		deductions = append(deductions, Deduction{
			Name:    r.Name,
			Percent: r.Percent,
			Account: account,
			Amount:  amount,
		})
		remaining = remaining.Sub(amount)
	}

	// Half-even rounding of rules summing to exactly 100% can overshoot by a
	// few minor units; that would make a negative distributable.
	if remaining.IsNegative() {
		return nil, money.Zero, &PolicyError{
			PolicyID: policy.ID,
			Reason:   fmt.Sprintf("rounded deductions exceed gross revenue by %s", remaining.Neg()),
		}
	}
	return deductions, remaining, nil
}
