package distribution

import (
	"fmt"

	"github.com/warp/waqf-engine/money"
)

// Accounts used by the distribution journal entry.
const (
	AccountRevenue        = "revenue:waqf"
	accountPayablePrefix  = "payable:"
	accountLoanRecvPrefix = "loan_receivable:"
)

// JournalLine is one side of a journal posting. Exactly one of Debit or
// Credit is non-zero.
type JournalLine struct {
	Account       string        `json:"account"`
	BeneficiaryID BeneficiaryID `json:"beneficiary_id,omitempty"`
	Debit         money.Money   `json:"debit"`
	Credit        money.Money   `json:"credit"`
}

// JournalEntry is the single entry that materializes an approved plan.
type JournalEntry struct {
	PlanID string        `json:"plan_id"`
	Lines  []JournalLine `json:"lines"`
}

// BuildJournalEntry debits gross revenue and credits every deduction
// account, each beneficiary payable (net payout) and each loan receivable
// (installments collected from shares). Zero lines are omitted.
func BuildJournalEntry(p *AllocationPlan) JournalEntry {
	entry := JournalEntry{PlanID: p.ID}
	entry.Lines = append(entry.Lines, JournalLine{Account: AccountRevenue, Debit: p.GrossRevenue})

	for _, d := range p.Deductions {
		if d.Amount.IsZero() {
			continue
		}
		entry.Lines = append(entry.Lines, JournalLine{Account: d.Account, Credit: d.Amount})
	}
	for _, a := range p.Allocations {
		if !a.NetPayout.IsZero() {
			entry.Lines = append(entry.Lines, JournalLine{
				Account:       accountPayablePrefix + string(a.BeneficiaryID),
				BeneficiaryID: a.BeneficiaryID,
				Credit:        a.NetPayout,
			})
		}
		if !a.LoanRepayment.IsZero() {
			entry.Lines = append(entry.Lines, JournalLine{
				Account:       accountLoanRecvPrefix + string(a.BeneficiaryID),
				BeneficiaryID: a.BeneficiaryID,
				Credit:        a.LoanRepayment,
			})
		}
	}
	return entry
}

// Totals returns the debit and credit sums.
func (e JournalEntry) Totals() (debit, credit money.Money) {
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Validate asserts the entry balances and no line is negative or two-sided.
func (e JournalEntry) Validate() error {
	for _, l := range e.Lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("%w: negative line on %s", ErrUnbalancedJournal, l.Account)
		}
		if !l.Debit.IsZero() && !l.Credit.IsZero() {
			return fmt.Errorf("%w: line on %s is both debit and credit", ErrUnbalancedJournal, l.Account)
		}
	}
	debit, credit := e.Totals()
	if debit != credit {
		return fmt.Errorf("%w: plan %s debits %s, credits %s", ErrUnbalancedJournal, e.PlanID, debit, credit)
	}
	return nil
}
