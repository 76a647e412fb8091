package main

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/waqf"
)

// rosterFile is the --roster format:
//
//	beneficiaries:
//	  - id: heir-1
//	    name: Yusuf
//	    category: heir
//	    heir_type: son
//	  - id: ord-1
//	    category: ordinary
//	    priority: 1
//	    active: false
//	installments:
//	  - loan: study-1
//	    beneficiary: ord-1
//	    amount: "2500.00"
//	    due: 2025-01-01
type rosterFile struct {
	Beneficiaries []beneficiaryDoc `yaml:"beneficiaries"`
	Installments  []installmentDoc `yaml:"installments"`
}

type beneficiaryDoc struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	HeirType string `yaml:"heir_type"`
	Priority int    `yaml:"priority"`
	Active   *bool  `yaml:"active"`
}

type installmentDoc struct {
	Loan        string `yaml:"loan"`
	Beneficiary string `yaml:"beneficiary"`
	Amount      string `yaml:"amount"`
	Due         string `yaml:"due"`
}

type roster struct {
	beneficiaries []distribution.Beneficiary
	installments  []distribution.Installment
}

func parseRoster(data []byte) (*roster, error) {
	var doc rosterFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(doc.Beneficiaries) == 0 {
		return nil, fmt.Errorf("roster has no beneficiaries")
	}

	r := &roster{}
	seen := make(map[string]bool, len(doc.Beneficiaries))
	for i, b := range doc.Beneficiaries {
		if b.ID == "" {
			return nil, fmt.Errorf("beneficiary %d: id is required", i+1)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("beneficiary %s listed twice", b.ID)
		}
		seen[b.ID] = true

		cat := distribution.Category(b.Category)
		switch cat {
		case distribution.CategoryHeir, distribution.CategoryOrdinary:
		default:
			return nil, fmt.Errorf("beneficiary %s: unknown category %q", b.ID, b.Category)
		}
		active := true
		if b.Active != nil {
			active = *b.Active
		}
		name := b.Name
		if name == "" {
			name = b.ID
		}
		r.beneficiaries = append(r.beneficiaries, distribution.Beneficiary{
			ID:            distribution.BeneficiaryID(b.ID),
			Name:          name,
			Category:      cat,
			HeirType:      distribution.HeirType(b.HeirType),
			PriorityLevel: b.Priority,
			IsActive:      active,
		})
	}

	for i, in := range doc.Installments {
		if !seen[in.Beneficiary] {
			return nil, fmt.Errorf("installment %d: unknown beneficiary %q", i+1, in.Beneficiary)
		}
		amount, err := money.Parse(in.Amount)
		if err != nil {
			return nil, fmt.Errorf("installment %s: %w", in.Loan, err)
		}
		due, err := time.Parse("2006-01-02", in.Due)
		if err != nil {
			return nil, fmt.Errorf("installment %s: due date: %w", in.Loan, err)
		}
		r.installments = append(r.installments, distribution.Installment{
			LoanID:        in.Loan,
			BeneficiaryID: distribution.BeneficiaryID(in.Beneficiary),
			Amount:        amount,
			DueDate:       due,
		})
	}
	return r, nil
}

// loadInto registers everyone as of asOf so the whole file is in the run.
func (r *roster) loadInto(ctx context.Context, store waqf.RosterStore, asOf time.Time) error {
	for _, b := range r.beneficiaries {
		if err := store.SaveBeneficiary(ctx, b, asOf); err != nil {
			return err
		}
	}
	for _, in := range r.installments {
		if err := store.AddInstallment(ctx, in); err != nil {
			return err
		}
	}
	return nil
}
