package waqf

import (
	"fmt"
	"time"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
)

// EntityTypePlan is the entity type of plan approval workflows.
const EntityTypePlan = "allocation_plan"

// Terms are the data-driven inputs of a distribution run.
type Terms struct {
	Policy   distribution.DeductionPolicy `json:"policy"`
	Split    distribution.SplitRatio      `json:"split"`
	Priority distribution.PriorityRules   `json:"priority"`
	Workflow approval.Definition          `json:"workflow"`
}

// Validate checks every part and pins the workflow entity type.
func (t *Terms) Validate() error {
	if err := t.Policy.Validate(); err != nil {
		return err
	}
	if err := t.Split.Validate(); err != nil {
		return err
	}
	if err := t.Priority.Validate(); err != nil {
		return err
	}
	switch t.Workflow.EntityType {
	case "":
		t.Workflow.EntityType = EntityTypePlan
	case EntityTypePlan:
	default:
		return fmt.Errorf("%w: workflow %s is for %q, not %q", ErrInvalidTerms, t.Workflow.ID, t.Workflow.EntityType, EntityTypePlan)
	}
	return t.Workflow.Validate()
}

// StandardPolicy is the common five-rule deduction policy.
func StandardPolicy() distribution.DeductionPolicy {
	return distribution.DeductionPolicy{
		ID:   "standard-2025",
		Name: "Standard deductions",
		Rules: []distribution.DeductionRule{
			{Name: "nazer", Percent: money.MustPercent("5"), Account: "expense:nazer_fee"},
			{Name: "reserve", Percent: money.MustPercent("10"), Account: "equity:reserve"},
			{Name: "corpus", Percent: money.MustPercent("5"), Account: "equity:corpus"},
			{Name: "maintenance", Percent: money.MustPercent("3"), Account: "expense:maintenance"},
			{Name: "development", Percent: money.MustPercent("2"), Account: "expense:development"},
		},
	}
}

// StandardWorkflow: nazer, then the accountant (skippable, escalated after
// 48 hours), then the board chair for plans of boardThreshold and above.
func StandardWorkflow(boardThreshold money.Money) approval.Definition {
	return approval.Definition{
		ID:         "plan-approval-v1",
		EntityType: EntityTypePlan,
		Levels: []approval.Level{
			{Order: 1, RequiredRole: approval.RoleNazer, AutoEscalateAfter: 72 * time.Hour},
			{Order: 2, RequiredRole: approval.RoleAccountant, CanSkip: true, AutoEscalateAfter: 48 * time.Hour},
			{Order: 3, RequiredRole: approval.RoleBoardChair, MinAmount: &boardThreshold},
		},
	}
}

// StandardTerms combines the presets with an even heir split.
func StandardTerms() Terms {
	return Terms{
		Policy:   StandardPolicy(),
		Split:    distribution.SplitRatio{HeirPercent: money.PercentFromInt(50)},
		Workflow: StandardWorkflow(money.FromMajor(100_000)),
	}
}
