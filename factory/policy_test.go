package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/factory"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/waqf"
)

const document = `
policies:
  - id: standard-2025
    name: Standard deductions
    rules:
      - {name: nazer, percent: "5", account: "expense:nazer_fee"}
      - {name: reserve, percent: "10"}
      - {name: corpus, percent: 5}
workflows:
  - id: plan-approval-v1
    levels:
      - {order: 1, role: nazer, escalate_after: 72h}
      - {order: 2, role: Accountant, can_skip: true, escalate_after: 48h}
      - {order: 3, role: board_chair, min_amount: "100,000.00"}
terms:
  - id: default
    policy: standard-2025
    workflow: plan-approval-v1
    heir_percent: "60"
    tier_caps: {1: "25000.00"}
`

func TestParse_Document(t *testing.T) {
	catalog, err := factory.NewPolicyFactory().Parse([]byte(document))
	require.NoError(t, err)

	assert.Equal(t, []string{"default"}, catalog.TermIDs())
	terms, err := catalog.Terms("default")
	require.NoError(t, err)

	// policy
	require.Len(t, terms.Policy.Rules, 3)
	assert.Equal(t, "standard-2025", terms.Policy.ID)
	assert.True(t, terms.Policy.TotalPercent().Equal(money.PercentFromInt(20)))
	assert.Equal(t, "expense:nazer_fee", terms.Policy.Rules[0].Account)

	// split and caps
	assert.True(t, terms.Split.HeirPercent.Equal(money.PercentFromInt(60)))
	assert.Equal(t, map[int]money.Money{1: money.FromMajor(25_000)}, terms.Priority.TierCaps)

	// workflow, pinned to plans
	wf := terms.Workflow
	assert.Equal(t, waqf.EntityTypePlan, wf.EntityType)
	require.Len(t, wf.Levels, 3)
	assert.Equal(t, approval.RoleAccountant, wf.Levels[1].RequiredRole)
	assert.True(t, wf.Levels[1].CanSkip)
	assert.Equal(t, 48*time.Hour, wf.Levels[1].AutoEscalateAfter)
	require.NotNil(t, wf.Levels[2].MinAmount)
	assert.Equal(t, money.FromMajor(100_000), *wf.Levels[2].MinAmount)
	assert.Equal(t, []int{1, 2}, wf.ApplicableLevels(money.FromMajor(99_999)))

	_, ok := catalog.Policy("standard-2025")
	assert.True(t, ok)
	_, ok = catalog.Workflow("plan-approval-v1")
	assert.True(t, ok)
	_, err = catalog.Terms("missing")
	assert.ErrorIs(t, err, factory.ErrInvalidDocument)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
	  "policies": [{"id": "p", "rules": [{"name": "nazer", "percent": "12.5"}]}],
	  "workflows": [{"id": "w", "auto_approve_out_of_range": true, "levels": [
	    {"order": 1, "role": "nazer", "max_amount": "500.00"}
	  ]}],
	  "terms": [{"id": "t", "policy": "p", "workflow": "w", "heir_percent": "0", "tier_caps": {"2": "10"}}]
	}`
	catalog, err := factory.NewPolicyFactory().Parse([]byte(doc))
	require.NoError(t, err)

	terms, err := catalog.Terms("t")
	require.NoError(t, err)
	assert.True(t, terms.Workflow.AutoApproveOutOfRange)
	assert.Equal(t, money.FromMajor(10), terms.Priority.TierCaps[2])
	assert.Empty(t, terms.Workflow.ApplicableLevels(money.FromMajor(501)))
}

func TestParse_Rejects(t *testing.T) {
	base := func(levels, terms string) string {
		return `
policies:
  - id: p
    rules: [{name: nazer, percent: "5"}]
workflows:
  - id: w
    levels: [` + levels + `]
terms:
  - ` + terms + "\n"
	}
	okLevel := `{order: 1, role: nazer}`
	okTerms := `{id: t, policy: p, workflow: w, heir_percent: "50"}`

	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"malformed yaml", "policies: [", factory.ErrInvalidDocument},
		{"unknown role", base(`{order: 1, role: janitor}`, okTerms), factory.ErrInvalidDocument},
		{"bad duration", base(`{order: 1, role: nazer, escalate_after: soon}`, okTerms), factory.ErrInvalidDocument},
		{"bad amount", base(`{order: 1, role: nazer, min_amount: lots}`, okTerms), factory.ErrInvalidDocument},
		{"duplicate level", base(okLevel+", "+okLevel, okTerms), approval.ErrInvalidDefinition},
		{"unknown policy", base(okLevel, `{id: t, policy: nope, workflow: w, heir_percent: "50"}`), factory.ErrInvalidDocument},
		{"unknown workflow", base(okLevel, `{id: t, policy: p, workflow: nope, heir_percent: "50"}`), factory.ErrInvalidDocument},
		{"bad split", base(okLevel, `{id: t, policy: p, workflow: w, heir_percent: "150"}`), distribution.ErrInvalidPolicy},
		{"bad tier key", base(okLevel, `{id: t, policy: p, workflow: w, heir_percent: "50", tier_caps: {top: "1"}}`), factory.ErrInvalidDocument},
		{"over 100 percent", `
policies:
  - id: p
    rules: [{name: a, percent: "60"}, {name: b, percent: "41"}]
`, distribution.ErrInvalidPolicy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := factory.NewPolicyFactory().Parse([]byte(tc.doc))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestToDocument_StandardTermsParseBack(t *testing.T) {
	f := factory.NewPolicyFactory()
	terms := waqf.StandardTerms()
	terms.Priority.TierCaps = map[int]money.Money{1: money.FromMajor(5_000)}

	out, err := f.MarshalYAML(f.ToDocument("standard", terms))
	require.NoError(t, err)

	catalog, err := f.Parse(out)
	require.NoError(t, err)
	back, err := catalog.Terms("standard")
	require.NoError(t, err)

	assert.Equal(t, terms.Policy.ID, back.Policy.ID)
	require.Len(t, back.Policy.Rules, len(terms.Policy.Rules))
	for i, r := range terms.Policy.Rules {
		assert.Equal(t, r.Name, back.Policy.Rules[i].Name)
		assert.True(t, r.Percent.Equal(back.Policy.Rules[i].Percent))
	}
	assert.Equal(t, terms.Priority.TierCaps, back.Priority.TierCaps)
	assert.Equal(t, terms.Workflow.Levels, back.Workflow.Levels)
}
