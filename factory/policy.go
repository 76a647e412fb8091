/*
Package factory turns waqf policy documents into distribution terms.

PURPOSE:
  Deduction policies, split ratios, tier caps and approval workflows are
  data. Trustees edit them as YAML (or JSON, which parses the same way)
  and the factory builds the Go structs the engine runs on.

DOCUMENT SCHEMA:
  policies:
    - id: standard-2025
      name: Standard deductions
      rules:
        - {name: nazer,   percent: "5",  account: "expense:nazer_fee"}
        - {name: reserve, percent: "10", account: "equity:reserve"}
  workflows:
    - id: plan-approval-v1
      entity_type: allocation_plan
      auto_approve_out_of_range: false
      levels:
        - {order: 1, role: nazer, escalate_after: 72h}
        - {order: 2, role: accountant, can_skip: true, escalate_after: 48h}
        - {order: 3, role: board_chair, min_amount: "100000.00"}
  terms:
    - id: default
      policy: standard-2025
      workflow: plan-approval-v1
      heir_percent: "50"
      tier_caps: {1: "25000.00"}

  Amounts and percentages are strings so no value passes through a float.

USAGE:
  catalog, err := factory.NewPolicyFactory().LoadFile("waqf.yaml")
  terms, err := catalog.Terms("default")

SEE ALSO:
  - waqf/presets.go: the same terms built in Go
  - distribution/policy.go, approval/definition.go: target types
*/
package factory

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/waqf"
)

// ErrInvalidDocument wraps every parse and reference error.
var ErrInvalidDocument = errors.New("invalid policy document")

// =============================================================================
// DOCUMENT SCHEMA TYPES
// =============================================================================

// Document is the top-level policy file.
type Document struct {
	Policies  []PolicyDoc   `yaml:"policies" json:"policies"`
	Workflows []WorkflowDoc `yaml:"workflows" json:"workflows"`
	Terms     []TermsDoc    `yaml:"terms" json:"terms"`
}

// PolicyDoc is a deduction policy.
type PolicyDoc struct {
	ID    string    `yaml:"id" json:"id"`
	Name  string    `yaml:"name,omitempty" json:"name,omitempty"`
	Rules []RuleDoc `yaml:"rules" json:"rules"`
}

// RuleDoc is one deduction rule.
type RuleDoc struct {
	Name    string `yaml:"name" json:"name"`
	Percent string `yaml:"percent" json:"percent"`
	Account string `yaml:"account,omitempty" json:"account,omitempty"`
}

// WorkflowDoc is an approval definition.
type WorkflowDoc struct {
	ID                    string     `yaml:"id" json:"id"`
	EntityType            string     `yaml:"entity_type,omitempty" json:"entity_type,omitempty"`
	AutoApproveOutOfRange bool       `yaml:"auto_approve_out_of_range,omitempty" json:"auto_approve_out_of_range,omitempty"`
	Levels                []LevelDoc `yaml:"levels" json:"levels"`
}

// LevelDoc is one approval level. EscalateAfter is a Go duration ("48h").
type LevelDoc struct {
	Order         int    `yaml:"order" json:"order"`
	Role          string `yaml:"role" json:"role"`
	CanSkip       bool   `yaml:"can_skip,omitempty" json:"can_skip,omitempty"`
	EscalateAfter string `yaml:"escalate_after,omitempty" json:"escalate_after,omitempty"`
	MinAmount     string `yaml:"min_amount,omitempty" json:"min_amount,omitempty"`
	MaxAmount     string `yaml:"max_amount,omitempty" json:"max_amount,omitempty"`
}

// TermsDoc binds a policy and a workflow with the pool settings.
type TermsDoc struct {
	ID          string `yaml:"id" json:"id"`
	Policy      string `yaml:"policy" json:"policy"`
	Workflow    string `yaml:"workflow" json:"workflow"`
	HeirPercent string `yaml:"heir_percent" json:"heir_percent"`
	// TierCaps is keyed by priority level.
	TierCaps map[string]string `yaml:"tier_caps,omitempty" json:"tier_caps,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed, cross-checked document.
type Catalog struct {
	policies  map[string]distribution.DeductionPolicy
	workflows map[string]approval.Definition
	terms     map[string]waqf.Terms
}

// Policy returns a deduction policy by ID.
func (c *Catalog) Policy(id string) (distribution.DeductionPolicy, bool) {
	p, ok := c.policies[id]
	return p, ok
}

// Workflow returns an approval definition by ID.
func (c *Catalog) Workflow(id string) (approval.Definition, bool) {
	d, ok := c.workflows[id]
	return d, ok
}

// Terms returns named terms.
func (c *Catalog) Terms(id string) (waqf.Terms, error) {
	t, ok := c.terms[id]
	if !ok {
		return waqf.Terms{}, fmt.Errorf("%w: no terms %q", ErrInvalidDocument, id)
	}
	return t, nil
}

// TermIDs lists the term IDs in sorted order.
func (c *Catalog) TermIDs() []string {
	ids := make([]string, 0, len(c.terms))
	for id := range c.terms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy documents to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// LoadFile reads and parses a document from disk.
func (f *PolicyFactory) LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	return f.Parse(data)
}

// Parse parses YAML or JSON.
func (f *PolicyFactory) Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return f.FromDocument(doc)
}

// FromDocument converts and validates every entry and resolves the
// references of each terms entry.
func (f *PolicyFactory) FromDocument(doc Document) (*Catalog, error) {
	c := &Catalog{
		policies:  make(map[string]distribution.DeductionPolicy),
		workflows: make(map[string]approval.Definition),
		terms:     make(map[string]waqf.Terms),
	}

	for _, pd := range doc.Policies {
		p, err := parsePolicy(pd)
		if err != nil {
			return nil, err
		}
		if _, dup := c.policies[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate policy %q", ErrInvalidDocument, p.ID)
		}
		c.policies[p.ID] = p
	}

	for _, wd := range doc.Workflows {
		d, err := parseWorkflow(wd)
		if err != nil {
			return nil, err
		}
		if _, dup := c.workflows[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow %q", ErrInvalidDocument, d.ID)
		}
		c.workflows[d.ID] = d
	}

	for _, td := range doc.Terms {
		t, err := c.parseTerms(td)
		if err != nil {
			return nil, err
		}
		if _, dup := c.terms[td.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate terms %q", ErrInvalidDocument, td.ID)
		}
		c.terms[td.ID] = t
	}
	return c, nil
}

// ToDocument renders terms back into a document with a single entry of
// each kind.
func (f *PolicyFactory) ToDocument(id string, t waqf.Terms) Document {
	pd := PolicyDoc{ID: t.Policy.ID, Name: t.Policy.Name}
	for _, r := range t.Policy.Rules {
		pd.Rules = append(pd.Rules, RuleDoc{Name: r.Name, Percent: r.Percent.String(), Account: r.Account})
	}

	wd := WorkflowDoc{
		ID:                    t.Workflow.ID,
		EntityType:            t.Workflow.EntityType,
		AutoApproveOutOfRange: t.Workflow.AutoApproveOutOfRange,
	}
	for _, l := range t.Workflow.Levels {
		ld := LevelDoc{Order: l.Order, Role: l.RequiredRole.String(), CanSkip: l.CanSkip}
		if l.AutoEscalateAfter > 0 {
			ld.EscalateAfter = l.AutoEscalateAfter.String()
		}
		if l.MinAmount != nil {
			ld.MinAmount = l.MinAmount.String()
		}
		if l.MaxAmount != nil {
			ld.MaxAmount = l.MaxAmount.String()
		}
		wd.Levels = append(wd.Levels, ld)
	}

	td := TermsDoc{ID: id, Policy: pd.ID, Workflow: wd.ID, HeirPercent: t.Split.HeirPercent.String()}
	if len(t.Priority.TierCaps) > 0 {
		td.TierCaps = make(map[string]string, len(t.Priority.TierCaps))
		for level, c := range t.Priority.TierCaps {
			td.TierCaps[strconv.Itoa(level)] = c.String()
		}
	}
	return Document{Policies: []PolicyDoc{pd}, Workflows: []WorkflowDoc{wd}, Terms: []TermsDoc{td}}
}

// MarshalYAML renders a document.
func (f *PolicyFactory) MarshalYAML(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePolicy(pd PolicyDoc) (distribution.DeductionPolicy, error) {
	if pd.ID == "" {
		return distribution.DeductionPolicy{}, fmt.Errorf("%w: policy without id", ErrInvalidDocument)
	}
	p := distribution.DeductionPolicy{ID: pd.ID, Name: pd.Name}
	for _, rd := range pd.Rules {
		pct, err := money.ParsePercent(rd.Percent)
		if err != nil {
			return distribution.DeductionPolicy{}, fmt.Errorf("%w: policy %s rule %q: %v", ErrInvalidDocument, pd.ID, rd.Name, err)
		}
		p.Rules = append(p.Rules, distribution.DeductionRule{Name: rd.Name, Percent: pct, Account: rd.Account})
	}
	if err := p.Validate(); err != nil {
		return distribution.DeductionPolicy{}, err
	}
	return p, nil
}

func parseWorkflow(wd WorkflowDoc) (approval.Definition, error) {
	d := approval.Definition{
		ID:                    wd.ID,
		EntityType:            wd.EntityType,
		AutoApproveOutOfRange: wd.AutoApproveOutOfRange,
	}
	for _, ld := range wd.Levels {
		lvl, err := parseLevel(wd.ID, ld)
		if err != nil {
			return approval.Definition{}, err
		}
		d.Levels = append(d.Levels, lvl)
	}
	if err := d.Validate(); err != nil {
		return approval.Definition{}, err
	}
	return d, nil
}

func parseLevel(workflowID string, ld LevelDoc) (approval.Level, error) {
	role, err := approval.ParseRole(ld.Role)
	if err != nil {
		return approval.Level{}, fmt.Errorf("%w: workflow %s level %d: %v", ErrInvalidDocument, workflowID, ld.Order, err)
	}
	lvl := approval.Level{Order: ld.Order, RequiredRole: role, CanSkip: ld.CanSkip}

	if ld.EscalateAfter != "" {
		d, err := time.ParseDuration(ld.EscalateAfter)
		if err != nil || d <= 0 {
			return approval.Level{}, fmt.Errorf("%w: workflow %s level %d: escalate_after %q", ErrInvalidDocument, workflowID, ld.Order, ld.EscalateAfter)
		}
		lvl.AutoEscalateAfter = d
	}
	if lvl.MinAmount, err = parseOptionalAmount(ld.MinAmount); err != nil {
		return approval.Level{}, fmt.Errorf("%w: workflow %s level %d min_amount: %v", ErrInvalidDocument, workflowID, ld.Order, err)
	}
	if lvl.MaxAmount, err = parseOptionalAmount(ld.MaxAmount); err != nil {
		return approval.Level{}, fmt.Errorf("%w: workflow %s level %d max_amount: %v", ErrInvalidDocument, workflowID, ld.Order, err)
	}
	return lvl, nil
}

func parseOptionalAmount(s string) (*money.Money, error) {
	if s == "" {
		return nil, nil
	}
	m, err := money.Parse(s)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Catalog) parseTerms(td TermsDoc) (waqf.Terms, error) {
	if td.ID == "" {
		return waqf.Terms{}, fmt.Errorf("%w: terms without id", ErrInvalidDocument)
	}
	policy, ok := c.policies[td.Policy]
	if !ok {
		return waqf.Terms{}, fmt.Errorf("%w: terms %s references unknown policy %q", ErrInvalidDocument, td.ID, td.Policy)
	}
	workflow, ok := c.workflows[td.Workflow]
	if !ok {
		return waqf.Terms{}, fmt.Errorf("%w: terms %s references unknown workflow %q", ErrInvalidDocument, td.ID, td.Workflow)
	}
	heir, err := money.ParsePercent(td.HeirPercent)
	if err != nil {
		return waqf.Terms{}, fmt.Errorf("%w: terms %s heir_percent: %v", ErrInvalidDocument, td.ID, err)
	}

	t := waqf.Terms{
		Policy:   policy,
		Split:    distribution.SplitRatio{HeirPercent: heir},
		Workflow: workflow,
	}
	if len(td.TierCaps) > 0 {
		t.Priority.TierCaps = make(map[int]money.Money, len(td.TierCaps))
		for key, s := range td.TierCaps {
			level, err := strconv.Atoi(key)
			if err != nil || level < 1 {
				return waqf.Terms{}, fmt.Errorf("%w: terms %s tier %q is not a priority level", ErrInvalidDocument, td.ID, key)
			}
			m, err := money.Parse(s)
			if err != nil {
				return waqf.Terms{}, fmt.Errorf("%w: terms %s tier %d cap: %v", ErrInvalidDocument, td.ID, level, err)
			}
			t.Priority.TierCaps[level] = m
		}
	}
	if err := t.Validate(); err != nil {
		return waqf.Terms{}, err
	}
	return t, nil
}
