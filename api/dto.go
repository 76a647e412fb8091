/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that
  already carry json tags (distribution.AllocationPlan, approval.Instance,
  audit.Entry, distribution.JournalEntry) are returned as they are; the
  types here cover request bodies and composite responses.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

VALIDATION:
  Request types carry go-playground/validator tags, checked by decode()
  before a handler runs. Domain rules (roles, levels, policy sums) stay in
  the domain packages.

SEE ALSO:
  - validation.go: validator setup and custom money tags
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/governance"
	"github.com/warp/waqf-engine/money"
)

const dateLayout = "2006-01-02"

// =============================================================================
// COMMON
// =============================================================================

// ActorDTO identifies who performs a command.
type ActorDTO struct {
	ID   string        `json:"id" validate:"required"`
	Role approval.Role `json:"role" validate:"required"`
}

func (a ActorDTO) actor() approval.Actor {
	return approval.Actor{ID: a.ID, Role: a.Role}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// ROSTER
// =============================================================================

// SaveBeneficiaryRequest creates or replaces a roster member.
type SaveBeneficiaryRequest struct {
	ID            string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Category      string `json:"category" validate:"required,oneof=heir ordinary"`
	HeirType      string `json:"heir_type" validate:"omitempty,oneof=spouse son daughter other"`
	PriorityLevel int    `json:"priority_level" validate:"gte=0"`
	IsActive      *bool  `json:"is_active"`
	// RegisteredAt defaults to today.
	RegisteredAt string `json:"registered_at" validate:"omitempty,datetime=2006-01-02"`
}

func (r SaveBeneficiaryRequest) beneficiary() distribution.Beneficiary {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return distribution.Beneficiary{
		ID:            distribution.BeneficiaryID(r.ID),
		Name:          r.Name,
		Category:      distribution.Category(r.Category),
		HeirType:      distribution.HeirType(r.HeirType),
		PriorityLevel: r.PriorityLevel,
		IsActive:      active,
	}
}

// AddInstallmentRequest records an installment due from a member's share.
type AddInstallmentRequest struct {
	LoanID  string      `json:"loan_id" validate:"required"`
	Amount  money.Money `json:"amount" validate:"positive_money"`
	DueDate string      `json:"due_date" validate:"required,datetime=2006-01-02"`
}

// =============================================================================
// PLANS
// =============================================================================

// PreviewPlanRequest computes a plan without saving it.
type PreviewPlanRequest struct {
	AsOf         string      `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	GrossRevenue money.Money `json:"gross_revenue" validate:"nonnegative_money"`
	// Terms names configured terms; empty uses the server default.
	Terms string `json:"terms"`
}

// RunPlanRequest computes, saves and submits a plan.
type RunPlanRequest struct {
	AsOf         string      `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	GrossRevenue money.Money `json:"gross_revenue" validate:"nonnegative_money"`
	Terms        string      `json:"terms"`
	Actor        ActorDTO    `json:"actor"`
}

// RunResultDTO is the saved plan and the approval it started.
type RunResultDTO struct {
	Plan     *distribution.AllocationPlan `json:"plan"`
	Approval *approval.Instance           `json:"approval"`
}

// TermsDTO lists configured terms.
type TermsDTO struct {
	Default string   `json:"default"`
	IDs     []string `json:"ids"`
}

// =============================================================================
// APPROVALS
// =============================================================================

// DecideRequest approves or rejects the current level.
type DecideRequest struct {
	Level           int      `json:"level" validate:"required,gte=1"`
	Verdict         string   `json:"verdict" validate:"required,oneof=approve reject"`
	Notes           string   `json:"notes"`
	Actor           ActorDTO `json:"actor"`
	ExpectedVersion int64    `json:"expected_version" validate:"gte=0"`
}

// SkipRequest skips the current level.
type SkipRequest struct {
	Level           int      `json:"level" validate:"required,gte=1"`
	Notes           string   `json:"notes"`
	Actor           ActorDTO `json:"actor"`
	ExpectedVersion int64    `json:"expected_version" validate:"gte=0"`
}

// CancelRequest cancels a pending approval.
type CancelRequest struct {
	Reason          string   `json:"reason" validate:"required"`
	Actor           ActorDTO `json:"actor"`
	ExpectedVersion int64    `json:"expected_version" validate:"gte=0"`
}

// PendingApprovalDTO is one item of a reviewer's queue.
type PendingApprovalDTO struct {
	InstanceID   string        `json:"instance_id"`
	SubjectID    string        `json:"subject_id"`
	EntityType   string        `json:"entity_type"`
	Amount       money.Money   `json:"amount"`
	Level        int           `json:"level"`
	RequiredRole approval.Role `json:"required_role"`
	Assignee     string        `json:"assignee,omitempty"`
	Version      int64         `json:"version"`
	WaitingSince time.Time     `json:"waiting_since"`
	EscalatesAt  *time.Time    `json:"escalates_at,omitempty"`
	Escalated    bool          `json:"escalated"`
}

// ScanResultDTO reports one escalation scan.
type ScanResultDTO struct {
	Checked   int  `json:"checked"`
	Escalated int  `json:"escalated"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

// =============================================================================
// MOTIONS
// =============================================================================

// MemberDTO is an eligible voter.
type MemberDTO struct {
	ID     string          `json:"id" validate:"required"`
	Role   approval.Role   `json:"role" validate:"required"`
	Weight decimal.Decimal `json:"weight"`
}

// CreateMotionRequest opens a board vote.
type CreateMotionRequest struct {
	Title        string          `json:"title" validate:"required"`
	Members      []MemberDTO     `json:"members" validate:"required,min=1,dive"`
	Quorum       decimal.Decimal `json:"quorum"`
	Approval     decimal.Decimal `json:"approval"`
	TieBreakRole approval.Role   `json:"tie_break_role" validate:"required"`
}

func (r CreateMotionRequest) members() []governance.Member {
	out := make([]governance.Member, len(r.Members))
	for i, m := range r.Members {
		out[i] = governance.Member{ID: m.ID, Role: m.Role, Weight: m.Weight}
	}
	return out
}

// CastVoteRequest records one member's vote.
type CastVoteRequest struct {
	MemberID string `json:"member_id" validate:"required"`
	Choice   string `json:"choice" validate:"required,oneof=approve reject abstain"`
}

// CastingVoteRequest resolves a tie.
type CastingVoteRequest struct {
	Actor  ActorDTO `json:"actor"`
	Choice string   `json:"choice" validate:"required,oneof=approve reject"`
}

// MotionDTO is a motion with its votes and current tally.
type MotionDTO struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	Rules governance.Rules  `json:"rules"`
	Votes []governance.Vote `json:"votes"`
	Tally governance.Tally  `json:"tally"`
}

func toMotionDTO(m *governance.Motion) MotionDTO {
	return MotionDTO{ID: m.ID, Title: m.Title, Rules: m.Rules, Votes: m.Votes(), Tally: m.Tally()}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo roster.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest loads a demo roster.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
