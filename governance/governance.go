/*
governance.go - Weighted board voting

PURPOSE:
  Board-level decisions run as motions: eligible members vote approve,
  reject or abstain with a weight, and the tally decides.

OUTCOME RULE:
  voting    = approve + reject + abstain
  quorum    = voting / eligible >= Rules.Quorum
  passes    = quorum && approve / voting >= Rules.Approval

  An exact tie (approve == reject, including 0 == 0 when everyone
  abstains) never passes or fails on its own. The motion waits for the
  casting vote of the member holding Rules.TieBreakRole. Abstentions count
  toward quorum and toward the approval denominator.

SEE ALSO:
  - approval/role.go: roles, including the tie-break role
*/
package governance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/waqf-engine/approval"
)

var (
	ErrInvalidRules   = errors.New("invalid voting rules")
	ErrInvalidMembers = errors.New("invalid eligible members")
	ErrNotEligible    = errors.New("member not eligible to vote")
	ErrAlreadyVoted   = errors.New("member already voted")
	ErrInvalidChoice  = errors.New("invalid vote choice")
	ErrMotionClosed   = errors.New("motion is closed")
	ErrNoTie          = errors.New("motion is not awaiting a casting vote")
	ErrNotTieBreaker  = errors.New("actor does not hold the tie-break role")
)

// Choice is a member's vote.
type Choice string

const (
	ChoiceApprove Choice = "approve"
	ChoiceReject  Choice = "reject"
	ChoiceAbstain Choice = "abstain"
)

func (c Choice) valid() bool {
	return c == ChoiceApprove || c == ChoiceReject || c == ChoiceAbstain
}

// Outcome of a tally.
type Outcome string

const (
	OutcomeOpen                Outcome = "open"
	OutcomeNoQuorum            Outcome = "no_quorum"
	OutcomePassed              Outcome = "passed"
	OutcomeFailed              Outcome = "failed"
	OutcomeAwaitingCastingVote Outcome = "awaiting_casting_vote"
)

// Member is an eligible voter.
type Member struct {
	ID     string          `json:"id"`
	Role   approval.Role   `json:"role"`
	Weight decimal.Decimal `json:"weight"`
}

// Vote is one cast vote. Its weight is the member's weight.
type Vote struct {
	MemberID string          `json:"member_id"`
	Choice   Choice          `json:"choice"`
	Weight   decimal.Decimal `json:"weight"`
	CastAt   time.Time       `json:"cast_at"`
}

// Rules are fractions in (0, 1].
type Rules struct {
	Quorum       decimal.Decimal `json:"quorum"`
	Approval     decimal.Decimal `json:"approval"`
	TieBreakRole approval.Role   `json:"tie_break_role"`
}

// Validate checks both thresholds and the tie-break role.
func (r Rules) Validate() error {
	one := decimal.NewFromInt(1)
	if !r.Quorum.IsPositive() || r.Quorum.GreaterThan(one) {
		return fmt.Errorf("%w: quorum %s outside (0, 1]", ErrInvalidRules, r.Quorum)
	}
	if !r.Approval.IsPositive() || r.Approval.GreaterThan(one) {
		return fmt.Errorf("%w: approval threshold %s outside (0, 1]", ErrInvalidRules, r.Approval)
	}
	if !r.TieBreakRole.Valid() {
		return fmt.Errorf("%w: no tie-break role", ErrInvalidRules)
	}
	return nil
}

// Tally is the weighted count of a motion.
type Tally struct {
	Eligible  decimal.Decimal `json:"eligible"`
	Voting    decimal.Decimal `json:"voting"`
	Approve   decimal.Decimal `json:"approve"`
	Reject    decimal.Decimal `json:"reject"`
	Abstain   decimal.Decimal `json:"abstain"`
	QuorumMet bool            `json:"quorum_met"`
	Tie       bool            `json:"tie"`
	Outcome   Outcome         `json:"outcome"`

	// Set once the tie-break role holder has voted.
	CastingVote *Vote `json:"casting_vote,omitempty"`
}

// Count tallies votes against the eligible members. It is pure; the
// returned outcome is never OutcomeOpen.
func Count(members []Member, votes []Vote, rules Rules) Tally {
	t := Tally{
		Eligible: decimal.Zero,
		Voting:   decimal.Zero,
		Approve:  decimal.Zero,
		Reject:   decimal.Zero,
		Abstain:  decimal.Zero,
	}
	for _, m := range members {
		t.Eligible = t.Eligible.Add(m.Weight)
	}
	for _, v := range votes {
		switch v.Choice {
		case ChoiceApprove:
			t.Approve = t.Approve.Add(v.Weight)
		case ChoiceReject:
			t.Reject = t.Reject.Add(v.Weight)
		case ChoiceAbstain:
			t.Abstain = t.Abstain.Add(v.Weight)
		}
	}
	t.Voting = t.Approve.Add(t.Reject).Add(t.Abstain)

	// voting/eligible >= quorum, without dividing
	t.QuorumMet = t.Eligible.IsPositive() && t.Voting.GreaterThanOrEqual(rules.Quorum.Mul(t.Eligible))
	t.Tie = t.Approve.Equal(t.Reject)

	switch {
	case !t.QuorumMet:
		t.Outcome = OutcomeNoQuorum
	case t.Tie:
		t.Outcome = OutcomeAwaitingCastingVote
	case t.Approve.GreaterThanOrEqual(rules.Approval.Mul(t.Voting)):
		t.Outcome = OutcomePassed
	default:
		t.Outcome = OutcomeFailed
	}
	return t
}

// =============================================================================
// MOTION
// =============================================================================

// Motion is a stateful vote: open → closed, with a casting-vote step on ties.
type Motion struct {
	ID    string
	Title string
	Rules Rules

	mu      sync.Mutex
	members map[string]Member
	votes   map[string]Vote
	closed  bool
	result  *Tally
	now     func() time.Time
}

// NewMotion opens a motion for the given members.
func NewMotion(id, title string, members []Member, rules Rules) (*Motion, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no members", ErrInvalidMembers)
	}
	byID := make(map[string]Member, len(members))
	for _, m := range members {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: member without id", ErrInvalidMembers)
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate member %s", ErrInvalidMembers, m.ID)
		}
		if !m.Weight.IsPositive() {
			return nil, fmt.Errorf("%w: member %s has weight %s", ErrInvalidMembers, m.ID, m.Weight)
		}
		byID[m.ID] = m
	}
	return &Motion{
		ID:      id,
		Title:   title,
		Rules:   rules,
		members: byID,
		votes:   make(map[string]Vote),
		now:     time.Now,
	}, nil
}

// Cast records one vote per eligible member.
func (m *Motion) Cast(memberID string, choice Choice) error {
	if !choice.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMotionClosed
	}
	member, ok := m.members[memberID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotEligible, memberID)
	}
	if _, voted := m.votes[memberID]; voted {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, memberID)
	}
	m.votes[memberID] = Vote{MemberID: memberID, Choice: choice, Weight: member.Weight, CastAt: m.now().UTC()}
	return nil
}

// Tally returns the running count. While open the outcome is OutcomeOpen.
func (m *Motion) Tally() Tally {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result != nil {
		return *m.result
	}
	t := Count(m.memberList(), m.voteList(), m.Rules)
	if !m.closed {
		t.Outcome = OutcomeOpen
	}
	return t
}

// Close stops voting and fixes the outcome. A tie leaves the motion
// waiting for ResolveTie.
func (m *Motion) Close() (Tally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Tally{}, ErrMotionClosed
	}
	m.closed = true
	t := Count(m.memberList(), m.voteList(), m.Rules)
	if t.Outcome != OutcomeAwaitingCastingVote {
		m.result = &t
	}
	return t, nil
}

// ResolveTie applies the casting vote of the tie-break role holder. The
// actor must be an eligible member holding that role; the choice must be
// approve or reject.
func (m *Motion) ResolveTie(actor approval.Actor, choice Choice) (Tally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed || m.result != nil {
		return Tally{}, ErrNoTie
	}
	if actor.Role != m.Rules.TieBreakRole {
		return Tally{}, fmt.Errorf("%w: requires %s, actor is %s", ErrNotTieBreaker, m.Rules.TieBreakRole, actor.Role)
	}
	member, ok := m.members[actor.ID]
	if !ok || member.Role != m.Rules.TieBreakRole {
		return Tally{}, fmt.Errorf("%w: %s is not an eligible %s", ErrNotTieBreaker, actor.ID, m.Rules.TieBreakRole)
	}
	if choice != ChoiceApprove && choice != ChoiceReject {
		return Tally{}, fmt.Errorf("%w: casting vote must be approve or reject, got %q", ErrInvalidChoice, choice)
	}

	t := Count(m.memberList(), m.voteList(), m.Rules)
	t.CastingVote = &Vote{MemberID: actor.ID, Choice: choice, Weight: member.Weight, CastAt: m.now().UTC()}
	if choice == ChoiceApprove {
		t.Outcome = OutcomePassed
	} else {
		t.Outcome = OutcomeFailed
	}
	m.result = &t
	return t, nil
}

// Votes returns the cast votes ordered by member ID.
func (m *Motion) Votes() []Vote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voteList()
}

func (m *Motion) memberList() []Member {
	out := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Motion) voteList() []Vote {
	out := make([]Vote, 0, len(m.votes))
	for _, v := range m.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}
