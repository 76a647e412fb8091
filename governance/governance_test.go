package governance_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/governance"
)

func w(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func board() []governance.Member {
	return []governance.Member{
		{ID: "chair", Role: approval.RoleBoardChair, Weight: w(2)},
		{ID: "m1", Role: approval.RoleBoardMember, Weight: w(1)},
		{ID: "m2", Role: approval.RoleBoardMember, Weight: w(1)},
		{ID: "m3", Role: approval.RoleBoardMember, Weight: w(1)},
		{ID: "m4", Role: approval.RoleBoardMember, Weight: w(1)},
	}
}

func majority() governance.Rules {
	return governance.Rules{
		Quorum:       decimal.RequireFromString("0.5"),
		Approval:     decimal.RequireFromString("0.5"),
		TieBreakRole: approval.RoleBoardChair,
	}
}

func TestCount_Outcomes(t *testing.T) {
	vote := func(id string, c governance.Choice, weight int64) governance.Vote {
		return governance.Vote{MemberID: id, Choice: c, Weight: w(weight)}
	}

	cases := []struct {
		name    string
		votes   []governance.Vote
		outcome governance.Outcome
	}{
		{
			name:    "below quorum",
			votes:   []governance.Vote{vote("m1", governance.ChoiceApprove, 1), vote("m2", governance.ChoiceApprove, 1)},
			outcome: governance.OutcomeNoQuorum, // 2 of 6 < 50%
		},
		{
			name:    "exactly quorum and passes",
			votes:   []governance.Vote{vote("chair", governance.ChoiceApprove, 2), vote("m1", governance.ChoiceReject, 1)},
			outcome: governance.OutcomePassed, // 3 of 6; 2/3 >= 0.5
		},
		{
			name: "abstentions dilute approval",
			votes: []governance.Vote{
				vote("m1", governance.ChoiceApprove, 1), vote("chair", governance.ChoiceAbstain, 2),
				vote("m2", governance.ChoiceAbstain, 1),
			},
			outcome: governance.OutcomeFailed, // 1/4 < 0.5 and 1 != 0
		},
		{
			name:    "exact tie waits for casting vote",
			votes:   []governance.Vote{vote("m1", governance.ChoiceApprove, 1), vote("m2", governance.ChoiceReject, 1), vote("m3", governance.ChoiceAbstain, 1)},
			outcome: governance.OutcomeAwaitingCastingVote,
		},
		{
			name:    "everyone abstains is a 0:0 tie",
			votes:   []governance.Vote{vote("chair", governance.ChoiceAbstain, 2), vote("m1", governance.ChoiceAbstain, 1)},
			outcome: governance.OutcomeAwaitingCastingVote,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tally := governance.Count(board(), tc.votes, majority())
			assert.Equal(t, tc.outcome, tally.Outcome)
			assert.True(t, tally.Eligible.Equal(w(6)))
		})
	}
}

func TestMotion_TieNeverAutoResolves(t *testing.T) {
	// GIVEN: a 2:2 weighted tie with quorum met
	motion, err := governance.NewMotion("mo-1", "sell plot 7", board(), majority())
	require.NoError(t, err)
	require.NoError(t, motion.Cast("chair", governance.ChoiceApprove))
	require.NoError(t, motion.Cast("m1", governance.ChoiceReject))
	require.NoError(t, motion.Cast("m2", governance.ChoiceReject))

	assert.Equal(t, governance.OutcomeOpen, motion.Tally().Outcome)

	// WHEN: closing
	tally, err := motion.Close()
	require.NoError(t, err)

	// THEN: neither passed nor failed
	assert.True(t, tally.Tie)
	assert.Equal(t, governance.OutcomeAwaitingCastingVote, tally.Outcome)
	assert.Equal(t, governance.OutcomeAwaitingCastingVote, motion.Tally().Outcome)
	assert.ErrorIs(t, motion.Cast("m3", governance.ChoiceApprove), governance.ErrMotionClosed)

	// a board member cannot break the tie
	_, err = motion.ResolveTie(approval.Actor{ID: "m3", Role: approval.RoleBoardMember}, governance.ChoiceApprove)
	assert.ErrorIs(t, err, governance.ErrNotTieBreaker)

	// claiming the role without being the eligible holder fails too
	_, err = motion.ResolveTie(approval.Actor{ID: "outsider", Role: approval.RoleBoardChair}, governance.ChoiceApprove)
	assert.ErrorIs(t, err, governance.ErrNotTieBreaker)

	_, err = motion.ResolveTie(approval.Actor{ID: "chair", Role: approval.RoleBoardChair}, governance.ChoiceAbstain)
	assert.ErrorIs(t, err, governance.ErrInvalidChoice)

	final, err := motion.ResolveTie(approval.Actor{ID: "chair", Role: approval.RoleBoardChair}, governance.ChoiceReject)
	require.NoError(t, err)
	assert.Equal(t, governance.OutcomeFailed, final.Outcome)
	require.NotNil(t, final.CastingVote)
	assert.Equal(t, "chair", final.CastingVote.MemberID)

	_, err = motion.ResolveTie(approval.Actor{ID: "chair", Role: approval.RoleBoardChair}, governance.ChoiceApprove)
	assert.ErrorIs(t, err, governance.ErrNoTie)
}

func TestMotion_CastValidation(t *testing.T) {
	motion, err := governance.NewMotion("mo-2", "budget", board(), majority())
	require.NoError(t, err)

	assert.ErrorIs(t, motion.Cast("stranger", governance.ChoiceApprove), governance.ErrNotEligible)
	assert.ErrorIs(t, motion.Cast("m1", governance.Choice("yes")), governance.ErrInvalidChoice)
	require.NoError(t, motion.Cast("m1", governance.ChoiceApprove))
	assert.ErrorIs(t, motion.Cast("m1", governance.ChoiceReject), governance.ErrAlreadyVoted)

	require.NoError(t, motion.Cast("chair", governance.ChoiceApprove))
	tally, err := motion.Close()
	require.NoError(t, err)
	assert.Equal(t, governance.OutcomePassed, tally.Outcome)

	_, err = motion.ResolveTie(approval.Actor{ID: "chair", Role: approval.RoleBoardChair}, governance.ChoiceApprove)
	assert.ErrorIs(t, err, governance.ErrNoTie)
	_, err = motion.Close()
	assert.ErrorIs(t, err, governance.ErrMotionClosed)
	assert.Len(t, motion.Votes(), 2)
}

func TestNewMotion_Validation(t *testing.T) {
	_, err := governance.NewMotion("x", "", board(), governance.Rules{Quorum: w(0), Approval: w(1), TieBreakRole: approval.RoleBoardChair})
	assert.ErrorIs(t, err, governance.ErrInvalidRules)

	_, err = governance.NewMotion("x", "", board(), governance.Rules{Quorum: w(1), Approval: w(1)})
	assert.ErrorIs(t, err, governance.ErrInvalidRules)

	_, err = governance.NewMotion("x", "", nil, majority())
	assert.ErrorIs(t, err, governance.ErrInvalidMembers)

	_, err = governance.NewMotion("x", "", []governance.Member{{ID: "a", Weight: w(0)}}, majority())
	assert.ErrorIs(t, err, governance.ErrInvalidMembers)

	_, err = governance.NewMotion("x", "", []governance.Member{{ID: "a", Weight: w(1)}, {ID: "a", Weight: w(1)}}, majority())
	assert.ErrorIs(t, err, governance.ErrInvalidMembers)
}
