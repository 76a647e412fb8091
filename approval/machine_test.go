package approval_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/audit"
)

func TestTransitionTable_Exhaustive(t *testing.T) {
	statuses := []approval.Status{
		approval.StatusNone, approval.StatusPending,
		approval.StatusApproved, approval.StatusRejected, approval.StatusCancelled,
	}
	events := []audit.Event{
		audit.EventSubmitted, audit.EventAutoApproved, audit.EventLevelApproved,
		audit.EventLevelSkipped, audit.EventRejected, audit.EventEscalated, audit.EventCancelled,
	}

	type edge struct {
		from  approval.Status
		event audit.Event
		to    approval.Status
	}
	allowed := map[edge]bool{
		{approval.StatusNone, audit.EventSubmitted, approval.StatusPending}:         true,
		{approval.StatusNone, audit.EventAutoApproved, approval.StatusApproved}:     true,
		{approval.StatusPending, audit.EventLevelApproved, approval.StatusPending}:  true,
		{approval.StatusPending, audit.EventLevelApproved, approval.StatusApproved}: true,
		{approval.StatusPending, audit.EventLevelSkipped, approval.StatusPending}:   true,
		{approval.StatusPending, audit.EventLevelSkipped, approval.StatusApproved}:  true,
		{approval.StatusPending, audit.EventRejected, approval.StatusRejected}:      true,
		{approval.StatusPending, audit.EventEscalated, approval.StatusPending}:      true,
		{approval.StatusPending, audit.EventCancelled, approval.StatusCancelled}:    true,
	}

	for _, from := range statuses {
		for _, ev := range events {
			for _, to := range statuses {
				want := allowed[edge{from, ev, to}]
				assert.Equal(t, want, approval.CanTransition(from, ev, to), "%q -(%s)-> %q", from, ev, to)
			}
		}
	}

	for _, terminal := range []approval.Status{approval.StatusApproved, approval.StatusRejected, approval.StatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		for _, ev := range events {
			for _, to := range statuses {
				assert.False(t, approval.CanTransition(terminal, ev, to))
			}
		}
	}
}

func TestRole_ClosedEnum(t *testing.T) {
	for _, r := range approval.Roles() {
		parsed, err := approval.ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
	}

	_, err := approval.ParseRole("superuser")
	assert.ErrorIs(t, err, approval.ErrUnknownRole)

	r, err := approval.ParseRole(" Accountant ")
	require.NoError(t, err)
	assert.Equal(t, approval.RoleAccountant, r)

	b, err := json.Marshal(approval.Actor{ID: "x", Role: approval.RoleBoardChair})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","role":"board_chair"}`, string(b))

	var actor approval.Actor
	require.Error(t, json.Unmarshal([]byte(`{"id":"x","role":"janitor"}`), &actor))
}

// =============================================================================
// REPLAY
// =============================================================================

func TestReplay_ReconstructsIdenticalState(t *testing.T) {
	scenarios := map[string]func(f *fixture, inst *approval.Instance){
		"approved through three levels": func(f *fixture, inst *approval.Instance) {
			inst, _ = f.decide(inst, 1, nazer, approval.VerdictApprove)
			f.clock.Advance(time.Hour)
			inst, _ = f.decide(inst, 2, accountant, approval.VerdictApprove)
			f.decide(inst, 3, chair, approval.VerdictApprove)
		},
		"skipped then rejected": func(f *fixture, inst *approval.Instance) {
			inst, _ = f.decide(inst, 1, nazer, approval.VerdictApprove)
			inst, _ = f.engine.Skip(context.Background(), approval.SkipRequest{InstanceID: inst.ID, Level: 2, Actor: accountant})
			f.decide(inst, 3, chair, approval.VerdictReject)
		},
		"escalated then cancelled": func(f *fixture, inst *approval.Instance) {
			f.decide(inst, 1, nazer, approval.VerdictApprove)
			f.clock.Advance(72 * time.Hour)
			f.engine.Escalate(context.Background(), inst.ID)
			f.engine.Cancel(context.Background(), approval.CancelRequest{InstanceID: inst.ID, Actor: admin, Reason: "policy changed"})
		},
		"still pending": func(f *fixture, inst *approval.Instance) {},
	}

	for name, run := range scenarios {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			inst := f.submit(t, 150_000)
			run(f, inst)

			live, err := f.engine.Get(inst.ID)
			require.NoError(t, err)

			entries, err := f.log.ForInstance(context.Background(), inst.ID)
			require.NoError(t, err)
			assert.Equal(t, live.Version, int64(len(entries)))

			replayed, err := approval.Replay(entries, distributionWorkflow())
			require.NoError(t, err)
			assert.Equal(t, live, replayed)

			// twice gives the same answer
			again, err := approval.Replay(entries, distributionWorkflow())
			require.NoError(t, err)
			assert.Equal(t, replayed, again)
		})
	}
}

func TestReplay_RejectsInvalidTrails(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.submit(t, 150_000)
	inst, err := f.decide(inst, 1, nazer, approval.VerdictApprove)
	require.NoError(t, err)
	_, err = f.decide(inst, 2, accountant, approval.VerdictReject)
	require.NoError(t, err)

	entries, _ := f.log.ForInstance(context.Background(), inst.ID)
	require.Len(t, entries, 3)

	_, err = approval.Replay(nil, distributionWorkflow())
	assert.ErrorIs(t, err, approval.ErrInvalidAuditTrail)

	// missing middle entry
	_, err = approval.Replay([]audit.Entry{entries[0], entries[2]}, distributionWorkflow())
	assert.ErrorIs(t, err, approval.ErrInvalidAuditTrail)

	// an approval appended after the terminal rejection
	after := entries[1]
	after.Sequence = 4
	after.FromStatus = string(approval.StatusRejected)
	_, err = approval.Replay(append(entries, after), distributionWorkflow())
	assert.ErrorIs(t, err, approval.ErrInvalidAuditTrail)

	// wrong definition
	other := distributionWorkflow()
	other.ID = "other"
	_, err = approval.Replay(entries, other)
	assert.ErrorIs(t, err, approval.ErrInvalidAuditTrail)
}

func TestRestoreFromLog(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.submit(t, 50_000)
	_, err := f.decide(inst, 1, nazer, approval.VerdictApprove)
	require.NoError(t, err)
	live, _ := f.engine.Get(inst.ID)

	// a fresh engine over the same log, as after a restart
	restarted := approval.NewEngine(f.log, approval.Options{Clock: f.clock})
	restored, err := restarted.RestoreFromLog(context.Background(), inst.ID, distributionWorkflow())
	require.NoError(t, err)
	assert.Equal(t, live, restored)

	err = restarted.Restore(restored, distributionWorkflow())
	assert.ErrorIs(t, err, approval.ErrDuplicateInstance)

	// and it keeps going, appending after the replayed sequence
	done, err := restarted.Decide(context.Background(), approval.Decision{
		InstanceID: inst.ID, Level: 2, Actor: accountant, Verdict: approval.VerdictApprove, ExpectedVersion: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, done.Status)
	assert.Equal(t, 3, f.log.Len())
}
