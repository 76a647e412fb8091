package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/audit"
	"github.com/warp/waqf-engine/money"
)

// recorder fails the first failures publishes, then records.
type recorder struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	published []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failures > 0 {
		r.failures--
		return errors.New("broker unavailable")
	}
	r.published = append(r.published, ev)
	return nil
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.published...)
}

// instantTimer fires at once so retries never sleep.
type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) {
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func newDispatcher(p Publisher, cfg DispatcherConfig) *Dispatcher {
	d := NewDispatcher(p, zerolog.Nop(), cfg)
	d.timer = &instantTimer{c: make(chan time.Time, 1)}
	return d
}

func workflow() approval.Definition {
	return approval.Definition{
		ID:         "plan-approval",
		EntityType: "allocation_plan",
		Levels: []approval.Level{
			{Order: 1, RequiredRole: approval.RoleNazer},
			{Order: 2, RequiredRole: approval.RoleAccountant, AutoEscalateAfter: time.Hour},
		},
	}
}

func engineWith(t *testing.T, d *Dispatcher) (*approval.Engine, *approval.FakeClock) {
	t.Helper()
	clock := approval.NewFakeClock(time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC))
	engine := approval.NewEngine(audit.NewMemoryLog(), approval.Options{Clock: clock, Logger: zerolog.Nop()})
	engine.Observe(d)
	return engine, clock
}

func TestDispatcher_EventsFollowTransitions(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec, DispatcherConfig{})
	engine, clock := engineWith(t, d)
	ctx := context.Background()

	// GIVEN: submit, approve level 1, escalate level 2, approve level 2
	inst, err := engine.Submit(ctx, approval.SubmitRequest{
		SubjectID: "plan-9", Amount: money.FromMajor(5_000), Definition: workflow(),
		Actor: approval.Actor{ID: "n", Role: approval.RoleNazer},
	})
	require.NoError(t, err)
	_, err = engine.Decide(ctx, approval.Decision{
		InstanceID: inst.ID, Level: 1, Verdict: approval.VerdictApprove,
		Actor: approval.Actor{ID: "n", Role: approval.RoleNazer},
	})
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, escalated, err := engine.Escalate(ctx, inst.ID)
	require.NoError(t, err)
	require.True(t, escalated)
	_, err = engine.Decide(ctx, approval.Decision{
		InstanceID: inst.ID, Level: 2, Verdict: approval.VerdictApprove,
		Actor: approval.Actor{ID: "root", Role: approval.RoleAdmin},
	})
	require.NoError(t, err)

	// WHEN: dispatching
	assert.Equal(t, 4, d.DispatchOnce(ctx))

	// THEN: one notification per transition, in order
	got := rec.events()
	require.Len(t, got, 4)

	assert.Equal(t, KindLevelPending, got[0].Kind)
	assert.Equal(t, 1, got[0].LevelOrder)
	assert.Equal(t, "nazer", got[0].ActorRole)
	assert.Equal(t, "plan-9", got[0].SubjectID)

	assert.Equal(t, KindLevelPending, got[1].Kind)
	assert.Equal(t, 2, got[1].LevelOrder)
	assert.Equal(t, "accountant", got[1].ActorRole)

	assert.Equal(t, KindEscalated, got[2].Kind)
	assert.Equal(t, "admin", got[2].ActorRole)

	assert.Equal(t, KindApproved, got[3].Kind)

	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.Sequence)
		assert.Equal(t, IdempotencyKey(inst.ID, ev.TransitionID), ev.IdempotencyKey)
	}
	assert.Equal(t, Stats{Published: 4}, d.Stats())
}

func TestDispatcher_RetriesThenDelivers(t *testing.T) {
	rec := &recorder{failures: 2}
	d := newDispatcher(rec, DispatcherConfig{MaxAttempts: 3})
	ev := Event{Kind: KindRejected, InstanceID: "i-1", TransitionID: "t-1", IdempotencyKey: IdempotencyKey("i-1", "t-1")}

	require.NoError(t, d.Enqueue(ev))
	d.DispatchOnce(context.Background())

	assert.Equal(t, 3, rec.attempts)
	assert.Len(t, rec.events(), 1)
	assert.Empty(t, d.Failed())
}

func TestDispatcher_ExhaustedAttemptsAreKeptForRetry(t *testing.T) {
	rec := &recorder{failures: 3}
	d := newDispatcher(rec, DispatcherConfig{MaxAttempts: 2})
	ev := Event{Kind: KindCancelled, InstanceID: "i-1", TransitionID: "t-9", IdempotencyKey: IdempotencyKey("i-1", "t-9")}

	// WHEN: both attempts fail
	require.NoError(t, d.Enqueue(ev))
	d.DispatchOnce(context.Background())

	// THEN: the event waits in the failed set
	assert.Equal(t, 1, d.Stats().Failed)
	require.Len(t, d.Failed(), 1)

	// a retry pass picks it up once the broker recovers
	assert.Equal(t, 1, d.Retry())
	d.DispatchOnce(context.Background())
	assert.Len(t, rec.events(), 1)
	assert.Empty(t, d.Failed())
}

func TestDispatcher_DeduplicatesByIdempotencyKey(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec, DispatcherConfig{DedupeWindow: 2})
	mk := func(id string) Event {
		return Event{Kind: KindApproved, InstanceID: "i", TransitionID: id, IdempotencyKey: IdempotencyKey("i", id)}
	}

	for _, ev := range []Event{mk("a"), mk("a"), mk("b"), mk("a")} {
		require.NoError(t, d.Enqueue(ev))
	}
	d.DispatchOnce(context.Background())
	assert.Len(t, rec.events(), 2)
	assert.Equal(t, 2, d.Stats().Duplicates)

	// "a" falls out of a window of two
	require.NoError(t, d.Enqueue(mk("c")))
	require.NoError(t, d.Enqueue(mk("a")))
	d.DispatchOnce(context.Background())
	assert.Len(t, rec.events(), 4)
}

func TestDispatcher_QueueFullDoesNotBlock(t *testing.T) {
	d := newDispatcher(&recorder{}, DispatcherConfig{QueueSize: 1})
	require.NoError(t, d.Enqueue(Event{InstanceID: "a"}))
	assert.ErrorIs(t, d.Enqueue(Event{InstanceID: "b"}), ErrQueueFull)
}

func TestDispatcher_QueueOverflowIsRetried(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec, DispatcherConfig{QueueSize: 1})
	mk := func(id string) Event {
		return Event{Kind: KindApproved, InstanceID: "i", TransitionID: id, IdempotencyKey: IdempotencyKey("i", id)}
	}

	// GIVEN: a second event arrives while the queue is full
	require.NoError(t, d.Enqueue(mk("a")))
	require.ErrorIs(t, d.Enqueue(mk("b")), ErrQueueFull)

	// THEN: the overflow is held, not lost
	require.Len(t, d.Failed(), 1)
	assert.Equal(t, "b", d.Failed()[0].TransitionID)
	assert.Equal(t, 1, d.Stats().Failed)

	// WHEN: the queue drains and a retry pass runs
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))
	assert.Equal(t, 1, d.Retry())
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))

	// THEN: both were delivered
	got := rec.events()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].TransitionID)
	assert.Equal(t, "b", got[1].TransitionID)
	assert.Empty(t, d.Failed())
}

func TestDispatcher_RetryKeepsWhatStillDoesNotFit(t *testing.T) {
	d := newDispatcher(&recorder{}, DispatcherConfig{QueueSize: 1})
	require.NoError(t, d.Enqueue(Event{InstanceID: "a"}))
	require.Error(t, d.Enqueue(Event{InstanceID: "b"}))

	// queue still holds "a"
	assert.Zero(t, d.Retry())
	assert.Len(t, d.Failed(), 1)
	assert.Equal(t, 1, d.Stats().Failed)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	d := newDispatcher(rec, DispatcherConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Enqueue(Event{Kind: KindApproved, IdempotencyKey: "x:1"}))
	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNATSPublisher_Message(t *testing.T) {
	p := NewNATSPublisher(nil, "", zerolog.Nop())
	ev := Event{Kind: KindEscalated, InstanceID: "i-1", TransitionID: "t-2", IdempotencyKey: "i-1:t-2"}

	msg, err := p.message(ev)
	require.NoError(t, err)
	assert.Equal(t, "notifications.waqf.escalated", msg.Subject)
	assert.Equal(t, "i-1:t-2", msg.Header.Get("Nats-Msg-Id"))
	assert.Contains(t, string(msg.Data), `"event":"escalated"`)

	assert.Error(t, p.Publish(context.Background(), ev))
}

func TestDispatcher_BackOffSchedule(t *testing.T) {
	d := NewDispatcher(&recorder{}, zerolog.Nop(), DispatcherConfig{MaxAttempts: 4, Backoff: 100 * time.Millisecond})

	// three waits between four attempts, doubling with jitter
	b := d.newBackOff(context.Background())
	for i := 0; i < 3; i++ {
		base := 100 * time.Millisecond << i
		next := b.NextBackOff()
		assert.GreaterOrEqual(t, next, base/2)
		assert.LessOrEqual(t, next, base+base/2)
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	// a cancelled context stops at once
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, backoff.Stop, d.newBackOff(ctx).NextBackOff())
}

func TestDispatcher_ZeroBackoffRetriesImmediately(t *testing.T) {
	rec := &recorder{failures: 1}
	d := NewDispatcher(rec, zerolog.Nop(), DispatcherConfig{MaxAttempts: 2})

	require.NoError(t, d.Enqueue(Event{Kind: KindApproved, IdempotencyKey: "i:1"}))
	d.DispatchOnce(context.Background())

	assert.Equal(t, 2, rec.attempts)
	assert.Len(t, rec.events(), 1)
}
