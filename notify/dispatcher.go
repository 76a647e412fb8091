package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/warp/waqf-engine/approval"
)

// ErrQueueFull is returned when the dispatcher cannot accept more events.
var ErrQueueFull = errors.New("notification queue full")

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	// DedupeWindow is how many delivered keys are remembered.
	DedupeWindow int
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:    1024,
		MaxAttempts:  5,
		Backoff:      200 * time.Millisecond,
		DedupeWindow: 10_000,
	}
}

func (c *DispatcherConfig) normalize() {
	d := DefaultDispatcherConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = d.DedupeWindow
	}
}

// Stats counts dispatch outcomes since start.
type Stats struct {
	Published  int
	Failed     int
	Duplicates int
}

// Dispatcher queues transition events and delivers them with retries. It
// is an approval.Observer: OnTransition only enqueues, so a slow or broken
// publisher never holds up a transition.
type Dispatcher struct {
	publisher Publisher
	log       zerolog.Logger
	cfg       DispatcherConfig
	queue     chan Event

	mu        sync.Mutex
	delivered map[string]struct{}
	order     []string
	failed    []Event
	stats     Stats

	// timer paces retries; nil uses real timers.
	timer backoff.Timer
}

var _ approval.Observer = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over publisher.
func NewDispatcher(publisher Publisher, log zerolog.Logger, cfg DispatcherConfig) *Dispatcher {
	cfg.normalize()
	return &Dispatcher{
		publisher: publisher,
		log:       log.With().Str("component", "notify").Logger(),
		cfg:       cfg,
		queue:     make(chan Event, cfg.QueueSize),
		delivered: make(map[string]struct{}),
	}
}

// OnTransition enqueues the transition's notification.
func (d *Dispatcher) OnTransition(ctx context.Context, t approval.Transition) error {
	ev, ok := FromTransition(t)
	if !ok {
		return nil
	}
	return d.Enqueue(ev)
}

// Enqueue adds an event without blocking. When the queue is full the event
// goes to the failed set, so a later Retry still delivers it, and
// ErrQueueFull is returned.
func (d *Dispatcher) Enqueue(ev Event) error {
	if d.offer(ev) {
		return nil
	}
	d.mu.Lock()
	d.stats.Failed++
	d.failed = append(d.failed, ev)
	d.mu.Unlock()
	return fmt.Errorf("%w: %s for %s held for retry", ErrQueueFull, ev.Kind, ev.InstanceID)
}

func (d *Dispatcher) offer(ev Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		return false
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Int("queue_size", d.cfg.QueueSize).Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Int("pending", len(d.queue)).Msg("dispatcher stopped")
			return nil
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

// DispatchOnce delivers everything currently queued and returns how many
// events it took off the queue.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	n := 0
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
			n++
		default:
			return n
		}
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Failed returns events that exhausted their attempts.
func (d *Dispatcher) Failed() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.failed...)
}

// Retry re-queues failed events.
func (d *Dispatcher) Retry() int {
	d.mu.Lock()
	failed := d.failed
	d.failed = nil
	d.mu.Unlock()

	n := 0
	for _, ev := range failed {
		if !d.offer(ev) {
			d.mu.Lock()
			d.failed = append(d.failed, ev)
			d.mu.Unlock()
			continue
		}
		n++
	}
	return n
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	if d.seen(ev.IdempotencyKey) {
		d.mu.Lock()
		d.stats.Duplicates++
		d.mu.Unlock()
		return
	}

	attempts := 0
	publish := func() error {
		attempts++
		return d.publisher.Publish(ctx, ev)
	}
	onRetry := func(err error, next time.Duration) {
		d.log.Debug().Err(err).
			Str("event", string(ev.Kind)).
			Str("instance_id", ev.InstanceID).
			Dur("retry_in", next).
			Msg("publish failed, retrying")
	}
	err := backoff.RetryNotifyWithTimer(publish, d.newBackOff(ctx), onRetry, d.timer)
	if err == nil {
		d.markDelivered(ev.IdempotencyKey)
		d.log.Debug().
			Str("event", string(ev.Kind)).
			Str("instance_id", ev.InstanceID).
			Int("attempt", attempts).
			Msg("notification published")
		return
	}
	lastErr := fmt.Errorf("publish failed after %d/%d attempts: %w", attempts, d.cfg.MaxAttempts, err)

	d.mu.Lock()
	d.stats.Failed++
	d.failed = append(d.failed, ev)
	d.mu.Unlock()
	d.log.Error().Err(lastErr).
		Str("event", string(ev.Kind)).
		Str("instance_id", ev.InstanceID).
		Str("idempotency_key", ev.IdempotencyKey).
		Msg("notification delivery failed")
}

func (d *Dispatcher) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.delivered[key]
	return ok
}

func (d *Dispatcher) markDelivered(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Published++
	d.delivered[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.cfg.DedupeWindow {
		delete(d.delivered, d.order[0])
		d.order = d.order[1:]
	}
}

// newBackOff is the retry schedule of one delivery: exponential from
// cfg.Backoff with 50% jitter, MaxAttempts publishes at most, cut short
// when ctx ends.
func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.Backoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)
}
