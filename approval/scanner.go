/*
scanner.go - Periodic escalation scanner

PURPOSE:
  Finds pending instances whose current level passed its escalation
  timeout and escalates them through the engine.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Reads instances read-only; the only write is Engine.Escalate
  - Safe to run more than once for the same instance: a second
    escalation at the same level is a no-op
  - With several replicas, a Lease makes sure only one scans per tick

USAGE:
  scanner := NewScanner(engine, logger)
  scanner.Lease = NewRedisLease(redisClient, "waqf:escalation-scan", time.Minute)
  scanner.Start()
  // ... later
  scanner.Stop()

SEE ALSO:
  - engine.go: Escalate and Overdue
  - lease.go: redis-backed lease
*/
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lease guards one scan across replicas. Acquire returns ErrLeaseHeld when
// another holder has it.
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// ErrLeaseHeld is returned by a Lease already held elsewhere.
var ErrLeaseHeld = errors.New("lease held by another scanner")

// ScanResult summarizes one pass.
type ScanResult struct {
	Checked   int
	Escalated int
	Failed    int
	Skipped   bool
}

// Scanner escalates overdue approvals on a fixed cadence.
type Scanner struct {
	Engine        *Engine
	CheckInterval time.Duration
	Enabled       bool
	Lease         Lease

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScanner creates a scanner with a 5 minute interval.
func NewScanner(engine *Engine, log zerolog.Logger) *Scanner {
	return &Scanner{
		Engine:        engine,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		log:           log.With().Str("component", "escalation_scanner").Logger(),
	}
}

// Start begins scanning in the background.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.Info().Dur("interval", s.CheckInterval).Msg("started")
}

// Stop halts the background loop and waits for an in-flight scan.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info().Msg("stopped")
}

func (s *Scanner) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one scan immediately.
func (s *Scanner) RunNow(ctx context.Context) ScanResult {
	var result ScanResult

	if s.Lease != nil {
		release, err := s.Lease.Acquire(ctx)
		if errors.Is(err, ErrLeaseHeld) {
			s.log.Debug().Msg("another scanner holds the lease, skipping")
			result.Skipped = true
			return result
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("could not acquire scan lease, skipping")
			result.Skipped = true
			return result
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("release scan lease")
			}
		}()
	}

	ids := s.Engine.Overdue(s.Engine.Now())
	result.Checked = len(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		_, escalated, err := s.Engine.Escalate(ctx, id)
		switch {
		case errors.Is(err, ErrInstanceTerminal):
			// decided between Overdue and Escalate
		case err != nil:
			result.Failed++
			s.log.Error().Err(err).Str("instance_id", id).Msg("escalation failed")
		case escalated:
			result.Escalated++
		}
	}

	if result.Escalated > 0 || result.Failed > 0 {
		s.log.Info().
			Int("checked", result.Checked).
			Int("escalated", result.Escalated).
			Int("failed", result.Failed).
			Msg("scan completed")
	}
	return result
}
