/*
service.go - Distribution runs from roster to payout

PURPOSE:
  Ties the pure calculator and the approval engine to storage and to the
  journal collaborator.

FLOW:
  Run(terms, gross, asOf)
    ├─ load roster + active installments as of asOf
    ├─ ComputePlan                 (nothing persisted on error)
    ├─ SavePlan                    status draft
    └─ engine.Submit               subject = plan id, amount = distributable
         │                         (on error the draft is discarded)
         │
         └─ OnTransition (every committed transition)
              ├─ SaveInstance      version-guarded
              ├─ UpdatePlanStatus  pending_approval / approved / rejected / cancelled
              └─ Payout            on approved: one balanced journal entry

  Payout is idempotent on plan id. Restore reloads instances after a
  restart and posts journals for approved plans that missed theirs.

SEE ALSO:
  - store.go: storage contracts
  - presets.go: standard terms
*/
package waqf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
)

// Deps are the collaborators of a Service. Instances and Payouts may be nil.
type Deps struct {
	Roster     distribution.Roster
	Plans      PlanStore
	Instances  InstanceStore
	Payouts    PayoutSink
	Engine     *approval.Engine
	Calculator *distribution.Calculator
	Logger     zerolog.Logger
}

// RunRequest starts one distribution run.
type RunRequest struct {
	AsOf         time.Time
	GrossRevenue money.Money
	Terms        Terms
	Actor        approval.Actor
}

// RunResult is the saved plan and its approval instance.
type RunResult struct {
	Plan     *distribution.AllocationPlan
	Instance *approval.Instance
}

// Service orchestrates distribution runs.
type Service struct {
	roster    distribution.Roster
	plans     PlanStore
	instances InstanceStore
	payouts   PayoutSink
	engine    *approval.Engine
	calc      *distribution.Calculator
	log       zerolog.Logger
}

var _ approval.Observer = (*Service)(nil)

// NewService wires a service and registers it as an engine observer.
func NewService(deps Deps) (*Service, error) {
	if deps.Roster == nil || deps.Plans == nil || deps.Engine == nil {
		return nil, errors.New("waqf service requires a roster, a plan store and an engine")
	}
	if deps.Calculator == nil {
		deps.Calculator = distribution.NewCalculator()
	}
	s := &Service{
		roster:    deps.Roster,
		plans:     deps.Plans,
		instances: deps.Instances,
		payouts:   deps.Payouts,
		engine:    deps.Engine,
		calc:      deps.Calculator,
		log:       deps.Logger.With().Str("component", "waqf").Logger(),
	}
	deps.Engine.Observe(s)
	return s, nil
}

// Preview computes a plan without saving or submitting it.
func (s *Service) Preview(ctx context.Context, req RunRequest) (*distribution.AllocationPlan, error) {
	if err := req.Terms.Validate(); err != nil {
		return nil, err
	}
	return s.compute(ctx, req)
}

// Run computes, saves and submits a plan for approval. A submission error
// discards the saved draft.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := req.Terms.Validate(); err != nil {
		return nil, err
	}
	plan, err := s.compute(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.plans.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("save plan %s: %w", plan.ID, err)
	}

	inst, err := s.engine.Submit(ctx, approval.SubmitRequest{
		SubjectID:  plan.ID,
		Amount:     plan.DistributableAmount,
		Definition: req.Terms.Workflow,
		Actor:      req.Actor,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("plan_id", plan.ID).Msg("submission failed, discarding draft")
		if derr := s.plans.DiscardDraft(ctx, plan.ID); derr != nil {
			s.log.Error().Err(derr).Str("plan_id", plan.ID).Msg("draft not discarded")
		}
		return nil, fmt.Errorf("submit plan %s: %w", plan.ID, err)
	}

	saved, err := s.plans.GetPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("plan_id", plan.ID).
		Str("instance_id", inst.ID).
		Str("gross", plan.GrossRevenue.String()).
		Str("distributable", plan.DistributableAmount.String()).
		Int("allocations", len(plan.Allocations)).
		Msg("distribution run submitted")
	return &RunResult{Plan: saved, Instance: inst}, nil
}

func (s *Service) compute(ctx context.Context, req RunRequest) (*distribution.AllocationPlan, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.engine.Now()
	}
	roster, err := s.roster.LoadRoster(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	ids := make([]distribution.BeneficiaryID, 0, len(roster))
	for _, b := range roster {
		if b.IsActive {
			ids = append(ids, b.ID)
		}
	}
	installments, err := s.roster.LoadActiveLoanInstallments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load loan installments: %w", err)
	}

	plan, err := s.calc.ComputePlan(distribution.PlanInput{
		AsOf:         asOf,
		GrossRevenue: req.GrossRevenue,
		Policy:       req.Terms.Policy,
		Split:        req.Terms.Split,
		Priority:     req.Terms.Priority,
		Roster:       roster,
		Installments: installments,
	})
	if err != nil {
		if distribution.IsFatal(err) {
			s.log.Error().Err(err).Msg("plan failed verification, discarded")
		}
		return nil, err
	}
	return plan, nil
}

// Plan returns a saved plan.
func (s *Service) Plan(ctx context.Context, id string) (*distribution.AllocationPlan, error) {
	return s.plans.GetPlan(ctx, id)
}

// Plans lists saved plans, optionally by status.
func (s *Service) Plans(ctx context.Context, status distribution.PlanStatus) ([]*distribution.AllocationPlan, error) {
	return s.plans.ListPlans(ctx, status)
}

// Journal returns the posted journal entry of a paid plan.
func (s *Service) Journal(ctx context.Context, planID string) (distribution.JournalEntry, error) {
	if s.payouts == nil {
		return distribution.JournalEntry{}, fmt.Errorf("%w: no journal configured", ErrJournalNotFound)
	}
	return s.payouts.GetJournal(ctx, planID)
}

// =============================================================================
// APPROVAL SYNC
// =============================================================================

// OnTransition persists the instance and keeps the plan status in step.
func (s *Service) OnTransition(ctx context.Context, t approval.Transition) error {
	var errs []error
	if s.instances != nil {
		if err := s.instances.SaveInstance(ctx, t.Instance, t.Definition); err != nil {
			errs = append(errs, fmt.Errorf("save instance %s: %w", t.Instance.ID, err))
		}
	}
	if t.Definition.EntityType != EntityTypePlan {
		return errors.Join(errs...)
	}

	status, ok := planStatus(t.Instance.Status)
	if !ok {
		return errors.Join(errs...)
	}
	if err := s.plans.UpdatePlanStatus(ctx, t.Instance.SubjectID, status); err != nil {
		if errors.Is(err, ErrPlanFinalized) {
			// An earlier transition delivered after the final one.
			s.log.Debug().
				Str("plan_id", t.Instance.SubjectID).
				Int64("version", t.Instance.Version).
				Msg("stale transition ignored")
			return errors.Join(errs...)
		}
		errs = append(errs, fmt.Errorf("update plan %s: %w", t.Instance.SubjectID, err))
		return errors.Join(errs...)
	}
	if status == distribution.PlanApproved {
		if _, err := s.Payout(ctx, t.Instance.SubjectID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func planStatus(st approval.Status) (distribution.PlanStatus, bool) {
	switch st {
	case approval.StatusPending:
		return distribution.PlanPendingApproval, true
	case approval.StatusApproved:
		return distribution.PlanApproved, true
	case approval.StatusRejected:
		return distribution.PlanRejected, true
	case approval.StatusCancelled:
		return distribution.PlanCancelled, true
	}
	return "", false
}

// =============================================================================
// PAYOUT
// =============================================================================

// Payout posts the plan's journal entry. Only approved plans pay out, and
// a plan that already has an entry is not posted again.
func (s *Service) Payout(ctx context.Context, planID string) (distribution.JournalEntry, error) {
	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return distribution.JournalEntry{}, err
	}
	if plan.Status != distribution.PlanApproved {
		return distribution.JournalEntry{}, fmt.Errorf("%w: %s is %s", ErrPlanNotApproved, planID, plan.Status)
	}
	if err := distribution.VerifyPlan(plan); err != nil {
		return distribution.JournalEntry{}, err
	}

	entry := distribution.BuildJournalEntry(plan)
	if err := entry.Validate(); err != nil {
		s.log.Error().Err(err).Str("plan_id", planID).Msg("journal entry does not balance")
		return distribution.JournalEntry{}, err
	}
	if s.payouts == nil {
		return entry, nil
	}

	posted, err := s.payouts.PostJournal(ctx, entry)
	if err != nil {
		return distribution.JournalEntry{}, fmt.Errorf("post journal for %s: %w", planID, err)
	}
	if posted {
		debit, _ := entry.Totals()
		s.log.Info().
			Str("plan_id", planID).
			Int("lines", len(entry.Lines)).
			Str("total", debit.String()).
			Msg("payout posted")
	}
	return entry, nil
}

// =============================================================================
// RESTART
// =============================================================================

// Restore loads persisted instances into the engine and posts journals for
// approved plans that have none. It returns how many instances it loaded.
func (s *Service) Restore(ctx context.Context) (int, error) {
	loaded := 0
	if s.instances != nil {
		records, err := s.instances.LoadInstances(ctx)
		if err != nil {
			return 0, fmt.Errorf("load instances: %w", err)
		}
		for _, rec := range records {
			if err := s.engine.Restore(rec.Instance, rec.Definition); err != nil {
				if errors.Is(err, approval.ErrDuplicateInstance) {
					continue
				}
				return loaded, fmt.Errorf("restore %s: %w", rec.Instance.ID, err)
			}
			loaded++
		}
	}

	if s.payouts != nil {
		approved, err := s.plans.ListPlans(ctx, distribution.PlanApproved)
		if err != nil {
			return loaded, fmt.Errorf("list approved plans: %w", err)
		}
		for _, p := range approved {
			if _, err := s.payouts.GetJournal(ctx, p.ID); err == nil {
				continue
			} else if !errors.Is(err, ErrJournalNotFound) {
				return loaded, err
			}
			if _, err := s.Payout(ctx, p.ID); err != nil {
				return loaded, err
			}
		}
	}

	s.log.Info().Int("instances", loaded).Msg("state restored")
	return loaded, nil
}
