/*
handlers.go - HTTP API handlers for the waqf distribution engine

PURPOSE:
  Exposes the distribution service, the approval engine and board voting
  via REST. Handles HTTP request/response, JSON serialization and
  validation, and delegates to domain logic.

ENDPOINTS:
  Roster:
    GET    /api/beneficiaries                   List roster as of ?as_of=
    POST   /api/beneficiaries                   Create or replace a member
    GET    /api/beneficiaries/{id}              Get a member
    POST   /api/beneficiaries/{id}/installments Add a loan installment

  Plans:
    GET    /api/plans                Plans, optionally ?status=
    POST   /api/plans/preview        Compute without saving
    POST   /api/plans                Compute, save and submit for approval
    GET    /api/plans/{id}           Get a plan
    GET    /api/plans/{id}/journal   Posted journal entry
    POST   /api/plans/{id}/payout    Post a missed payout (idempotent)

  Approvals (approvals.go), motions (motions.go), scenarios (scenarios.go).

ERROR HANDLING:
  Errors are returned as JSON with the HTTP status of their class:
  - 400: malformed body, failed validation
  - 403: actor lacks the role or is not the assignee
  - 404: unknown plan, beneficiary, instance or motion
  - 409: state conflict; retryable=true for concurrent modification
  - 422: domain rule violated (policy, succession, funds, terms)
  - 500: internal inconsistency or storage failure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - waqf/service.go: the orchestration behind plan endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/audit"
	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/factory"
	"github.com/warp/waqf-engine/governance"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// TermsSource resolves named distribution terms. factory.Catalog is one.
type TermsSource interface {
	Terms(id string) (waqf.Terms, error)
	TermIDs() []string
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Service *waqf.Service
	Engine  *approval.Engine
	Roster  waqf.RosterStore
	Audit   audit.Log

	// Terms may be nil, in which case only the standard terms exist.
	Terms        TermsSource
	DefaultTerms string

	// Scanner backs the manual escalation endpoint; optional.
	Scanner *approval.Scanner
	// Ping checks storage for /api/health; optional.
	Ping func(ctx context.Context) error

	Logger zerolog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	service      *waqf.Service
	engine       *approval.Engine
	roster       waqf.RosterStore
	audit        audit.Log
	terms        TermsSource
	defaultTerms string
	scanner      *approval.Scanner
	ping         func(ctx context.Context) error
	motions      *motionRegistry
	scenarios    sync.Map
	log          zerolog.Logger
}

// NewHandler creates a handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Service == nil || deps.Engine == nil || deps.Roster == nil || deps.Audit == nil {
		return nil, errors.New("api: service, engine, roster and audit log are required")
	}
	if deps.DefaultTerms == "" {
		deps.DefaultTerms = standardTermsID
	}
	return &Handler{
		service:      deps.Service,
		engine:       deps.Engine,
		roster:       deps.Roster,
		audit:        deps.Audit,
		terms:        deps.Terms,
		defaultTerms: deps.DefaultTerms,
		scanner:      deps.Scanner,
		ping:         deps.Ping,
		motions:      newMotionRegistry(),
		log:          deps.Logger.With().Str("component", "api").Logger(),
	}, nil
}

// standardTermsID names waqf.StandardTerms when no catalog is configured.
const standardTermsID = "default"

func (h *Handler) resolveTerms(id string) (waqf.Terms, error) {
	if id == "" {
		id = h.defaultTerms
	}
	if h.terms != nil {
		return h.terms.Terms(id)
	}
	if id == standardTermsID {
		return waqf.StandardTerms(), nil
	}
	return waqf.Terms{}, fmt.Errorf("%w: no terms %q", factory.ErrInvalidDocument, id)
}

// =============================================================================
// HEALTH AND TERMS
// =============================================================================

// Health reports liveness and, when configured, storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListTerms returns the configured term IDs and the default.
func (h *Handler) ListTerms(w http.ResponseWriter, r *http.Request) {
	ids := []string{standardTermsID}
	if h.terms != nil {
		ids = h.terms.TermIDs()
	}
	writeJSON(w, http.StatusOK, TermsDTO{Default: h.defaultTerms, IDs: ids})
}

// =============================================================================
// ROSTER HANDLERS
// =============================================================================

// ListBeneficiaries returns the roster as of ?as_of= (default now).
func (h *Handler) ListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	asOf := h.engine.Now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid as_of", err)
			return
		}
		asOf = t
	}
	roster, err := h.roster.LoadRoster(r.Context(), asOf)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if roster == nil {
		roster = []distribution.Beneficiary{}
	}
	writeJSON(w, http.StatusOK, roster)
}

// SaveBeneficiary creates or replaces a roster member.
func (h *Handler) SaveBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req SaveBeneficiaryRequest
	if !h.decode(w, r, &req) {
		return
	}
	registered := today(h.engine.Now())
	if req.RegisteredAt != "" {
		t, err := parseDate(req.RegisteredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid registered_at", err)
			return
		}
		registered = t
	}
	b := req.beneficiary()
	if b.Category == distribution.CategoryHeir && b.HeirType == "" {
		writeError(w, http.StatusBadRequest, "heir_type is required for heirs", nil)
		return
	}
	if err := h.roster.SaveBeneficiary(r.Context(), b, registered); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.log.Info().Str("beneficiary_id", string(b.ID)).Str("category", string(b.Category)).Msg("beneficiary saved")
	writeJSON(w, http.StatusCreated, b)
}

// GetBeneficiary returns one roster member.
func (h *Handler) GetBeneficiary(w http.ResponseWriter, r *http.Request) {
	id := distribution.BeneficiaryID(chi.URLParam(r, "id"))
	b, err := h.roster.GetBeneficiary(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// AddInstallment records a loan installment due from a member's share.
func (h *Handler) AddInstallment(w http.ResponseWriter, r *http.Request) {
	var req AddInstallmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due_date", err)
		return
	}
	inst := distribution.Installment{
		LoanID:        req.LoanID,
		BeneficiaryID: distribution.BeneficiaryID(chi.URLParam(r, "id")),
		Amount:        req.Amount,
		DueDate:       due,
	}
	if err := h.roster.AddInstallment(r.Context(), inst); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns plans in creation order, optionally by ?status=.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	status := distribution.PlanStatus(r.URL.Query().Get("status"))
	plans, err := h.service.Plans(r.Context(), status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if plans == nil {
		plans = []*distribution.AllocationPlan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// PreviewPlan computes a plan without saving or submitting it.
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	var req PreviewPlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, ok := h.runRequest(w, req.AsOf, req.Terms)
	if !ok {
		return
	}
	run.GrossRevenue = req.GrossRevenue

	plan, err := h.service.Preview(r.Context(), run)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// RunPlan computes, saves and submits a plan for approval.
func (h *Handler) RunPlan(w http.ResponseWriter, r *http.Request) {
	var req RunPlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	run, ok := h.runRequest(w, req.AsOf, req.Terms)
	if !ok {
		return
	}
	run.GrossRevenue = req.GrossRevenue
	run.Actor = req.Actor.actor()

	res, err := h.service.Run(r.Context(), run)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RunResultDTO{Plan: res.Plan, Approval: res.Instance})
}

func (h *Handler) runRequest(w http.ResponseWriter, asOf, termsID string) (waqf.RunRequest, bool) {
	var run waqf.RunRequest
	if asOf != "" {
		t, err := parseDate(asOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid as_of", err)
			return run, false
		}
		run.AsOf = t
	}
	terms, err := h.resolveTerms(termsID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unknown terms", err)
		return run, false
	}
	run.Terms = terms
	return run, true
}

// GetPlan returns one plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.Plan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// GetJournal returns the posted journal entry of an approved plan.
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Journal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Payout posts the journal of an approved plan. Posting again is a no-op.
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.Payout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// =============================================================================
// ADMIN
// =============================================================================

// ScanEscalations runs one escalation pass now.
func (h *Handler) ScanEscalations(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "escalation scanner not configured", nil)
		return
	}
	res := h.scanner.RunNow(r.Context())
	writeJSON(w, http.StatusOK, ScanResultDTO{
		Checked:   res.Checked,
		Escalated: res.Escalated,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", fmt.Errorf("%w: %w", ErrBodyParseFailed, err))
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// respondError maps a domain error to its HTTP status.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	resp := ErrorResponse{Error: message, Details: err.Error(), Retryable: approval.IsRetryable(err)}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case distribution.IsFatal(err):
		return http.StatusInternalServerError, "internal inconsistency"
	case waqf.IsNotFound(err), errors.Is(err, errMotionNotFound):
		return http.StatusNotFound, "not found"
	case approval.IsForbidden(err),
		errors.Is(err, governance.ErrNotTieBreaker),
		errors.Is(err, governance.ErrNotEligible):
		return http.StatusForbidden, "forbidden"
	case approval.IsConflict(err),
		errors.Is(err, waqf.ErrDuplicatePlan),
		errors.Is(err, waqf.ErrPlanNotApproved),
		errors.Is(err, waqf.ErrPlanFinalized),
		errors.Is(err, governance.ErrMotionClosed),
		errors.Is(err, governance.ErrAlreadyVoted),
		errors.Is(err, governance.ErrNoTie):
		return http.StatusConflict, "conflict"
	case waqf.IsClientError(err),
		errors.Is(err, factory.ErrInvalidDocument),
		errors.Is(err, governance.ErrInvalidRules),
		errors.Is(err, governance.ErrInvalidMembers),
		errors.Is(err, governance.ErrInvalidChoice):
		return http.StatusUnprocessableEntity, "request rejected"
	}
	return http.StatusInternalServerError, "internal error"
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// today truncates to the UTC date so members registered today are part of
// a run dated today.
func today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
