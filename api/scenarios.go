/*
scenarios.go - Demo roster loaders for development and demonstrations

PURPOSE:

	Provides pre-built rosters so a fresh database can run a distribution
	straight away. Each scenario registers beneficiaries and, where it
	shows loan handling, installments due from their shares.

AVAILABLE SCENARIOS:

	family-waqf:  heirs (son, daughter, spouse) and two ordinary tiers
	loan-arrears: an ordinary member whose installment exceeds the share

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "family-waqf"}

NOTE:

	Scenarios add to the roster; they do not reset the database. Loading the
	same scenario twice in one process is refused so installments are not
	recorded twice. Only routed when RouterOptions.EnableScenarios is set.

SEE ALSO:
  - cmd/simulate: the same rosters offline
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/waqf-engine/distribution"
	"github.com/warp/waqf-engine/money"
	"github.com/warp/waqf-engine/waqf"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario is a demo roster.
type Scenario struct {
	ScenarioDTO
	RegisteredAt  time.Time
	Beneficiaries []distribution.Beneficiary
	Installments  []distribution.Installment
}

var scenarioRegistered = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Scenarios lists the built-in demo rosters.
func Scenarios() []Scenario {
	return []Scenario{
		{
			ScenarioDTO: ScenarioDTO{
				ID:          "family-waqf",
				Name:        "Family Waqf",
				Description: "Three heirs, two priority tiers, one student loan",
			},
			RegisteredAt: scenarioRegistered,
			Beneficiaries: []distribution.Beneficiary{
				{ID: "heir-son", Name: "Yusuf", Category: distribution.CategoryHeir, HeirType: distribution.HeirSon, IsActive: true},
				{ID: "heir-daughter", Name: "Maryam", Category: distribution.CategoryHeir, HeirType: distribution.HeirDaughter, IsActive: true},
				{ID: "heir-spouse", Name: "Khadija", Category: distribution.CategoryHeir, HeirType: distribution.HeirSpouse, IsActive: true},
				{ID: "ord-widow", Name: "Amina", Category: distribution.CategoryOrdinary, PriorityLevel: 1, IsActive: true},
				{ID: "ord-orphan", Name: "Bilal", Category: distribution.CategoryOrdinary, PriorityLevel: 1, IsActive: true},
				{ID: "ord-student", Name: "Hassan", Category: distribution.CategoryOrdinary, PriorityLevel: 2, IsActive: true},
			},
			Installments: []distribution.Installment{
				{LoanID: "study-loan-1", BeneficiaryID: "ord-student", Amount: money.FromMajor(2_500), DueDate: scenarioRegistered.AddDate(1, 0, 0)},
			},
		},
		{
			ScenarioDTO: ScenarioDTO{
				ID:          "loan-arrears",
				Name:        "Loan Arrears",
				Description: "A tier-1 member owes more than the share covers",
			},
			RegisteredAt: scenarioRegistered,
			Beneficiaries: []distribution.Beneficiary{
				{ID: "la-heir", Name: "Omar", Category: distribution.CategoryHeir, HeirType: distribution.HeirSon, IsActive: true},
				{ID: "la-debtor", Name: "Zaid", Category: distribution.CategoryOrdinary, PriorityLevel: 1, IsActive: true},
				{ID: "la-needy", Name: "Huda", Category: distribution.CategoryOrdinary, PriorityLevel: 1, IsActive: true},
			},
			Installments: []distribution.Installment{
				{LoanID: "housing-loan-7", BeneficiaryID: "la-debtor", Amount: money.FromMajor(1_000_000), DueDate: scenarioRegistered.AddDate(1, 0, 0)},
			},
		},
	}
}

// LoadInto registers the scenario's roster in store.
func (s Scenario) LoadInto(ctx context.Context, store waqf.RosterStore) error {
	for _, b := range s.Beneficiaries {
		if err := store.SaveBeneficiary(ctx, b, s.RegisteredAt); err != nil {
			return fmt.Errorf("scenario %s: %w", s.ID, err)
		}
	}
	for _, inst := range s.Installments {
		if err := store.AddInstallment(ctx, inst); err != nil {
			return fmt.Errorf("scenario %s: %w", s.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(Scenarios()))
	for _, s := range Scenarios() {
		out = append(out, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario registers a demo roster.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, s := range Scenarios() {
		if s.ID != req.ScenarioID {
			continue
		}
		if _, loaded := h.scenarios.LoadOrStore(s.ID, true); loaded {
			writeError(w, http.StatusConflict, "scenario already loaded", nil)
			return
		}
		if err := s.LoadInto(r.Context(), h.roster); err != nil {
			h.scenarios.Delete(s.ID)
			h.respondError(w, r, err)
			return
		}
		h.log.Info().Str("scenario", s.ID).Int("beneficiaries", len(s.Beneficiaries)).Msg("scenario loaded")
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeError(w, http.StatusNotFound, "unknown scenario", nil)
}
