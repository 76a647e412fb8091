package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/waqf-engine/governance"
)

// =============================================================================
// MOTION REGISTRY
// =============================================================================

var errMotionNotFound = errors.New("motion not found")

// motionRegistry keeps open and closed motions for the process lifetime.
type motionRegistry struct {
	mu      sync.RWMutex
	motions map[string]*governance.Motion
}

func newMotionRegistry() *motionRegistry {
	return &motionRegistry{motions: make(map[string]*governance.Motion)}
}

func (m *motionRegistry) add(motion *governance.Motion) {
	m.mu.Lock()
	m.motions[motion.ID] = motion
	m.mu.Unlock()
}

func (m *motionRegistry) get(id string) (*governance.Motion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	motion, ok := m.motions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errMotionNotFound, id)
	}
	return motion, nil
}

// =============================================================================
// MOTION HANDLERS
// =============================================================================

// CreateMotion opens a weighted board vote.
func (h *Handler) CreateMotion(w http.ResponseWriter, r *http.Request) {
	var req CreateMotionRequest
	if !h.decode(w, r, &req) {
		return
	}
	rules := governance.Rules{Quorum: req.Quorum, Approval: req.Approval, TieBreakRole: req.TieBreakRole}
	motion, err := governance.NewMotion(uuid.NewString(), req.Title, req.members(), rules)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.motions.add(motion)
	h.log.Info().Str("motion_id", motion.ID).Int("members", len(req.Members)).Msg("motion opened")
	writeJSON(w, http.StatusCreated, toMotionDTO(motion))
}

// GetMotion returns a motion with its votes and tally.
func (h *Handler) GetMotion(w http.ResponseWriter, r *http.Request) {
	motion, err := h.motions.get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMotionDTO(motion))
}

// CastVote records one member's vote.
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req CastVoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	motion, err := h.motions.get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := motion.Cast(req.MemberID, governance.Choice(req.Choice)); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMotionDTO(motion))
}

// CloseMotion stops voting. A tie leaves the motion awaiting a casting vote.
func (h *Handler) CloseMotion(w http.ResponseWriter, r *http.Request) {
	motion, err := h.motions.get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := motion.Close(); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMotionDTO(motion))
}

// CastingVote resolves a tie with the tie-break role holder's vote.
func (h *Handler) CastingVote(w http.ResponseWriter, r *http.Request) {
	var req CastingVoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	motion, err := h.motions.get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := motion.ResolveTie(req.Actor.actor(), governance.Choice(req.Choice)); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMotionDTO(motion))
}
