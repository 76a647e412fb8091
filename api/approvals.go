package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/audit"
)

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// ListApprovals returns instances filtered by ?status= and ?subject_id=.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := h.engine.List(approval.ListFilter{
		Status:    approval.Status(q.Get("status")),
		SubjectID: q.Get("subject_id"),
	})
	if list == nil {
		list = []*approval.Instance{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListPendingApprovals returns the decisions waiting on ?role= (all roles
// when empty), oldest first.
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	var role approval.Role
	if v := r.URL.Query().Get("role"); v != "" {
		parsed, err := approval.ParseRole(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid role", err)
			return
		}
		role = parsed
	}

	out := []PendingApprovalDTO{}
	for _, inst := range h.engine.List(approval.ListFilter{Status: approval.StatusPending}) {
		def, err := h.engine.Definition(inst.ID)
		if err != nil {
			continue
		}
		level, ok := def.Level(inst.CurrentLevel)
		if !ok {
			continue
		}
		item := PendingApprovalDTO{
			InstanceID:   inst.ID,
			SubjectID:    inst.SubjectID,
			EntityType:   inst.EntityType,
			Amount:       inst.Amount,
			Level:        inst.CurrentLevel,
			RequiredRole: level.RequiredRole,
			Version:      inst.Version,
			WaitingSince: inst.LevelEnteredAt,
		}
		if cur := inst.Current(); cur != nil && cur.Escalation != nil {
			item.Escalated = true
			item.RequiredRole = cur.Escalation.Role
			item.Assignee = cur.Escalation.ActorID
		} else if level.AutoEscalateAfter > 0 {
			at := inst.LevelEnteredAt.Add(level.AutoEscalateAfter)
			item.EscalatesAt = &at
		}
		if role != approval.RoleUnknown && item.RequiredRole != role {
			continue
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetApproval returns one instance.
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	inst, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// DecideApproval approves or rejects the current level.
func (h *Handler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !h.decode(w, r, &req) {
		return
	}
	inst, err := h.engine.Decide(r.Context(), approval.Decision{
		InstanceID:      chi.URLParam(r, "id"),
		Level:           req.Level,
		Actor:           req.Actor.actor(),
		Verdict:         approval.Verdict(req.Verdict),
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// SkipApproval skips the current level when the definition allows it.
func (h *Handler) SkipApproval(w http.ResponseWriter, r *http.Request) {
	var req SkipRequest
	if !h.decode(w, r, &req) {
		return
	}
	inst, err := h.engine.Skip(r.Context(), approval.SkipRequest{
		InstanceID:      chi.URLParam(r, "id"),
		Level:           req.Level,
		Actor:           req.Actor.actor(),
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// CancelApproval cancels a pending instance.
func (h *Handler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	inst, err := h.engine.Cancel(r.Context(), approval.CancelRequest{
		InstanceID:      chi.URLParam(r, "id"),
		Actor:           req.Actor.actor(),
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// GetApprovalAudit returns the audit trail of one instance in sequence order.
func (h *Handler) GetApprovalAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Get(id); err != nil {
		h.respondError(w, r, err)
		return
	}
	entries, err := h.audit.ForInstance(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// QueryAudit searches the audit log. Parameters: instance_id, event,
// actor_id, since, until (RFC 3339, until exclusive), limit.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		InstanceID: q.Get("instance_id"),
		Event:      audit.Event(q.Get("event")),
		ActorID:    q.Get("actor_id"),
	}
	if f.Event != "" && !f.Event.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event", nil)
		return
	}
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+key, err)
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		f.Limit = n
	}

	entries, err := h.audit.Query(r.Context(), f)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
