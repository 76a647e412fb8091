/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     zerolog request logging (middleware.go)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the trustee console

ROUTE GROUPS:
  /api/health           Liveness and database check
  /api/beneficiaries/*  Roster and loan installments
  /api/plans/*          Distribution preview, runs, journal
  /api/approvals/*      Approval decisions and audit trail
  /api/audit            Audit query across instances
  /api/motions/*        Board votes
  /api/terms            Configured distribution terms
  /api/admin/*          Escalation scan on demand
  /api/scenarios/*      Demo rosters (development only)

SECURITY NOTE:
  No authentication middleware. Every command carries its actor explicitly
  and the approval engine checks roles; identity must be verified by the
  gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler construction, roster and plan handlers
  - approvals.go: approval and audit handlers
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// EnableScenarios exposes the demo roster loaders.
	EnableScenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/terms", h.ListTerms)

		r.Route("/beneficiaries", func(r chi.Router) {
			r.Get("/", h.ListBeneficiaries)
			r.Post("/", h.SaveBeneficiary)
			r.Get("/{id}", h.GetBeneficiary)
			r.Post("/{id}/installments", h.AddInstallment)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.RunPlan)
			r.Post("/preview", h.PreviewPlan)
			r.Get("/{id}", h.GetPlan)
			r.Get("/{id}/journal", h.GetJournal)
			r.Post("/{id}/payout", h.Payout)
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", h.ListApprovals)
			r.Get("/pending", h.ListPendingApprovals)
			r.Get("/{id}", h.GetApproval)
			r.Get("/{id}/audit", h.GetApprovalAudit)
			r.Post("/{id}/decide", h.DecideApproval)
			r.Post("/{id}/skip", h.SkipApproval)
			r.Post("/{id}/cancel", h.CancelApproval)
		})

		r.Get("/audit", h.QueryAudit)

		r.Route("/motions", func(r chi.Router) {
			r.Post("/", h.CreateMotion)
			r.Get("/{id}", h.GetMotion)
			r.Post("/{id}/votes", h.CastVote)
			r.Post("/{id}/close", h.CloseMotion)
			r.Post("/{id}/casting-vote", h.CastingVote)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/escalations/scan", h.ScanEscalations)
		})

		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})

	return r
}
