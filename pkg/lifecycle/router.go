package lifecycle

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter builds the plans API router. The snapshot-facing handlers are
// passed in by the caller so this package stays independent of the snapshot
// store; a nil handler leaves its route unmounted.
func NewRouter(plans *PlanStore, approvals *ApprovalStore, svc *TransitionService, publish, listSnapshots, getSnapshot http.HandlerFunc) chi.Router {
	machine := svc.Machine()

	r := chi.NewRouter()
	r.Get("/", listPlansHandler(plans, machine))
	r.Post("/", createPlanHandler(plans, machine))
	r.Route("/{planID}", func(r chi.Router) {
		r.Get("/", getPlanHandler(plans, machine))
		r.Post("/transition", transitionHandler(svc))
		r.Get("/approvals", listApprovalsHandler(approvals))
		if publish != nil {
			r.Post("/publish", publish)
		}
		if listSnapshots != nil {
			r.Get("/snapshots", listSnapshots)
		}
		if getSnapshot != nil {
			r.Get("/snapshots/{version}", getSnapshot)
		}
	})
	return r
}
