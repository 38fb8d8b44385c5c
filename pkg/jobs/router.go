package jobs

import (
	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
)

// Router creates a chi.Router for the solve job API.
func Router(store *SolveJobStore, plans *lifecycle.PlanStore) chi.Router {
	r := chi.NewRouter()

	r.Post("/", EnqueueJobHandler(store, plans))
	r.Get("/", ListJobsHandler(store))
	r.Get("/{jobID}", GetJobHandler(store))
	r.Post("/{jobID}/cancel", CancelJobHandler(store))

	return r
}
