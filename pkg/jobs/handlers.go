package jobs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

type enqueueJobRequest struct {
	PlanID         string `json:"planId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// EnqueueJobHandler handles POST /api/v1/jobs. The plan must exist in the
// caller's tenant; the worker pool picks the job up asynchronously.
func EnqueueJobHandler(store *SolveJobStore, plans *lifecycle.PlanStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())

		var req enqueueJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if req.PlanID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "planId is required", false)
			return
		}

		plan, err := plans.Get(scope.TenantID, req.PlanID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		if plan == nil {
			writeError(w, http.StatusNotFound, "not_found", "plan not found", false)
			return
		}

		job := &SolveJob{
			TenantID:    scope.TenantID,
			PlanID:      req.PlanID,
			RequestedBy: scope.Actor,
		}
		if req.IdempotencyKey != "" {
			job.IdempotencyKey = &req.IdempotencyKey
		}

		enqueued, err := store.Enqueue(job)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}

		writeJSON(w, http.StatusAccepted, struct {
			Success bool        `json:"success"`
			Job     jobResponse `json:"job"`
		}{true, jobToResponse(enqueued)})
	}
}

// GetJobHandler handles GET /api/v1/jobs/{jobID}
func GetJobHandler(store *SolveJobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		jobID := chi.URLParam(r, "jobID")

		job, err := store.Get(scope.TenantID, jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, "not_found", "job not found", false)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool        `json:"success"`
			Job     jobResponse `json:"job"`
		}{true, jobToResponse(job)})
	}
}

// ListJobsHandler handles GET /api/v1/jobs
// Query params: planId, state, requestedBy, pageSize, pageToken
func ListJobsHandler(store *SolveJobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		filter := JobListFilter{
			TenantID:    scope.TenantID,
			PlanID:      r.URL.Query().Get("planId"),
			State:       r.URL.Query().Get("state"),
			RequestedBy: r.URL.Query().Get("requestedBy"),
		}

		pageSize := 0
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.List(filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}

		items := make([]jobResponse, len(records))
		for i := range records {
			items[i] = jobToResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, struct {
			Success       bool          `json:"success"`
			Jobs          []jobResponse `json:"jobs"`
			NextPageToken string        `json:"nextPageToken,omitempty"`
			TotalSize     int           `json:"totalSize"`
		}{true, items, nextToken, total})
	}
}

// CancelJobHandler handles POST /api/v1/jobs/{jobID}/cancel
func CancelJobHandler(store *SolveJobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		jobID := chi.URLParam(r, "jobID")

		if err := store.Cancel(scope.TenantID, jobID); err != nil {
			writeError(w, http.StatusConflict, "cancel_failed", err.Error(), false)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool   `json:"success"`
			JobID   string `json:"jobId"`
			State   string `json:"state"`
		}{true, jobID, string(JobStateCanceled)})
	}
}

// jobResponse is the API representation of a solve job.
type jobResponse struct {
	ID           string `json:"id"`
	PlanID       string `json:"planId"`
	State        string `json:"state"`
	RequestedBy  string `json:"requestedBy,omitempty"`
	RequestedAt  string `json:"requestedAt"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	AttemptCount int    `json:"attemptCount"`
	LastError    string `json:"lastError,omitempty"`
	DurationMs   int64  `json:"durationMs,omitempty"`
	Assignments  any    `json:"resultAssignments,omitempty"`
	Routes       any    `json:"resultRoutes,omitempty"`
	KPISnapshot  any    `json:"resultKpi,omitempty"`
	InputHash    string `json:"inputHash,omitempty"`
	OutputHash   string `json:"outputHash,omitempty"`
	EvidenceHash string `json:"evidenceHash,omitempty"`
}

func jobToResponse(job *SolveJob) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		PlanID:       job.PlanID,
		State:        string(job.State),
		RequestedBy:  job.RequestedBy,
		RequestedAt:  job.RequestedAt.Format(time.RFC3339),
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
		DurationMs:   job.DurationMs,
		Assignments:  job.ResultAssignments.Data,
		Routes:       job.ResultRoutes.Data,
		KPISnapshot:  job.ResultKPI.Data,
		InputHash:    job.InputHash,
		OutputHash:   job.OutputHash,
		EvidenceHash: job.EvidenceHash,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, retry bool) {
	writeJSON(w, status, errorResponse{
		Success: false,
		Error:   code,
		Message: message,
		Retry:   retry,
	})
}
