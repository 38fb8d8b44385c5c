package snapshot

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/planhub/pkg/lifecycle"
	"github.com/dispatchlab/planhub/pkg/planlock"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// PublishHandler returns the handler for POST /plans/{planID}/publish.
// Exported so the caller can mount it on the plans router.
func PublishHandler(p *Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		planID := chi.URLParam(r, "planID")

		var req PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}

		result, err := p.Publish(r.Context(), scope, planID, req)
		if err != nil {
			writePublishError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool          `json:"success"`
			Result  PublishResult `json:"result"`
		}{true, *result})
	}
}

// ListSnapshotsHandler returns the handler for GET /plans/{planID}/snapshots.
func ListSnapshotsHandler(store *SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		planID := chi.URLParam(r, "planID")

		pageSize := 0
		if v := r.URL.Query().Get("pageSize"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				pageSize = n
			}
		}
		records, next, total, err := store.ListByPlan(scope.TenantID, planID, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}

		list := SnapshotList{
			Items:         make([]Snapshot, 0, len(records)),
			PageSize:      pageSize,
			NextPageToken: next,
			TotalSize:     total,
		}
		for i := range records {
			list.Items = append(list.Items, snapshotToAPI(&records[i]))
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			SnapshotList
		}{true, list})
	}
}

// GetSnapshotHandler returns the handler for
// GET /plans/{planID}/snapshots/{version}.
func GetSnapshotHandler(store *SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		planID := chi.URLParam(r, "planID")
		version, err := strconv.Atoi(chi.URLParam(r, "version"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "version must be an integer", false)
			return
		}

		record, err := store.Get(scope.TenantID, planID, version)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, "not_found", "snapshot not found", false)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success  bool     `json:"success"`
			Snapshot Snapshot `json:"snapshot"`
		}{true, snapshotToAPI(record)})
	}
}

type backfillRequest struct {
	PlanID      string         `json:"planId"`
	Version     int            `json:"version"`
	Assignments map[string]any `json:"assignments,omitempty"`
	Routes      map[string]any `json:"routes,omitempty"`
}

type archiveRequest struct {
	OlderThanHours int `json:"olderThanHours"`
}

// NewAdminRouter builds the snapshot maintenance router: payload backfill on
// historical versions and retention archiving.
func NewAdminRouter(store *SnapshotStore) chi.Router {
	r := chi.NewRouter()

	r.Post("/backfill", func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())

		var req backfillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if req.PlanID == "" || req.Version <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "planId and version are required", false)
			return
		}

		err := store.BackfillPayloads(scope.TenantID, req.PlanID, req.Version, req.Assignments, req.Routes)
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
			writeError(w, http.StatusNotFound, "not_found", "snapshot not found", false)
			return
		case errors.Is(err, ErrSnapshotActive):
			writeError(w, http.StatusConflict, "snapshot_active", err.Error(), false)
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{true})
	})

	r.Post("/archive", func(w http.ResponseWriter, r *http.Request) {
		var req archiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if req.OlderThanHours <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "olderThanHours must be positive", false)
			return
		}

		n, err := store.ArchiveSuperseded(time.Duration(req.OlderThanHours) * time.Hour)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success  bool  `json:"success"`
			Archived int64 `json:"archived"`
		}{true, n})
	})

	return r
}

// writePublishError maps publisher errors onto the response envelope. A
// freeze rejection carries the remaining window and the override hint.
func writePublishError(w http.ResponseWriter, err error) {
	var (
		freezeErr    *FreezeError
		stateErr     *StateError
		duplicateErr *lifecycle.DuplicateActionError
	)
	switch {
	case errors.Is(err, lifecycle.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "not_found", "plan not found", false)
	case errors.Is(err, lifecycle.ErrPerformedByRequired):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
	case errors.Is(err, planlock.ErrPlanLocked):
		writeError(w, http.StatusConflict, "lock_unavailable", "plan is locked by another operation, retry shortly", true)
	case errors.Is(err, ErrConcurrentPublish):
		writeError(w, http.StatusConflict, "concurrent_publish", err.Error(), true)
	case errors.Is(err, ErrForceReasonRequired):
		writeError(w, http.StatusBadRequest, "force_reason_required", err.Error(), false)
	case errors.As(err, &freezeErr):
		// Retryable: the window expires on its own, or force overrides it.
		writeJSON(w, http.StatusConflict, freezeResponse{
			Success:     false,
			Error:       "freeze_violation",
			Message:     freezeErr.Error(),
			Retry:       true,
			FreezeUntil: freezeErr.FreezeUntil.Format(time.RFC3339),
			Remaining:   freezeErr.Remaining.Round(time.Second).String(),
			Hint:        "set force with a forceReason of at least 10 characters to override",
		})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Success: false,
			Error:   "invalid_state",
			Message: stateErr.Error(),
			Allowed: stateErr.Allowed,
		})
	case errors.As(err, &duplicateErr):
		writeError(w, http.StatusConflict, "duplicate_action", duplicateErr.Error(), false)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
	}
}

type errorResponse struct {
	Success bool                  `json:"success"`
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Retry   bool                  `json:"retry"`
	Allowed []lifecycle.PlanState `json:"allowedStates,omitempty"`
}

type freezeResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Message     string `json:"message"`
	Retry       bool   `json:"retry"`
	FreezeUntil string `json:"freezeUntil"`
	Remaining   string `json:"remainingFreeze"`
	Hint        string `json:"hint"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retry bool) {
	writeJSON(w, status, errorResponse{
		Success: false,
		Error:   code,
		Message: message,
		Retry:   retry,
	})
}
