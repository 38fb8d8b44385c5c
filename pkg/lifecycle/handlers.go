package lifecycle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/planhub/pkg/planlock"
	"github.com/dispatchlab/planhub/pkg/tenancy"
)

type createPlanRequest struct {
	Name   string `json:"name"`
	SiteID string `json:"siteId,omitempty"`
}

func createPlanHandler(store *PlanStore, machine *Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())

		var req createPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "name is required", false)
			return
		}
		siteID := req.SiteID
		if siteID == "" {
			siteID = scope.SiteID
		}

		record := &PlanRecord{
			TenantID: scope.TenantID,
			SiteID:   siteID,
			Name:     req.Name,
		}
		record.StateChangedBy = scope.Actor
		if err := store.Create(record); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Success bool `json:"success"`
			Plan    Plan `json:"plan"`
		}{true, planToAPI(record, machine)})
	}
}

func getPlanHandler(store *PlanStore, machine *Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		planID := chi.URLParam(r, "planID")

		record, err := store.Get(scope.TenantID, planID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, "not_found", "plan not found", false)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			Plan    Plan `json:"plan"`
		}{true, planToAPI(record, machine)})
	}
}

func listPlansHandler(store *PlanStore, machine *Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		pageSize, pageToken := paginationParams(r)
		filter := PlanFilter{
			SiteID: r.URL.Query().Get("siteId"),
			State:  PlanState(r.URL.Query().Get("state")),
		}
		if filter.SiteID == "" {
			filter.SiteID = scope.SiteID
		}

		records, next, total, err := store.List(scope.TenantID, filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}

		list := PlanList{
			Items:         make([]Plan, 0, len(records)),
			PageSize:      pageSize,
			NextPageToken: next,
			TotalSize:     total,
		}
		for i := range records {
			list.Items = append(list.Items, planToAPI(&records[i], machine))
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			PlanList
		}{true, list})
	}
}

func transitionHandler(svc *TransitionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		planID := chi.URLParam(r, "planID")

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}

		result, err := svc.Transition(r.Context(), scope, planID, req)
		if err != nil {
			writeTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Success bool             `json:"success"`
			Result  TransitionResult `json:"result"`
		}{true, *result})
	}
}

func listApprovalsHandler(store *ApprovalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, _ := tenancy.ScopeFromContext(r.Context())
		planID := chi.URLParam(r, "planID")
		pageSize, pageToken := paginationParams(r)

		records, next, total, err := store.ListByPlan(scope.TenantID, planID, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}

		list := ApprovalList{
			Items:         make([]Approval, 0, len(records)),
			PageSize:      pageSize,
			NextPageToken: next,
			TotalSize:     total,
		}
		for i := range records {
			list.Items = append(list.Items, approvalToAPI(&records[i]))
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			ApprovalList
		}{true, list})
	}
}

// writeTransitionError maps transition service errors onto the response
// envelope, carrying the allowed-states hint and the retry flag.
func writeTransitionError(w http.ResponseWriter, err error) {
	var (
		transitionErr *TransitionError
		duplicateErr  *DuplicateActionError
	)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "not_found", "plan not found", false)
	case errors.Is(err, ErrPerformedByRequired):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
	case errors.Is(err, planlock.ErrPlanLocked):
		writeError(w, http.StatusConflict, "lock_unavailable", "plan is locked by another operation, retry shortly", true)
	case errors.As(err, &transitionErr):
		resp := errorResponse{
			Success: false,
			Error:   "invalid_transition",
			Message: transitionErr.Message,
			Allowed: transitionErr.Allowed,
		}
		status := http.StatusConflict
		if transitionErr.Code == CodeUnknownState {
			resp.Error = "bad_request"
			status = http.StatusBadRequest
		}
		writeJSON(w, status, resp)
	case errors.As(err, &duplicateErr):
		writeError(w, http.StatusConflict, "duplicate_action", duplicateErr.Error(), false)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
	}
}

func paginationParams(r *http.Request) (int, string) {
	pageSize := 0
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pageSize = n
		}
	}
	return pageSize, r.URL.Query().Get("pageToken")
}

type errorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Retry   bool        `json:"retry"`
	Allowed []PlanState `json:"allowedStates,omitempty"`
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
