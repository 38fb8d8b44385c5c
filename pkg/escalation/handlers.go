package escalation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// AggregateStatusHandler returns the handler for GET /status/aggregate.
// Exported so the caller can wrap it with response caching.
func AggregateStatusHandler(reporter *Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeType := ScopeType(r.URL.Query().Get("scopeType"))
		if scopeType == "" {
			scopeType = ScopePlatform
		}
		scopeID := r.URL.Query().Get("scopeId")

		status, err := reporter.AggregatedStatus(r.Context(), scopeType, scopeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			*AggregatedStatus
		}{true, status})
	}
}

type raiseRequest struct {
	ScopeType  ScopeType `json:"scopeType"`
	ScopeID    string    `json:"scopeId,omitempty"`
	ReasonCode string    `json:"reasonCode"`
	Severity   *int      `json:"severity,omitempty"`
	Message    string    `json:"message,omitempty"`
	TTLSeconds int       `json:"ttlSeconds,omitempty"`
}

// NewEscalationRouter builds the escalation API router. The invalidate hook
// runs after every write so cached status rollups never outlive a change;
// nil disables it.
func NewEscalationRouter(store *EscalationStore, registry *Registry, invalidate func()) chi.Router {
	bump := func() {
		if invalidate != nil {
			invalidate()
		}
	}

	r := chi.NewRouter()

	r.Put("/", func(w http.ResponseWriter, r *http.Request) {
		var req raiseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}

		severity := registry.Severity(req.ReasonCode)
		if req.Severity != nil {
			severity = *req.Severity
		}
		if severity < 0 || severity > MaxSeverity {
			writeError(w, http.StatusBadRequest, "bad_request", "severity out of range", false)
			return
		}

		record := &EscalationRecord{
			ScopeType:  req.ScopeType,
			ScopeID:    req.ScopeID,
			ReasonCode: req.ReasonCode,
			Severity:   severity,
			Message:    req.Message,
		}
		if req.TTLSeconds > 0 {
			expires := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
			record.ExpiresAt = &expires
		}
		if err := store.Raise(record); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}
		bump()

		writeJSON(w, http.StatusOK, struct {
			Success    bool       `json:"success"`
			Escalation Escalation `json:"escalation"`
		}{true, escalationToAPI(record)})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		scopeType := ScopeType(r.URL.Query().Get("scopeType"))
		if !scopeType.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", "scopeType is required", false)
			return
		}
		records, err := store.ListByScope(scopeType, r.URL.Query().Get("scopeId"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		items := make([]Escalation, 0, len(records))
		for i := range records {
			items = append(items, escalationToAPI(&records[i]))
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool         `json:"success"`
			Items   []Escalation `json:"items"`
		}{true, items})
	})

	r.Delete("/{escalationID}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "escalationID")
		if err := store.Resolve(id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "escalation not found", false)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), true)
			return
		}
		bump()
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{true})
	})

	r.Get("/reason-codes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Success bool             `json:"success"`
			Items   []ReasonCodeInfo `json:"items"`
		}{true, registry.Codes()})
	})

	return r
}

type upsertOrgRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type upsertTenantRequest struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`
	Name  string `json:"name"`
}

type upsertSiteRequest struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
}

// NewHierarchyRouter builds the admin router that seeds the scope
// hierarchy.
func NewHierarchyRouter(store *HierarchyStore) chi.Router {
	r := chi.NewRouter()

	r.Post("/orgs", func(w http.ResponseWriter, r *http.Request) {
		var req upsertOrgRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if err := store.UpsertOrg(&OrgRecord{ID: req.ID, Name: req.Name}); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{true})
	})

	r.Post("/tenants", func(w http.ResponseWriter, r *http.Request) {
		var req upsertTenantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if err := store.UpsertTenant(&TenantRecord{ID: req.ID, OrgID: req.OrgID, Name: req.Name}); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{true})
	})

	r.Post("/sites", func(w http.ResponseWriter, r *http.Request) {
		var req upsertSiteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", false)
			return
		}
		if err := store.UpsertSite(&SiteRecord{ID: req.ID, TenantID: req.TenantID, Name: req.Name}); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), false)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{true})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retry bool) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   code,
		"message": message,
		"retry":   retry,
	})
}
