package replay

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// NewRouter builds the security event API router.
func NewRouter(events *SecurityEventStore) chi.Router {
	r := chi.NewRouter()
	r.Get("/events", listEventsHandler(events))
	return r
}

func listEventsHandler(store *SecurityEventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := ParseEventFilter(r.URL.Query().Get("filter"))
		if err != nil {
			writeEventError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		pageSize := 0
		if v := r.URL.Query().Get("pageSize"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				pageSize = n
			}
		}

		records, next, total, err := store.List(filter, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeEventError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		list := SecurityEventList{
			Items:         make([]SecurityEvent, 0, len(records)),
			PageSize:      pageSize,
			NextPageToken: next,
			TotalSize:     total,
		}
		for i := range records {
			list.Items = append(list.Items, eventToAPI(&records[i]))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(struct {
			Success bool `json:"success"`
			SecurityEventList
		}{true, list})
	}
}

func writeEventError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   code,
		"message": message,
		"retry":   false,
	})
}
