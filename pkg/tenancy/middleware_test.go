package tenancy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		mode       Mode
		url        string
		header     string
		wantStatus int
		wantTenant string // expected tenant in context (empty if error expected)
	}{
		{
			name:       "single mode: no tenant param -> default",
			mode:       ModeSingle,
			url:        "/api/v1/plans",
			wantStatus: http.StatusOK,
			wantTenant: "default",
		},
		{
			name:       "single mode: tenant param provided -> still default",
			mode:       ModeSingle,
			url:        "/api/v1/plans?tenant=acme",
			wantStatus: http.StatusOK,
			wantTenant: "default",
		},
		{
			name:       "header mode: tenant from query param",
			mode:       ModeHeader,
			url:        "/api/v1/plans?tenant=acme",
			wantStatus: http.StatusOK,
			wantTenant: "acme",
		},
		{
			name:       "header mode: tenant from header",
			mode:       ModeHeader,
			url:        "/api/v1/plans",
			header:     "globex",
			wantStatus: http.StatusOK,
			wantTenant: "globex",
		},
		{
			name:       "header mode: missing tenant -> 400",
			mode:       ModeHeader,
			url:        "/api/v1/plans",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "header mode: invalid tenant -> 400",
			mode:       ModeHeader,
			url:        "/api/v1/plans?tenant=Not-Valid!",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTenant string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTenant = TenantFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			handler := NewMiddleware(tt.mode)(next)

			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set(TenantHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if gotTenant != tt.wantTenant {
					t.Errorf("tenant in context = %q, want %q", gotTenant, tt.wantTenant)
				}
				return
			}

			// Error responses carry the JSON envelope.
			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body["error"] != "bad_request" {
				t.Errorf("error = %v, want bad_request", body["error"])
			}
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
		})
	}
}
