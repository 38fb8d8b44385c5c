package replay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dispatchlab/planhub/pkg/tenancy"
)

// Middleware enforces the signed-request contract on every mutating request.
// GET, HEAD, and OPTIONS pass through; they carry no business writes.
func Middleware(v *RequestVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithRequestMeta(r.Context(), RequestMeta{
				Path:       r.URL.Path,
				RemoteAddr: r.RemoteAddr,
				TenantID:   tenancy.TenantFromContext(r.Context()),
				Source:     "api",
			})
			r = r.WithContext(ctx)

			if err := v.Verify(r); err != nil {
				writeVerifyError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeVerifyError maps verification failures onto the response envelope.
// None of them are retryable as-is: the client must produce a fresh
// signature.
func writeVerifyError(w http.ResponseWriter, err error) {
	code := "signature_mismatch"
	switch {
	case errors.Is(err, ErrReplayDetected):
		code = "replay_detected"
	case errors.Is(err, ErrTimestampSkew):
		code = "timestamp_skew"
	case errors.Is(err, ErrSignatureMismatch):
		code = "signature_mismatch"
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "internal_error",
			"message": err.Error(),
			"retry":   true,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   code,
		"message": err.Error(),
		"retry":   false,
	})
}
