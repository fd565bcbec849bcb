package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Middleware rejects requests failing v.Check with 401 before calling next.
// The resource checked is the request host and path.
func Middleware(v *Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Check(r.Header.Get, r.Host+r.URL.Path); err != nil {
			slog.Debug("auth: rejected http request", "path", r.URL.Path, "err", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
