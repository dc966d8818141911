// ABOUTME: HTTP enforcement of authorization decisions
// ABOUTME: Writes the JSON failure body with 401, 403 or 500 and never leaks internals

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// failureBody is the JSON error shape returned to rejected callers
type failureBody struct {
	Status  int    `json:"status"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// StatusFor maps a denial reason to its HTTP status code.
func StatusFor(reason error) int {
	switch {
	case reason == nil:
		return http.StatusOK
	case errors.Is(reason, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(reason, ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteFailure writes the failure body. message must be safe to show callers.
func WriteFailure(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(failureBody{
		Status:  status,
		Path:    r.URL.Path,
		Message: message,
		Error:   http.StatusText(status),
	})
}

// WriteUnauthorized writes the 401 body. Handlers outside the policy use it
// so every 401 has the same shape.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteFailure(w, r, http.StatusUnauthorized, message)
}

// Authorize enforces policy on every request using the Identity the
// Authenticator attached (or its absence).
func Authorize(policy *Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authz")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			d := policy.Decide(r.Method, r.URL.Path, id)
			if d.Permit {
				next.ServeHTTP(w, r)
				return
			}

			status := StatusFor(d.Reason)
			attrs := []any{"method", r.Method, "path", r.URL.Path, "rule", d.Rule, "remote_addr", r.RemoteAddr}
			if id != nil {
				attrs = append(attrs, "principal_id", id.PrincipalID, "role", id.Role)
			}
			logger.Warn("access denied", append(attrs, "reason", d.Reason)...)

			switch status {
			case http.StatusForbidden:
				WriteFailure(w, r, status, "access denied")
			default:
				WriteFailure(w, r, status, "full authentication is required to access this resource")
			}
		})
	}
}
