package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/risk-enforcer/utils"
)

// InternalAuth returns middleware that guards the internal enforcement
// surface with a shared secret. The scheduler and the dashboard backend
// present the secret either as a bearer token or in the X-Internal-Secret
// header.
func InternalAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail closed when no secret is configured
			if secret == "" {
				logger.Error("internal auth secret is not configured",
					zap.String("path", r.URL.Path))
				utils.WriteInternalServerError(w, "Internal authentication not configured")
				return
			}

			presented := extractSecret(r)
			if presented == "" {
				utils.WriteUnauthorized(w, "Missing internal secret")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				logger.Warn("rejected request with invalid internal secret",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				utils.WriteUnauthorized(w, "Invalid internal secret")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractSecret pulls the shared secret from the request, preferring the
// Authorization header over X-Internal-Secret
func extractSecret(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	return r.Header.Get("X-Internal-Secret")
}

// extractBearerToken extracts a bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
