package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/security"
)

// ContextualLoggerMiddleware tags every request with a request id and puts
// a request-scoped logger into the context for handlers to pick up.
func ContextualLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		requestLogger := logger.L.With("requestID", requestID)
		requestLogger.Debug("Request received",
			"method", r.Method,
			"path", r.URL.Path,
			"remoteAddr", r.RemoteAddr,
		)
		next.ServeHTTP(w, r.WithContext(logger.ToContext(r.Context(), requestLogger)))
	})
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(authService *security.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				// SSE clients cannot set headers; allow the token as a
				// query parameter on stream endpoints.
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				sendJSONError(w, "missing authorization token", http.StatusUnauthorized)
				return
			}
			if err := authService.ValidateToken(token); err != nil {
				logger.L.Warn("Token validation failed", "path", r.URL.Path, "error", err)
				sendJSONError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
