package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/response"
)

// Authenticated rejects requests without a signed-in session.
func Authenticated(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok || !sess.Authenticated() {
				logger.WarnContext(r.Context(), "User not authenticated", slog.String("path", r.URL.Path))
				response.ErrorResponse(w, apperrors.UnauthorizedError("Authentication required", nil), nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CronAuth guards scheduler endpoints with a shared bearer secret. An empty
// secret rejects every request with a configuration error.
func CronAuth(secret func() string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := secret()
			if expected == "" {
				response.ErrorResponse(w, apperrors.ConfigError("Cron secret is not configured", nil), logger)
				return
			}

			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.WarnContext(r.Context(), "Rejected cron request",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				response.ErrorResponse(w, apperrors.UnauthorizedError("Invalid cron credentials", nil), nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken returns the raw credential after "Bearer ". It is compared as
// sent, so padded or otherwise altered values never match.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return token, token != ""
}
