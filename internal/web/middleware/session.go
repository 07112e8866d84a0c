package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/freekieb7/formlink/internal/session"
)

// Session attaches the session named by the SID cookie to the request
// context. Sessions are issued by the sign-in shell, so a missing or
// expired one only means the request is anonymous.
func Session(logger *slog.Logger, sessionStore session.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionCookie, err := r.Cookie(session.CookieName)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			sess, err := sessionStore.GetSessionByToken(r.Context(), sessionCookie.Value)
			if err != nil {
				if !errors.Is(err, session.ErrSessionNotFound) {
					logger.ErrorContext(r.Context(), "Failed to get session by token", slog.String("error", err.Error()))
					w.WriteHeader(http.StatusInternalServerError)
					return
				}

				// Stale cookie
				http.SetCookie(w, &http.Cookie{
					Name:     session.CookieName,
					Value:    "",
					Path:     "/",
					MaxAge:   -1,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), session.ContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
