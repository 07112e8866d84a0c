package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/freekieb7/formlink/internal/config"
	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/events"
	"github.com/freekieb7/formlink/internal/grant"
	"github.com/freekieb7/formlink/internal/monitor"
	"github.com/freekieb7/formlink/internal/policy"
	"github.com/freekieb7/formlink/internal/reauth"
	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"github.com/freekieb7/formlink/internal/web/response"
)

type CapabilityResponse struct {
	Status       policy.CapabilityStatus `json:"status"`
	Capability   string                  `json:"capability"`
	ExpiresAt    *time.Time              `json:"expiresAt,omitempty"`
	ExpiringSoon bool                    `json:"expiringSoon"`
}

// GrantHandler serves the signed-in user's view of their provider grant.
type GrantHandler struct {
	Logger    *slog.Logger
	Grants    grant.Store
	Flow      *reauth.Flow
	Catalog   config.Catalog
	Provider  string
	Lookahead time.Duration
	Registry  *monitor.Registry
	Sessions  session.Repository
	Publisher events.Publisher
	Now       func() time.Time
}

func (h *GrantHandler) RegisterRoutes(mux *http.ServeMux) {
	protected := func(next http.HandlerFunc) http.Handler {
		return middleware.Chain(next, middleware.APITimeoutMiddleware(h.Logger), middleware.Authenticated(h.Logger))
	}

	mux.Handle("/api/grants/capability", protected(h.HandleCapability))
	mux.Handle("/api/grants/reauthorize", protected(h.HandleReauthorize))
	mux.Handle("/api/account/grants", protected(h.HandleDeleteAccountGrants))
	// Signing out twice must succeed, so no session is not an error here
	mux.Handle("/api/grants/revoke", middleware.APITimeoutMiddleware(h.Logger)(http.HandlerFunc(h.HandleRevoke)))
}

func (h *GrantHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// currentGrant returns nil when the subject never authorized the provider.
func (h *GrantHandler) currentGrant(r *http.Request, subjectID string) (*grant.Grant, error) {
	g, err := h.Grants.Get(r.Context(), subjectID, h.Provider)
	if err != nil {
		if errors.Is(err, grant.ErrGrantNotFound) {
			return nil, nil
		}
		return nil, apperrors.DatabaseError("Failed to load grant", err)
	}
	return &g, nil
}

// HandleCapability handles GET /api/grants/capability?capability=
func (h *GrantHandler) HandleCapability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, _ := session.FromContext(r.Context())
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		response.ValidationErrorResponse(w, "capability is required", map[string]string{"capability": "required"}, h.Logger)
		return
	}

	required, ok := h.Catalog.Scopes(capability)
	if !ok {
		response.ValidationErrorResponse(w, "unknown capability", map[string]string{"capability": capability}, h.Logger)
		return
	}

	g, err := h.currentGrant(r, sess.SubjectID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	resp := CapabilityResponse{
		Status:     policy.Evaluate(g, required),
		Capability: capability,
	}
	if resp.Status != policy.StatusNoGrant {
		resp.ExpiresAt = g.EffectiveExpiry()
		resp.ExpiringSoon = policy.IsExpiringSoon(resp.ExpiresAt, h.Lookahead, h.now())
	}

	response.JSONResponse(w, http.StatusOK, resp)
}

// HandleReauthorize handles GET /api/grants/reauthorize?return_to=&capability=
// A user without a live grant is sent to first-time consent instead of renewal.
func (h *GrantHandler) HandleReauthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, _ := session.FromContext(r.Context())
	query := r.URL.Query()

	g, err := h.currentGrant(r, sess.SubjectID)
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	build := h.Flow.BuildConsentRedirect
	if g != nil && !g.Revoked() {
		build = h.Flow.BuildRedirect
	}

	redirect, err := build(query.Get("return_to"), query.Get("capability"))
	if err != nil {
		response.ErrorResponse(w, err, h.Logger)
		return
	}

	response.Redirect(w, http.StatusFound, redirect)
}

// HandleRevoke handles POST /api/grants/revoke. It signs the user out:
// the provider grant is revoked, the monitor closed and the session ended.
func (h *GrantHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok || !sess.Authenticated() {
		response.NoContent(w)
		return
	}

	if err := h.Grants.Revoke(ctx, sess.SubjectID, h.Provider); err != nil {
		response.ErrorResponse(w, apperrors.DatabaseError("Failed to revoke grant", err), h.Logger)
		return
	}
	h.Registry.Close(sess.ID.String())
	h.publishRevoked(r, sess.SubjectID, h.Provider)

	if err := h.Sessions.DeleteSession(ctx, sess.Token); err != nil {
		response.ErrorResponse(w, apperrors.DatabaseError("Failed to end session", err), h.Logger)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	response.NoContent(w)
}

// HandleDeleteAccountGrants handles DELETE /api/account/grants, revoking
// every provider grant the subject holds.
func (h *GrantHandler) HandleDeleteAccountGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, _ := session.FromContext(r.Context())

	if err := h.Grants.RevokeSubject(r.Context(), sess.SubjectID); err != nil {
		response.ErrorResponse(w, apperrors.DatabaseError("Failed to revoke grants", err), h.Logger)
		return
	}
	h.Registry.Close(sess.ID.String())
	h.publishRevoked(r, sess.SubjectID, "")

	response.NoContent(w)
}

func (h *GrantHandler) publishRevoked(r *http.Request, subjectID, provider string) {
	err := h.Publisher.Publish(r.Context(), events.Event{
		Type:       events.TypeGrantRevoked,
		SubjectID:  subjectID,
		Provider:   provider,
		OccurredAt: h.now().UTC(),
	})
	if err != nil {
		h.Logger.WarnContext(r.Context(), "Failed to publish revocation", slog.String("error", err.Error()))
	}
}
