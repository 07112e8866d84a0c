package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/freekieb7/formlink/internal/grant"
	"github.com/freekieb7/formlink/internal/reauth"
	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"github.com/freekieb7/formlink/internal/web/response"
	"golang.org/x/oauth2"
)

const callbackFailure = "reauthorization_failed"

// CallbackHandler completes the provider round-trip started by the
// reauthorization flow.
type CallbackHandler struct {
	Logger          *slog.Logger
	Flow            *reauth.Flow
	Grants          grant.Store
	Provider        string
	HTTPClient      *http.Client
	DefaultLifetime time.Duration
	Now             func() time.Time
}

func (h *CallbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/oauth/callback", middleware.CallbackTimeoutMiddleware(h.Logger)(http.HandlerFunc(h.HandleCallback)))
}

func (h *CallbackHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *CallbackHandler) fail(w http.ResponseWriter) {
	target := h.Flow.LandingPath
	if strings.Contains(target, "?") {
		target += "&"
	} else {
		target += "?"
	}
	response.Redirect(w, http.StatusFound, target+"error="+url.QueryEscape(callbackFailure))
}

// HandleCallback handles GET /oauth/callback?code=&state=
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	query := r.URL.Query()

	intent, err := h.Flow.Resume(query.Get("state"))
	if err != nil {
		h.Logger.WarnContext(ctx, "Rejected provider callback", slog.String("error", err.Error()))
		h.fail(w)
		return
	}

	if providerErr := query.Get("error"); providerErr != "" {
		h.Logger.InfoContext(ctx, "Provider declined authorization",
			slog.String("error", providerErr),
			slog.String("capability", intent.RequestedCapability))
		h.fail(w)
		return
	}

	sess, ok := session.FromContext(ctx)
	if !ok || !sess.Authenticated() {
		h.Logger.WarnContext(ctx, "Provider callback without a signed-in session")
		h.fail(w)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.Logger.WarnContext(ctx, "Provider callback without code")
		h.fail(w)
		return
	}

	if h.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.HTTPClient)
	}
	token, err := h.Flow.OAuth.Exchange(ctx, code)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Authorization code exchange failed", slog.String("error", err.Error()))
		h.fail(w)
		return
	}

	var granted []string
	if existing, err := h.Grants.Get(ctx, sess.SubjectID, h.Provider); err == nil && !existing.Revoked() {
		granted = existing.Scope
	}

	g, err := h.Grants.Save(ctx, h.grantFromToken(sess.SubjectID, intent, token, granted))
	if err != nil {
		h.Logger.ErrorContext(ctx, "Failed to save grant", slog.String("error", err.Error()))
		h.fail(w)
		return
	}

	h.Logger.InfoContext(ctx, "Grant authorized",
		slog.String("grant_id", g.ID.String()),
		slog.String("subject_id", g.SubjectID),
		slog.Bool("reauthorization", intent.IsReauthorization))

	response.Redirect(w, http.StatusFound, h.Flow.Destination(intent))
}

// grantFromToken builds the grant to store. granted is the scope of the
// live grant, which incremental authorization keeps.
func (h *CallbackHandler) grantFromToken(subjectID string, intent reauth.Intent, token *oauth2.Token, granted []string) grant.Grant {
	accessToken := token.AccessToken

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = h.now().Add(h.DefaultLifetime)
	}

	var scope []string
	if raw, ok := token.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		scope = strings.Fields(raw)
	} else {
		requested, _ := h.Flow.Catalog.Scopes(intent.RequestedCapability)
		scope = mergeScopes(granted, requested)
	}

	g := grant.Grant{
		SubjectID:   subjectID,
		Provider:    h.Provider,
		AccessToken: &accessToken,
		Scope:       scope,
		ExpiresAt:   &expiresAt,
	}
	if token.RefreshToken != "" {
		refreshToken := token.RefreshToken
		g.RefreshToken = &refreshToken
	}
	return g
}

func mergeScopes(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	return merged
}
