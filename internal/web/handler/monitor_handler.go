package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/grant"
	"github.com/freekieb7/formlink/internal/monitor"
	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"github.com/freekieb7/formlink/internal/web/response"
)

type ReauthorizeRequest struct {
	ReturnTo string `json:"returnTo"`
}

type ReauthorizeResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// MonitorHandler streams expiry prompts to an open page over server-sent
// events. The stream's request context owns the session's monitor.
type MonitorHandler struct {
	Logger     *slog.Logger
	Registry   *monitor.Registry
	Grants     grant.Store
	Redirector monitor.Redirector
	Provider   string
	Capability string
	Options    []monitor.Option
	Heartbeat  time.Duration
}

func (h *MonitorHandler) RegisterRoutes(mux *http.ServeMux) {
	authenticated := middleware.Authenticated(h.Logger)

	mux.Handle("/api/grants/expiry/events", authenticated(http.HandlerFunc(h.HandleEvents)))
	mux.Handle("/api/grants/expiry/dismiss", middleware.APITimeoutMiddleware(h.Logger)(authenticated(http.HandlerFunc(h.HandleDismiss))))
	mux.Handle("/api/grants/expiry/reauthorize", middleware.APITimeoutMiddleware(h.Logger)(authenticated(http.HandlerFunc(h.HandleReauthorize))))
}

// expirySource reads the subject's grant expiry without touching it.
func (h *MonitorHandler) expirySource(subjectID string) monitor.ExpirySource {
	return monitor.ExpirySourceFunc(func(ctx context.Context) (*time.Time, bool, error) {
		g, err := h.Grants.Get(ctx, subjectID, h.Provider)
		if err != nil {
			if errors.Is(err, grant.ErrGrantNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return g.EffectiveExpiry(), true, nil
	})
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}

// HandleEvents handles GET /api/grants/expiry/events
func (h *MonitorHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	sess, _ := session.FromContext(ctx)
	key := sess.ID.String()

	prompts := make(chan monitor.Prompt, 1)
	prompter := monitor.PrompterFunc(func(ctx context.Context, p monitor.Prompt) {
		select {
		case prompts <- p:
		default:
		}
	})

	m := monitor.New(h.expirySource(sess.SubjectID), prompter, h.Redirector, h.Capability, h.Options...)
	if err := h.Registry.Open(ctx, key, m); err != nil {
		if errors.Is(err, monitor.ErrRegistryClosed) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		response.ErrorResponse(w, apperrors.InternalError("Failed to start expiry monitor", err), h.Logger)
		return
	}
	defer h.Registry.Release(key, m)

	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, "state", map[string]string{"state": m.State().String()}); err != nil {
		h.Logger.WarnContext(ctx, "Expiry stream unavailable", slog.String("error", err.Error()))
		return
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Registry.Done():
			return
		case p := <-prompts:
			if err := writeEvent(w, rc, "prompt", p); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *MonitorHandler) transitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrNoMonitor):
		response.ErrorResponse(w, apperrors.NotFoundError("No expiry monitor is open for this session", err), nil)
	case errors.Is(err, monitor.ErrInvalidTransition):
		response.ErrorResponse(w, apperrors.ConflictError("No reauthorization prompt is pending", err), nil)
	default:
		response.ErrorResponse(w, err, h.Logger)
	}
}

// HandleDismiss handles POST /api/grants/expiry/dismiss
func (h *MonitorHandler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess, _ := session.FromContext(r.Context())
	if err := h.Registry.Dismiss(sess.ID.String()); err != nil {
		h.transitionError(w, err)
		return
	}

	response.NoContent(w)
}

// HandleReauthorize handles POST /api/grants/expiry/reauthorize. The page
// navigates to the returned URL itself.
func (h *MonitorHandler) HandleReauthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ReauthorizeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorResponse(w, apperrors.DecodeError("Invalid request body", err), h.Logger)
			return
		}
	}
	if req.ReturnTo == "" {
		req.ReturnTo = r.URL.Query().Get("return_to")
	}

	sess, _ := session.FromContext(r.Context())
	redirect, err := h.Registry.Reauthorize(sess.ID.String(), req.ReturnTo)
	if err != nil {
		h.transitionError(w, err)
		return
	}

	response.JSONResponse(w, http.StatusOK, ReauthorizeResponse{RedirectURL: redirect})
}
