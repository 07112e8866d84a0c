package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/license"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"github.com/freekieb7/formlink/internal/web/response"
)

type VerifyLicenseRequest struct {
	LicenseKey string `json:"licenseKey"`
	Domain     string `json:"domain"`
}

type LicenseHandler struct {
	Logger      *slog.Logger
	Verifier    *license.Verifier
	RateLimiter middleware.RateLimiter
	Limit       middleware.RateLimit
}

func (h *LicenseHandler) RegisterRoutes(mux *http.ServeMux) {
	var verify http.Handler = http.HandlerFunc(h.HandleVerify)
	if h.RateLimiter != nil {
		verify = middleware.RateLimitMiddleware(h.RateLimiter, h.Limit, h.Logger)(verify)
	}
	mux.Handle("/api/licenses/verify", middleware.APITimeoutMiddleware(h.Logger)(verify))
}

// HandleVerify handles POST /api/licenses/verify
func (h *LicenseHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	var req VerifyLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorResponse(w, apperrors.DecodeError("Invalid request body", err), h.Logger)
		return
	}

	details := map[string]string{}
	if strings.TrimSpace(req.LicenseKey) == "" {
		details["licenseKey"] = "required"
	}
	if strings.TrimSpace(req.Domain) == "" {
		details["domain"] = "required"
	}
	if len(details) > 0 {
		response.ValidationErrorResponse(w, "licenseKey and domain are required", details, h.Logger)
		return
	}

	result, err := h.Verifier.Verify(ctx, req.LicenseKey, req.Domain)
	if err != nil {
		response.ErrorResponse(w, apperrors.DatabaseError("Failed to verify license", err), h.Logger)
		return
	}

	if !result.Valid {
		h.Logger.InfoContext(ctx, "License rejected",
			slog.String("reason", result.Reason),
			slog.String("domain", req.Domain))
	}

	response.JSONResponse(w, http.StatusOK, result)
}
