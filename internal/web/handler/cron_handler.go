package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/refresh"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"github.com/freekieb7/formlink/internal/web/response"
)

const batchLockKey = "refresh:batch_lock"

// BatchRunner runs one refresh batch.
type BatchRunner interface {
	RunBatch(ctx context.Context) (refresh.Result, error)
}

// Locker is a best-effort cross-replica mutex. *cache.Service satisfies it.
type Locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type BatchSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type CronHandler struct {
	Logger  *slog.Logger
	Runner  BatchRunner
	Reports refresh.ReportStore
	Locker  Locker
	LockTTL time.Duration
	Secret  func() string
}

func NewCronHandler(logger *slog.Logger, runner BatchRunner, reports refresh.ReportStore, locker Locker, secret func() string) CronHandler {
	return CronHandler{
		Logger:  logger,
		Runner:  runner,
		Reports: reports,
		Locker:  locker,
		LockTTL: 10 * time.Minute,
		Secret:  secret,
	}
}

func (h *CronHandler) RegisterRoutes(mux *http.ServeMux) {
	guard := middleware.Chain(
		http.HandlerFunc(h.HandleRefreshGrants),
		middleware.CronAuth(h.Secret, h.Logger),
		middleware.CronTimeoutMiddleware(h.Logger),
	)
	mux.Handle("/api/cron/refresh-grants", guard)
	mux.Handle("/api/cron/refresh-grants/last", middleware.CronAuth(h.Secret, h.Logger)(http.HandlerFunc(h.HandleLastReport)))
}

// HandleRefreshGrants runs one batch. Schedulers may call it with GET or POST.
func (h *CronHandler) HandleRefreshGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	if h.Locker != nil {
		acquired, err := h.Locker.SetNX(ctx, batchLockKey, time.Now().UTC(), h.LockTTL)
		switch {
		case err != nil:
			// The trigger already runs batches one at a time
			h.Logger.WarnContext(ctx, "Batch lock unavailable, running unlocked", slog.String("error", err.Error()))
		case !acquired:
			response.ErrorResponse(w, apperrors.ConflictError("A refresh batch is already running", nil), h.Logger)
			return
		default:
			defer func() {
				if err := h.Locker.Delete(context.WithoutCancel(ctx), batchLockKey); err != nil {
					h.Logger.WarnContext(ctx, "Failed to release batch lock", slog.String("error", err.Error()))
				}
			}()
		}
	}

	result, err := h.Runner.RunBatch(ctx)
	if err != nil {
		response.ErrorResponse(w, apperrors.Wrap(err, apperrors.CodeDatabaseError, "Failed to list refreshable grants"), h.Logger)
		return
	}

	response.JSONResponse(w, http.StatusOK, BatchSummary{
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed(),
	})
}

// HandleLastReport returns the full report of the latest batch.
func (h *CronHandler) HandleLastReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report, err := h.Reports.LastReport(r.Context())
	if err != nil {
		if errors.Is(err, refresh.ErrNoReport) {
			response.ErrorResponse(w, apperrors.NotFoundError("No refresh run recorded", err), nil)
			return
		}
		response.ErrorResponse(w, apperrors.CacheError("Refresh report unavailable", err), h.Logger)
		return
	}

	response.SuccessResponse(w, report)
}
