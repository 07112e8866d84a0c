package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/freekieb7/formlink/internal/refresh"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger is a dependency that can prove it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger, e.g. cache.Service.Health.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Checker provides Kubernetes-ready health checks
type Checker struct {
	DB        Pinger
	Cache     Pinger
	Reports   refresh.ReportStore
	Logger    *slog.Logger
	Version   string
	StartedAt time.Time
}

func NewChecker(db Pinger, cache Pinger, reports refresh.ReportStore, logger *slog.Logger) Checker {
	return Checker{
		DB:        db,
		Cache:     cache,
		Reports:   reports,
		Logger:    logger,
		Version:   "dev",
		StartedAt: time.Now(),
	}
}

// HealthStatus represents comprehensive health information for Kubernetes
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	Details    *HealthDetails             `json:"details,omitempty"`
}

// ComponentHealth represents individual component health
type ComponentHealth struct {
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Latency     time.Duration `json:"latency_ms"`
	LastChecked string        `json:"last_checked"`
	Critical    bool          `json:"critical"`
}

type HealthDetails struct {
	Uptime        time.Duration `json:"uptime_seconds"`
	LastRefreshAt string        `json:"last_refresh_at,omitempty"`
}

// CheckHealth checks every dependency plus the last refresh run.
func (h *Checker) CheckHealth(ctx context.Context) HealthStatus {
	now := time.Now()
	components := map[string]ComponentHealth{
		"database": h.checkPinger(ctx, "database", h.DB, true),
		"cache":    h.checkPinger(ctx, "cache", h.Cache, false),
	}

	details := &HealthDetails{Uptime: now.Sub(h.StartedAt)}
	refreshHealth, lastRun := h.checkRefresh(ctx)
	components["refresh"] = refreshHealth
	if !lastRun.IsZero() {
		details.LastRefreshAt = lastRun.UTC().Format(time.RFC3339)
	}

	return HealthStatus{
		Status:     determineOverallStatus(components),
		Timestamp:  now.UTC().Format(time.RFC3339),
		Version:    h.Version,
		Components: components,
		Details:    details,
	}
}

// CheckLiveness only verifies the process is responsive.
func (h *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	now := time.Now()

	return HealthStatus{
		Status:    StatusHealthy,
		Timestamp: now.UTC().Format(time.RFC3339),
		Components: map[string]ComponentHealth{
			"process": {
				Status:      StatusHealthy,
				Message:     "service is responsive",
				LastChecked: now.UTC().Format(time.RFC3339),
				Critical:    true,
			},
		},
	}
}

// CheckReadiness checks the dependencies a request cannot be served without.
func (h *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	components := map[string]ComponentHealth{
		"database": h.checkPinger(ctx, "database", h.DB, true),
	}

	return HealthStatus{
		Status:     determineOverallStatus(components),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
}

func (h *Checker) checkPinger(ctx context.Context, name string, p Pinger, critical bool) ComponentHealth {
	start := time.Now()
	unavailable := StatusDegraded
	if critical {
		unavailable = StatusUnhealthy
	}

	if p == nil {
		return ComponentHealth{
			Status:      unavailable,
			Message:     name + " not configured",
			LastChecked: start.UTC().Format(time.RFC3339),
			Critical:    critical,
		}
	}

	err := p.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Health check failed",
			slog.String("component", name),
			slog.String("error", err.Error()),
			slog.Duration("latency", latency))
		return ComponentHealth{
			Status:      unavailable,
			Message:     name + " unreachable: " + err.Error(),
			Latency:     latency,
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    critical,
		}
	}

	status := StatusHealthy
	message := name + " reachable"
	if latency > 5*time.Second {
		status = unavailable
		message = name + " response time too slow"
	} else if latency > 100*time.Millisecond {
		status = StatusDegraded
		message = name + " response time elevated"
	}

	return ComponentHealth{
		Status:      status,
		Message:     message,
		Latency:     latency,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    critical,
	}
}

// checkRefresh reports the outcome of the latest batch. It never fails the
// service; a missing report only means no run has happened yet.
func (h *Checker) checkRefresh(ctx context.Context) (ComponentHealth, time.Time) {
	checked := time.Now().UTC().Format(time.RFC3339)
	if h.Reports == nil {
		return ComponentHealth{Status: StatusHealthy, Message: "no report store", LastChecked: checked}, time.Time{}
	}

	report, err := h.Reports.LastReport(ctx)
	if err != nil {
		if errors.Is(err, refresh.ErrNoReport) {
			return ComponentHealth{Status: StatusHealthy, Message: "no refresh run recorded", LastChecked: checked}, time.Time{}
		}
		return ComponentHealth{Status: StatusDegraded, Message: "refresh report unavailable: " + err.Error(), LastChecked: checked}, time.Time{}
	}

	if report.Processed > 0 && report.Succeeded == 0 {
		return ComponentHealth{Status: StatusDegraded, Message: "last refresh run had no successes", LastChecked: checked}, report.FinishedAt
	}
	return ComponentHealth{Status: StatusHealthy, Message: "last refresh run completed", LastChecked: checked}, report.FinishedAt
}

func determineOverallStatus(components map[string]ComponentHealth) string {
	hasUnhealthy := false
	hasDegraded := false

	for _, component := range components {
		if component.Critical && component.Status == StatusUnhealthy {
			hasUnhealthy = true
		}
		if component.Status == StatusDegraded {
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
