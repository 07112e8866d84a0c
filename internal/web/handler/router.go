package handler

import (
	"log/slog"
	"net/http"

	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/middleware"
)

// Router assembles every route of the service behind the shared middleware.
type Router struct {
	Logger   *slog.Logger
	Sessions session.Repository
	Security middleware.SecurityHeadersConfig

	Health   *HealthHandler
	Cron     *CronHandler
	Grants   *GrantHandler
	Callback *CallbackHandler
	Licenses *LicenseHandler
	Monitor  *MonitorHandler
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	if rt.Health != nil {
		rt.Health.RegisterRoutes(mux)
	}
	rt.Cron.RegisterRoutes(mux)
	rt.Grants.RegisterRoutes(mux)
	rt.Callback.RegisterRoutes(mux)
	rt.Licenses.RegisterRoutes(mux)
	rt.Monitor.RegisterRoutes(mux)

	return middleware.Chain(mux,
		middleware.Recover(rt.Logger),
		middleware.Logging(rt.Logger),
		middleware.SecurityHeadersWithConfig(rt.Security),
		middleware.InputValidationMiddleware(),
		middleware.Session(rt.Logger, rt.Sessions),
	)
}
