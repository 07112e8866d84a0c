package container

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/freekieb7/formlink/internal/cache"
	"github.com/freekieb7/formlink/internal/config"
	"github.com/freekieb7/formlink/internal/database"
	"github.com/freekieb7/formlink/internal/events"
	"github.com/freekieb7/formlink/internal/grant"
	"github.com/freekieb7/formlink/internal/health"
	"github.com/freekieb7/formlink/internal/license"
	"github.com/freekieb7/formlink/internal/monitor"
	"github.com/freekieb7/formlink/internal/reauth"
	"github.com/freekieb7/formlink/internal/refresh"
	"github.com/freekieb7/formlink/internal/secret"
	"github.com/freekieb7/formlink/internal/session"
	"github.com/freekieb7/formlink/internal/web/handler"
	"github.com/freekieb7/formlink/internal/web/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Version is stamped at build time.
var Version = "dev"

// Container holds every long-lived dependency of the service.
type Container struct {
	Config         config.Config
	Logger         *slog.Logger
	Database       *database.Database
	Cache          *cache.Service
	Grants         *grant.PostgresStore
	Sessions       *session.Store
	Licenses       *license.PostgresStore
	Verifier       *license.Verifier
	Reports        refresh.ReportStore
	Publisher      events.Publisher
	OAuth          *oauth2.Config
	ProviderClient *http.Client
	Flow           *reauth.Flow
	Scheduler      *refresh.Scheduler
	Registry       *monitor.Registry
}

// NewLogger returns a text logger for development and JSON elsewhere.
func NewLogger(env config.Environment) *slog.Logger {
	if env == config.EnvDevelopment {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Registry: monitor.NewRegistry(),
	}

	// Data sources
	db := database.NewDatabase()
	if err := db.Connect(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	c.Database = &db

	cacheService, err := cache.NewService(cache.FromConfig(cfg.Cache), logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect cache: %w", err)
	}
	c.Cache = cacheService

	box, err := secret.NewBoxFromBase64(cfg.Security.TokenEncryptionKey)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid token encryption key: %w", err)
	}

	// Stores
	c.Grants = grant.NewPostgresStore(c.Database, box)
	c.Sessions = session.NewStore(c.Database)
	c.Licenses = license.NewPostgresStore(c.Database)
	c.Verifier = license.NewVerifier(c.Licenses)
	c.Reports = refresh.NewCacheReportStore(c.Cache, cfg.Cache.ReportTTL)

	// Events
	c.Publisher = events.NoopPublisher{}
	if cfg.Events.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Publisher = publisher
	}

	// Identity provider
	c.ProviderClient = &http.Client{
		Timeout:   cfg.Provider.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	c.OAuth = &oauth2.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		RedirectURL:  cfg.Provider.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Provider.AuthURL,
			TokenURL: cfg.Provider.TokenURL,
		},
	}

	codec, err := reauth.NewStateCodec([]byte(cfg.Security.StateSigningKey), reauth.DefaultStateTTL)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid state signing key: %w", err)
	}
	c.Flow = reauth.NewFlow(c.OAuth, cfg.Catalog, codec, cfg.LandingPath, logger)

	scheduler := refresh.NewScheduler(c.Grants, refresh.NewOAuth2Exchanger(c.OAuth, c.ProviderClient), logger)
	scheduler.Publisher = c.Publisher
	scheduler.Reports = c.Reports
	scheduler.Window = cfg.Refresh.Window
	scheduler.Concurrency = cfg.Refresh.Concurrency
	scheduler.ExchangeTimeout = cfg.Refresh.ExchangeTimeout
	scheduler.DefaultLifetime = cfg.Refresh.DefaultLifetime
	c.Scheduler = scheduler

	return c, nil
}

func (c *Container) rateLimiter() middleware.RateLimiter {
	if !c.Config.RateLimit.Enabled {
		return nil
	}
	if c.Config.Cache.Enabled {
		return middleware.NewCounterRateLimiter(c.Cache)
	}
	return middleware.NewInMemoryRateLimiter()
}

// HTTPHandler builds the routed, instrumented handler of the service.
func (c *Container) HTTPHandler() http.Handler {
	cfg := c.Config
	checker := health.NewChecker(c.Database, health.PingFunc(c.Cache.Health), c.Reports, c.Logger)
	checker.Version = Version
	healthHandler := handler.NewHealthHandler(&checker)
	cron := handler.NewCronHandler(c.Logger, c.Scheduler, c.Reports, c.Cache, func() string {
		return cfg.Security.CronSecret
	})

	router := &handler.Router{
		Logger:   c.Logger,
		Sessions: c.Sessions,
		Security: middleware.SecurityHeadersFromConfig(cfg.Security),
		Health:   &healthHandler,
		Cron:     &cron,
		Grants: &handler.GrantHandler{
			Logger:    c.Logger,
			Grants:    c.Grants,
			Flow:      c.Flow,
			Catalog:   cfg.Catalog,
			Provider:  cfg.Provider.Name,
			Lookahead: cfg.Monitor.Lookahead,
			Registry:  c.Registry,
			Sessions:  c.Sessions,
			Publisher: c.Publisher,
		},
		Callback: &handler.CallbackHandler{
			Logger:          c.Logger,
			Flow:            c.Flow,
			Grants:          c.Grants,
			Provider:        cfg.Provider.Name,
			HTTPClient:      c.ProviderClient,
			DefaultLifetime: cfg.Refresh.DefaultLifetime,
		},
		Licenses: &handler.LicenseHandler{
			Logger:      c.Logger,
			Verifier:    c.Verifier,
			RateLimiter: c.rateLimiter(),
			Limit: middleware.RateLimit{
				Requests: cfg.RateLimit.LicenseRequests,
				Window:   cfg.RateLimit.WindowDuration,
				KeyFunc:  middleware.KeyByIP,
				Scope:    "license",
			},
		},
		Monitor: &handler.MonitorHandler{
			Logger:     c.Logger,
			Registry:   c.Registry,
			Grants:     c.Grants,
			Redirector: c.Flow,
			Provider:   cfg.Provider.Name,
			Capability: cfg.Monitor.Capability,
			Options: []monitor.Option{
				monitor.WithLookahead(cfg.Monitor.Lookahead),
				monitor.WithPollInterval(cfg.Monitor.PollInterval),
				monitor.WithLogger(c.Logger),
			},
		},
	}

	// Event streams bypass instrumentation so the writer keeps its flush
	// and deadline controls
	return otelhttp.NewHandler(router.Handler(), "formlink",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/api/grants/expiry/events"
		}),
	)
}

// Close releases everything New acquired. Monitors are stopped first so
// no poll runs against a closed pool.
func (c *Container) Close() {
	if c.Registry != nil {
		c.Registry.CloseAll()
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("Failed to close event publisher", slog.String("error", err.Error()))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Logger.Warn("Failed to close cache", slog.String("error", err.Error()))
		}
	}
	if c.Database != nil {
		c.Database.Close()
	}
}
