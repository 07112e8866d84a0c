package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return true
	}
	return false
}

type Config struct {
	Server    Server
	Database  Database
	Security  Security
	RateLimit RateLimit
	Cache     Cache
	Provider  Provider
	Refresh   Refresh
	Monitor   Monitor
	Events    Events
	Catalog   Catalog

	BaseURL string
	// LandingPath is where a failed or unsafe reauthorization resumes.
	LandingPath string
}

type Server struct {
	Port           int
	Environment    Environment
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
}

func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

// GetBaseURL returns the configured base URL or constructs one from server config
func (c Config) GetBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}

	scheme := "http"
	if c.Server.IsProduction() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d", scheme, c.Server.Port)
}

type Database struct {
	URL             string
	MaxOpenConns    int32
	MaxIdleConns    int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type Security struct {
	// CronSecret guards the batch refresh endpoint. Empty means unconfigured.
	CronSecret string
	// StateSigningKey signs the reauthorization state parameter.
	StateSigningKey string
	// TokenEncryptionKey is a base64 encoded 32 byte key sealing stored tokens.
	TokenEncryptionKey string

	EnableHSTS            bool
	HSTSMaxAge            int
	ContentSecurityPolicy string
	ReferrerPolicy        string
}

type RateLimit struct {
	Enabled         bool
	LicenseRequests int
	WindowDuration  time.Duration
}

type Cache struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	Prefix        string
	ReportTTL     time.Duration
}

// Provider describes the identity provider this service is a client of.
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	HTTPTimeout  time.Duration
}

type Refresh struct {
	Window          time.Duration
	Concurrency     int
	ExchangeTimeout time.Duration
	// DefaultLifetime applies when the provider omits expires_in.
	DefaultLifetime time.Duration
}

type Monitor struct {
	Lookahead    time.Duration
	PollInterval time.Duration
	Capability   string
}

type Events struct {
	AMQPURL  string
	Exchange string
}

// Load loads configuration with proper error handling
func Load() (Config, error) {
	var config Config
	var err error

	// Server configuration
	config.Server.Port, err = getEnvIntSafe("SERVER_PORT", 8080, false)
	if err != nil {
		return config, fmt.Errorf("server port config error: %w", err)
	}

	config.Server.Environment, err = getEnvEnvironmentSafe("SERVER_ENVIRONMENT", EnvDevelopment, false)
	if err != nil {
		return config, fmt.Errorf("server environment config error: %w", err)
	}

	config.Server.WriteTimeout, err = getEnvDurationSafe("SERVER_WRITE_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server write timeout config error: %w", err)
	}

	config.Server.ReadTimeout, err = getEnvDurationSafe("SERVER_READ_TIMEOUT", 15*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server read timeout config error: %w", err)
	}

	config.Server.IdleTimeout, err = getEnvDurationSafe("SERVER_IDLE_TIMEOUT", 60*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("server idle timeout config error: %w", err)
	}

	config.Server.MaxHeaderBytes, err = getEnvIntSafe("SERVER_MAX_HEADER_BYTES", 1<<20, false)
	if err != nil {
		return config, fmt.Errorf("server max header bytes config error: %w", err)
	}

	// Database configuration
	config.Database.URL, err = getEnvStringSafe("DB_URL", "", true)
	if err != nil {
		return config, fmt.Errorf("database URL config error: %w", err)
	}

	config.Database.MaxOpenConns, err = getEnvInt32Safe("DB_MAX_OPEN_CONNS", 25, false)
	if err != nil {
		return config, fmt.Errorf("database max open conns config error: %w", err)
	}

	config.Database.MaxIdleConns, err = getEnvInt32Safe("DB_MAX_IDLE_CONNS", 5, false)
	if err != nil {
		return config, fmt.Errorf("database max idle conns config error: %w", err)
	}

	config.Database.ConnMaxLifetime, err = getEnvDurationSafe("DB_CONN_MAX_LIFETIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max lifetime config error: %w", err)
	}

	config.Database.ConnMaxIdleTime, err = getEnvDurationSafe("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("database conn max idle time config error: %w", err)
	}

	// Security configuration
	config.Security.CronSecret, err = getEnvStringSafe("CRON_SECRET", "", false)
	if err != nil {
		return config, fmt.Errorf("cron secret config error: %w", err)
	}

	config.Security.StateSigningKey, err = getEnvStringSafe("STATE_SIGNING_KEY", "", true)
	if err != nil {
		return config, fmt.Errorf("state signing key config error: %w", err)
	}

	config.Security.TokenEncryptionKey, err = getEnvStringSafe("TOKEN_ENCRYPTION_KEY", "", true)
	if err != nil {
		return config, fmt.Errorf("token encryption key config error: %w", err)
	}

	config.Security.EnableHSTS, err = getEnvBoolSafe("SECURITY_ENABLE_HSTS", true, false)
	if err != nil {
		return config, fmt.Errorf("HSTS enable config error: %w", err)
	}

	config.Security.HSTSMaxAge, err = getEnvIntSafe("SECURITY_HSTS_MAX_AGE", 31536000, false)
	if err != nil {
		return config, fmt.Errorf("HSTS max age config error: %w", err)
	}

	config.Security.ContentSecurityPolicy, err = getEnvStringSafe("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'", false)
	if err != nil {
		return config, fmt.Errorf("CSP config error: %w", err)
	}

	config.Security.ReferrerPolicy, err = getEnvStringSafe("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin", false)
	if err != nil {
		return config, fmt.Errorf("referrer policy config error: %w", err)
	}

	// Rate limit configuration
	config.RateLimit.Enabled, err = getEnvBoolSafe("RATE_LIMIT_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("rate limit enabled config error: %w", err)
	}

	config.RateLimit.LicenseRequests, err = getEnvIntSafe("RATE_LIMIT_LICENSE_REQUESTS", 60, false)
	if err != nil {
		return config, fmt.Errorf("rate limit license requests config error: %w", err)
	}

	config.RateLimit.WindowDuration, err = getEnvDurationSafe("RATE_LIMIT_WINDOW_DURATION", time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("rate limit window duration config error: %w", err)
	}

	config.BaseURL, err = getEnvStringSafe("BASE_URL", "", false)
	if err != nil {
		return config, fmt.Errorf("base URL config error: %w", err)
	}

	config.LandingPath, err = getEnvStringSafe("LANDING_PATH", "/", false)
	if err != nil {
		return config, fmt.Errorf("landing path config error: %w", err)
	}

	// Cache configuration
	config.Cache.Enabled, err = getEnvBoolSafe("CACHE_ENABLED", true, false)
	if err != nil {
		return config, fmt.Errorf("cache enabled config error: %w", err)
	}

	config.Cache.RedisAddr, err = getEnvStringSafe("REDIS_ADDR", "localhost:6379", false)
	if err != nil {
		return config, fmt.Errorf("Redis address config error: %w", err)
	}

	config.Cache.RedisPassword, err = getEnvStringSafe("REDIS_PASSWORD", "", false)
	if err != nil {
		return config, fmt.Errorf("Redis password config error: %w", err)
	}

	config.Cache.RedisDB, err = getEnvIntSafe("REDIS_DB", 0, false)
	if err != nil {
		return config, fmt.Errorf("Redis DB config error: %w", err)
	}

	config.Cache.RedisPoolSize, err = getEnvIntSafe("REDIS_POOL_SIZE", 10, false)
	if err != nil {
		return config, fmt.Errorf("Redis pool size config error: %w", err)
	}

	config.Cache.Prefix, err = getEnvStringSafe("REDIS_PREFIX", "formlink:", false)
	if err != nil {
		return config, fmt.Errorf("Redis prefix config error: %w", err)
	}

	config.Cache.ReportTTL, err = getEnvDurationSafe("CACHE_REPORT_TTL", 7*24*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("cache report TTL config error: %w", err)
	}

	// Identity provider configuration
	config.Provider.Name, err = getEnvStringSafe("PROVIDER_NAME", "google", false)
	if err != nil {
		return config, fmt.Errorf("provider name config error: %w", err)
	}

	config.Provider.ClientID, err = getEnvStringSafe("PROVIDER_CLIENT_ID", "", true)
	if err != nil {
		return config, fmt.Errorf("provider client ID config error: %w", err)
	}

	config.Provider.ClientSecret, err = getEnvStringSafe("PROVIDER_CLIENT_SECRET", "", true)
	if err != nil {
		return config, fmt.Errorf("provider client secret config error: %w", err)
	}

	config.Provider.AuthURL, err = getEnvStringSafe("PROVIDER_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth", false)
	if err != nil {
		return config, fmt.Errorf("provider auth URL config error: %w", err)
	}

	config.Provider.TokenURL, err = getEnvStringSafe("PROVIDER_TOKEN_URL", "https://oauth2.googleapis.com/token", false)
	if err != nil {
		return config, fmt.Errorf("provider token URL config error: %w", err)
	}

	config.Provider.RedirectURL, err = getEnvStringSafe("PROVIDER_REDIRECT_URL", config.GetBaseURL()+"/oauth/callback", false)
	if err != nil {
		return config, fmt.Errorf("provider redirect URL config error: %w", err)
	}

	config.Provider.HTTPTimeout, err = getEnvDurationSafe("PROVIDER_HTTP_TIMEOUT", 30*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("provider HTTP timeout config error: %w", err)
	}

	// Batch refresh configuration
	config.Refresh.Window, err = getEnvDurationSafe("REFRESH_WINDOW", 24*time.Hour, false)
	if err != nil {
		return config, fmt.Errorf("refresh window config error: %w", err)
	}

	config.Refresh.Concurrency, err = getEnvIntSafe("REFRESH_CONCURRENCY", 8, false)
	if err != nil {
		return config, fmt.Errorf("refresh concurrency config error: %w", err)
	}
	if config.Refresh.Concurrency < 1 {
		return config, fmt.Errorf("refresh concurrency config error: must be at least 1, got %d", config.Refresh.Concurrency)
	}

	config.Refresh.ExchangeTimeout, err = getEnvDurationSafe("REFRESH_EXCHANGE_TIMEOUT", 10*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("refresh exchange timeout config error: %w", err)
	}

	config.Refresh.DefaultLifetime, err = getEnvDurationSafe("REFRESH_DEFAULT_LIFETIME", 30*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("refresh default lifetime config error: %w", err)
	}

	// Expiry monitor configuration
	config.Monitor.Lookahead, err = getEnvDurationSafe("MONITOR_LOOKAHEAD", 15*time.Minute, false)
	if err != nil {
		return config, fmt.Errorf("monitor lookahead config error: %w", err)
	}

	config.Monitor.PollInterval, err = getEnvDurationSafe("MONITOR_POLL_INTERVAL", 60*time.Second, false)
	if err != nil {
		return config, fmt.Errorf("monitor poll interval config error: %w", err)
	}

	config.Monitor.Capability, err = getEnvStringSafe("MONITOR_CAPABILITY", "sheets.write", false)
	if err != nil {
		return config, fmt.Errorf("monitor capability config error: %w", err)
	}

	// Event publishing configuration
	config.Events.AMQPURL, err = getEnvStringSafe("AMQP_URL", "", false)
	if err != nil {
		return config, fmt.Errorf("AMQP URL config error: %w", err)
	}

	config.Events.Exchange, err = getEnvStringSafe("AMQP_EXCHANGE", "formlink.grants", false)
	if err != nil {
		return config, fmt.Errorf("AMQP exchange config error: %w", err)
	}

	// Capability catalog
	catalogPath, err := getEnvStringSafe("CAPABILITY_CATALOG_PATH", "", false)
	if err != nil {
		return config, fmt.Errorf("capability catalog path config error: %w", err)
	}

	config.Catalog, err = LoadCatalog(catalogPath)
	if err != nil {
		return config, fmt.Errorf("capability catalog config error: %w", err)
	}

	return config, nil
}

// Config helpers return errors instead of exiting

func getEnvStringSafe(key, defaultValue string, required bool) (string, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	return value, nil
}

func getEnvIntSafe(key string, defaultValue int, required bool) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return value, nil
}

func getEnvInt32Safe(key string, defaultValue int32, required bool) (int32, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return int32(value), nil
}

func getEnvDurationSafe(key string, defaultValue time.Duration, required bool) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return 0, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a valid duration: %w", key, err)
	}
	return value, nil
}

func getEnvBoolSafe(key string, defaultValue bool, required bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return false, fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("environment variable %s must be a valid boolean: %w", key, err)
	}
	return value, nil
}

func getEnvEnvironmentSafe(key string, defaultValue Environment, required bool) (Environment, error) {
	env, exists := os.LookupEnv(key)
	if !exists {
		if required {
			return "", fmt.Errorf("environment variable %s is required", key)
		}
		return defaultValue, nil
	}
	envValue := Environment(env)
	if !envValue.IsValid() {
		return "", fmt.Errorf("environment variable %s has invalid value: %s", key, env)
	}
	return envValue, nil
}
