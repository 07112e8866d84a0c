package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/web/response"
)

// RateLimit defines rate limiting parameters for one group of endpoints
type RateLimit struct {
	Requests int           // Number of requests allowed
	Window   time.Duration // Time window for the requests
	KeyFunc  KeyFunction   // Function to generate the rate limiting key
	Scope    string        // Prefix keeping groups apart in a shared limiter
}

// KeyFunction defines how to generate the rate limiting key from the request
type KeyFunction func(r *http.Request) string

var (
	// KeyByIP generates keys based on client IP address
	KeyByIP KeyFunction = func(r *http.Request) string {
		return GetClientIP(r)
	}

	// KeyGlobal uses a single global key for all requests
	KeyGlobal KeyFunction = func(r *http.Request) string {
		return "global"
	}
)

// GetClientIP extracts the real client IP from the request
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (most common proxy header)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// Check X-Real-IP header (common in nginx)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Check CF-Connecting-IP header (Cloudflare)
	if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
		return strings.TrimSpace(cfIP)
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}

	return r.RemoteAddr
}

// RateLimitMiddleware creates a rate limiting middleware. A failing limiter
// lets the request through.
func RateLimitMiddleware(rateLimiter RateLimiter, limit RateLimit, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limit.KeyFunc(r)
			if key == "" {
				key = "unknown"
			}
			if limit.Scope != "" {
				key = limit.Scope + ":" + key
			}

			allowed, err := rateLimiter.Allow(r.Context(), key, limit.Requests, limit.Window)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "Rate limiter unavailable",
						slog.String("key", key),
						slog.String("error", err.Error()))
				}
				next.ServeHTTP(w, r)
				return
			}

			remaining, _ := rateLimiter.GetRemaining(r.Context(), key, limit.Requests, limit.Window)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Window", limit.Window.String())

			if !allowed {
				response.ErrorResponse(w, apperrors.RateLimitedError("Rate limit exceeded", nil), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
