package middleware

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/freekieb7/formlink/internal/config"
	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/freekieb7/formlink/internal/web/response"
)

// SecurityHeadersConfig allows customization of security headers
type SecurityHeadersConfig struct {
	EnableHSTS     bool
	HSTSMaxAge     int
	CSP            string
	ReferrerPolicy string
}

// SecurityHeadersFromConfig creates SecurityHeadersConfig from the security settings
func SecurityHeadersFromConfig(cfg config.Security) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:     cfg.EnableHSTS,
		HSTSMaxAge:     cfg.HSTSMaxAge,
		CSP:            cfg.ContentSecurityPolicy,
		ReferrerPolicy: cfg.ReferrerPolicy,
	}
}

func SecurityHeadersWithConfig(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			if cfg.EnableHSTS {
				w.Header().Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSMaxAge))
			}

			if cfg.CSP != "" {
				w.Header().Set("Content-Security-Policy", cfg.CSP)
			}

			if cfg.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", cfg.ReferrerPolicy)
			}

			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

			// Grant state and provider redirects must never be cached
			if isCredentialEndpoint(r.URL.Path) {
				w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
				w.Header().Set("Pragma", "no-cache")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// InputValidationMiddleware limits request bodies and only accepts JSON or
// form encoded mutations.
func InputValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				if contentType := r.Header.Get("Content-Type"); contentType != "" {
					mediaType, _, err := mime.ParseMediaType(contentType)
					if err != nil || (mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded") {
						response.JSONResponse(w, http.StatusUnsupportedMediaType, response.APIResponse{
							Code:    http.StatusUnsupportedMediaType,
							Status:  "error",
							Message: "Unsupported Content-Type",
							Data:    map[string]string{"error_code": apperrors.CodeValidationFailed},
						})
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isCredentialEndpoint(path string) bool {
	for _, prefix := range []string{"/oauth/", "/api/grants/", "/api/account/", "/api/cron/"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
