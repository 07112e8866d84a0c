package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// TimeoutConfig represents timeout configuration
type TimeoutConfig struct {
	Timeout time.Duration
	Message string
	Logger  *slog.Logger
}

// writeGrace lets the timeout response itself reach the client.
const writeGrace = 5 * time.Second

// TimeoutMiddleware creates a middleware that enforces request timeouts.
// The handler writes into a buffer that is copied out once it returns, so
// writes after the timeout are dropped instead of racing the timeout reply.
func TimeoutMiddleware(config TimeoutConfig) func(http.Handler) http.Handler {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second // Default timeout
	}
	if config.Message == "" {
		config.Message = "Request timeout"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The server write timeout must not cut a response this route may still send
			_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(config.Timeout + writeGrace))

			// Create context with timeout
			ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
			defer cancel()

			tw := &timeoutWriter{header: make(http.Header)}
			done := make(chan struct{})
			var panicErr interface{}

			// Use a goroutine to handle the request
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicErr = p
					}
					close(done)
				}()

				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				// Request completed normally, check for panic
				if panicErr != nil {
					if config.Logger != nil {
						config.Logger.ErrorContext(ctx, "Request panic recovered",
							slog.Any("panic", panicErr),
							slog.String("path", r.URL.Path),
							slog.String("method", r.Method))
					}
					http.Error(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				tw.flushTo(w)
			case <-ctx.Done():
				tw.mu.Lock()
				tw.timedOut = true
				tw.mu.Unlock()

				if config.Logger != nil {
					config.Logger.WarnContext(ctx, "Request timeout",
						slog.Duration("timeout", config.Timeout),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method))
				}
				http.Error(w, config.Message, http.StatusRequestTimeout)
			}
		})
	}
}

type timeoutWriter struct {
	header http.Header

	mu          sync.Mutex
	buf         bytes.Buffer
	code        int
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.header }

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.writeHeaderLocked(http.StatusOK)
	}
	return tw.buf.Write(p)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	tw.wroteHeader = true
	tw.code = code
}

// flushTo copies the buffered response to w. Only called after the handler returned.
func (tw *timeoutWriter) flushTo(w http.ResponseWriter) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	dst := w.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	if !tw.wroteHeader {
		tw.code = http.StatusOK
	}
	w.WriteHeader(tw.code)
	_, _ = w.Write(tw.buf.Bytes())
}

// APITimeoutMiddleware creates timeout middleware optimized for API endpoints
func APITimeoutMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return TimeoutMiddleware(TimeoutConfig{
		Timeout: 15 * time.Second,
		Message: "API request timeout",
		Logger:  logger,
	})
}

// CallbackTimeoutMiddleware bounds the identity provider callback, which
// performs one code exchange.
func CallbackTimeoutMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return TimeoutMiddleware(TimeoutConfig{
		Timeout: 20 * time.Second,
		Message: "Callback request timeout",
		Logger:  logger,
	})
}

// CronTimeoutMiddleware bounds a whole refresh batch.
func CronTimeoutMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return TimeoutMiddleware(TimeoutConfig{
		Timeout: 5 * time.Minute,
		Message: "Refresh batch timeout",
		Logger:  logger,
	})
}
