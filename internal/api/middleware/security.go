package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/config"
	"github.com/escrowd/coordinator/internal/httputil"
)

// apiKeyHeader is the header every endpoint requires once API keys are
// configured. /live and /health are exempt so a load balancer never needs a
// key to probe them.
const apiKeyHeader = "x-api-key"

// APIKeyAuth rejects requests carrying a missing, unknown, or revoked API
// key. When no keys are configured, auth is a no-op (local/dev mode).
func APIKeyAuth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.AuthEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(apiKeyHeader)
			if !cfg.IsAPIKeyValid(key) {
				slog.Warn("rejected request with invalid api key", "path", r.URL.Path, "remoteAddr", r.RemoteAddr)
				httputil.WriteError(w, apperr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS sets CORS headers for origins present in cfg.AllowOrigins (or any
// origin when the list contains "*").
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && cfg.IsOriginAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+apiKeyHeader)
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limiter lazily allocates a per-key token bucket so each caller is rate
// limited independently instead of sharing one global bucket.
type limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiter(rps rate.Limit, burst int) *limiter {
	return &limiter{buckets: map[string]*rate.Limiter{}, rps: rps, burst: burst}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// parseRateLimit parses configs of the form "<n>/minute" or "<n>/second"
// into a per-second rate.Limit, defaulting to 100/minute on malformed input.
func parseRateLimit(s string) rate.Limit {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return rate.Limit(100.0 / 60.0)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n <= 0 {
		return rate.Limit(100.0 / 60.0)
	}
	switch strings.ToLower(parts[1]) {
	case "second":
		return rate.Limit(n)
	case "minute":
		return rate.Limit(float64(n) / 60.0)
	case "hour":
		return rate.Limit(float64(n) / 3600.0)
	default:
		return rate.Limit(float64(n) / 60.0)
	}
}

// RateLimit enforces cfg.RateLimit per caller, keyed by API key when present
// and by remote address otherwise. Bursts up to the per-minute equivalent
// of one second's worth of requests are absorbed.
func RateLimit(cfg *config.Config) func(http.Handler) http.Handler {
	rps := parseRateLimit(cfg.RateLimit)
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	l := newLimiter(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				key = r.RemoteAddr
			}
			if !l.allow(key) {
				w.Header().Set("Retry-After", "1")
				httputil.WriteError(w, apperr.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer turns a panicking handler into a 500 response instead of
// crashing the server, logging the recovered value for diagnosis.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered in http handler",
					"path", r.URL.Path,
					"panic", rec,
				)
				httputil.WriteError(w, errors.New("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
