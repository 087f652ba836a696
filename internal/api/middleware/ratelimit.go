package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/pkg/httputil"
)

// RateLimiter counts requests per key and window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// RateLimitMiddleware limits requests to /api/ per client IP.
type RateLimitMiddleware struct {
	limiter RateLimiter
	limit   int
	window  time.Duration
	logger  *zap.Logger
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter RateLimiter, limit int, window time.Duration, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
}

// Handler returns the middleware handler
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.limit <= 0 || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		allowed, count, err := m.limiter.CheckRateLimit(r.Context(), clientKey(r), m.limit, m.window)
		if err != nil {
			// Redis trouble must not take the API down.
			m.logger.Warn("rate limit check failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(m.limit-count, 0)))

		if !allowed {
			retry := m.window
			if retry <= 0 {
				retry = time.Minute
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			httputil.JSONError(w, http.StatusTooManyRequests, domain.ErrCodeRateLimited, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey uses RemoteAddr, which chi's RealIP middleware has already
// replaced with the forwarded client address.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
