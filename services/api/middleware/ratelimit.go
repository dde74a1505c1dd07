package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ramiqadoumi/engageflow/pkg/telemetry"
)

// Limiter decides whether key may make another request. The Redis sliding
// window limiter and LocalLimiter both satisfy it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// RateLimit rejects requests once the authenticated owner exceeds l. Limiter
// errors let the request through.
func RateLimit(l Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := OwnerID(r.Context())
			if key == "" {
				key = "anon:" + r.RemoteAddr
			}
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
				ok = true
			}
			if !ok {
				telemetry.APIRateLimitedTotal.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Limit()))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LocalLimiter is an in-process token bucket per key, for single-instance
// deployments without Redis.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   int
	every   rate.Limit
}

// NewLocalLimiter allows limit requests per window per key, refilled evenly.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   limit,
		every:   rate.Every(window / time.Duration(max(limit, 1))),
	}
}

func (l *LocalLimiter) Limit() int { return l.limit }

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.limit)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}
