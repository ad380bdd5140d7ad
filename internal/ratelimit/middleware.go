package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/al-bashkir/ipo-result-relay/internal/logsanitize"
)

// statsTimeout bounds how long a request waits on the stats backend.
const statsTimeout = 250 * time.Millisecond

// Options configures Middleware.
type Options struct {
	Limiter *FixedWindow
	Stats   StatsStore // optional

	// RouteKey returns the route template a request matches, or "" when
	// none does. Without it every request is recorded as UnmatchedRoute.
	RouteKey func(*http.Request) string
}

type rejection struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Middleware counts every request against the global window and answers
// 429 once the ceiling is passed.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec := opts.Limiter.Allow()

			if opts.Stats != nil {
				ev := StatsEvent{Allowed: dec.Allowed, Method: r.Method, At: time.Now()}
				if opts.RouteKey != nil {
					ev.Route = opts.RouteKey(r)
				}
				ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
				if err := opts.Stats.Record(ctx, ev); err != nil {
					slog.Debug("rate limit stats not recorded", "error", err)
				}
				cancel()
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining(), 10))

			if !dec.Allowed {
				slog.Warn("rate limit exceeded", // #nosec G706 -- values sanitized via logsanitize
					"path", logsanitize.Sanitize(r.URL.Path),
					"count", dec.Count,
					"limit", dec.Limit,
				)

				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(dec.RetryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rejection{Success: false, Message: "Too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
