package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/docvault/engine/pkg/metrics"
	"github.com/docvault/engine/pkg/ratelimit"
)

// RateLimit enforces the §4.7 sliding-refill bucket per remote IP and
// sets the Ratelimit-* response headers required by §6.
func RateLimit(registry *ratelimit.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := remoteIP(r)
			decision := registry.Take(key)

			w.Header().Set("Ratelimit-Limit", strconv.Itoa(registry.DefaultSize()))
			w.Header().Set("Ratelimit-Remaining", strconv.Itoa(decision.RemainingUses))
			w.Header().Set("Ratelimit-Reset", fmt.Sprintf("%d", decision.ResetTime.Unix()))

			if !decision.Fit {
				metrics.RateLimitRejections.WithLabelValues(key).Inc()
				http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
