// Package middleware contains HTTP middleware for the admin API.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"shopsync/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits requests per client address. The admin API is a
// low-traffic operational surface; the limiter mainly guards against
// runaway automation hammering the trigger endpoints.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // client host -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			limiter := getOrCreateLimiter(&limiters, host, rps, burst, 5*time.Minute)
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Too Many Requests",
					Code:  "429",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func getOrCreateLimiter(limiters *sync.Map, host string, rps float64, burst int, ttl time.Duration) *rate.Limiter {
	if limiter, ok := limiters.Load(host); ok {
		cached := limiter.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	limiters.Store(host, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
