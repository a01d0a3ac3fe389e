package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// BearerAuth guards the admin routes with a static token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if token == "" || !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit admits rps requests per second across all clients with a small
// burst. Rejected requests get 429 and a Retry-After hint.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rps > 0 && !limiter.Allow() {
				wait := time.Duration(float64(time.Second) / rps)
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(wait.Seconds()))))
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests, try again shortly")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
