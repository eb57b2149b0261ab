package httpapi

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// keyLimiter hands out one token bucket per key so one noisy user cannot
// exhaust the budget of everyone else.
type keyLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newKeyLimiter(limit rate.Limit, burst int) *keyLimiter {
	return &keyLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (k *keyLimiter) allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// rateLimit throttles per chat identity. Requests outside the user routes
// fall back to the remote address as the key.
func (h *handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "userID")
		if key == "" {
			key = r.RemoteAddr
		}
		if !h.limiter.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests. Slow down.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
