package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter map; it is cleared when full.
const maxTrackedClients = 10000

// RateLimiter is a per-client token bucket keyed by client IP.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	perMinute int
	onReject  func(r *http.Request)
}

// NewRateLimiter allows perMinute requests per client with a burst of the
// same size. onReject, if set, is called for every refused request.
func NewRateLimiter(perMinute int, onReject func(r *http.Request)) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     perMinute,
		perMinute: perMinute,
		onReject:  onReject,
	}
}

// Allow consumes a token for client.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) >= maxTrackedClients {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := rl.limiters[client]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[client] = l
	}
	return l.Allow()
}

// Middleware refuses requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.Allow(ClientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		if rl.onReject != nil {
			rl.onReject(r)
		}
		// Seconds until the next token.
		retry := (60 + rl.perMinute - 1) / rl.perMinute
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"Too many requests","message":"Too many requests","action":"Please wait a moment before trying again","code":"RATE001"}`))
	})
}
