package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles control requests per remote address.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	rps     rate.Limit
	burst   int
}

// NewRateLimiter allows perMinute requests per client. A burst of 0 allows
// a tenth of the minute's budget at once.
func NewRateLimiter(perMinute int, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	if burst <= 0 {
		burst = perMinute / 10
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		clients: map[string]*limiterEntry{},
		rps:     rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientKey(r)).Allow() {
			writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, e := range rl.clients {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(rl.clients, k)
		}
	}

	if l, ok := rl.clients[key]; ok {
		l.lastSeen = now
		return l.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients[key] = &limiterEntry{limiter: lim, lastSeen: now}
	return lim
}
