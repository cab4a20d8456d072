package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter implements per-client sliding window rate limiting. Each
// client key tracks timestamps of recent requests within the window.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	clients map[string][]time.Time
	now     func() time.Time
}

func newRateLimiter(requestsPerMin int) *rateLimiter {
	return &rateLimiter{
		window:  time.Minute,
		limit:   requestsPerMin,
		clients: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// allow reports whether the client may make another request now.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	events := rl.clients[key]
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	events = events[i:]

	if len(events) >= rl.limit {
		rl.clients[key] = events
		return false
	}

	rl.clients[key] = append(events, now)
	return true
}

// middleware rejects requests over the per-client limit with 429. The
// client key is the remote IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			key = r.RemoteAddr
		}
		if !rl.allow(key) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
