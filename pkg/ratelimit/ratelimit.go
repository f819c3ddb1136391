package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client IP and forgets idle clients.
type Limiter struct {
	limit  rate.Limit
	burst  int
	maxAge time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// New returns a Limiter allowing reqPerSec sustained requests per client.
func New(reqPerSec float64, burst int) *Limiter {
	return &Limiter{
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		maxAge:  10 * time.Minute,
		buckets: map[string]*bucket{},
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if b, ok := l.buckets[key]; ok {
		b.seen = now
		return b.limiter
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets[key] = &bucket{limiter: lim, seen: now}

	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.maxAge {
			delete(l.buckets, k)
		}
	}
	return lim
}

// Allow reports whether a request from key may proceed.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP expects RemoteAddr to be rewritten by a real-IP middleware when
// running behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
