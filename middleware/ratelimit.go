package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"spotify-util-go/logcolors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// clientLimiter is the token bucket for one client plus when it was last used.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Instances are independent,
// so every server (and every test) owns its own counters.
type IPRateLimiter struct {
	ips   map[string]*clientLimiter
	mu    *sync.Mutex
	rate  rate.Limit
	burst int
	now   func() time.Time
}

// NewIPRateLimiter creates a new per-IP rate limiter
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		ips:   make(map[string]*clientLimiter),
		mu:    &sync.Mutex{},
		rate:  r,
		burst: burst,
		now:   time.Now,
	}
}

// Limit returns the burst size advertised in X-RateLimit-Limit
func (i *IPRateLimiter) Limit() int {
	return i.burst
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	cl, exists := i.ips[ip]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.ips[ip] = cl
	}
	cl.lastSeen = i.now()
	return cl.limiter
}

// Allow consumes one token for ip and reports the tokens left.
func (i *IPRateLimiter) Allow(ip string) (bool, int) {
	l := i.GetLimiter(ip)
	allowed := l.Allow()
	remaining := int(math.Max(0, math.Floor(l.Tokens())))
	return allowed, remaining
}

// Prune drops limiters idle for longer than maxIdle and returns how many were removed.
func (i *IPRateLimiter) Prune(maxIdle time.Duration) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.now().Add(-maxIdle)
	removed := 0
	for ip, cl := range i.ips {
		if cl.lastSeen.Before(cutoff) {
			delete(i.ips, ip)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked clients.
func (i *IPRateLimiter) Size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ips)
}

// RateLimitMiddleware rejects requests from clients that exhausted their bucket.
// onDecision, when set, is told whether each request was allowed.
func RateLimitMiddleware(limiter *IPRateLimiter, onDecision func(allowed bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, remaining := limiter.Allow(ip)
			if onDecision != nil {
				onDecision(allowed)
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if !allowed {
				log.Warnf("%s IP %s exceeded rate limit on %s", logcolors.LogRateLimit, ip, r.URL.Path)
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr so one client maps to one bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
