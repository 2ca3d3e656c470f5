package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerMinute = 100

	limiterSweepEvery = 5 * time.Minute
)

// ClientLimiter is a token bucket per client address.
type ClientLimiter struct {
	limit      rate.Limit
	burst      int
	trustProxy bool

	limiters sync.Map // client key -> *rate.Limiter

	mu        sync.Mutex
	lastSweep time.Time
}

// NewClientLimiter allows perMinute requests per client with a burst of the
// same size. Forwarding headers name the client only when trustProxy is set.
func NewClientLimiter(perMinute int, trustProxy bool) *ClientLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	return &ClientLimiter{
		limit:      rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		burst:      perMinute,
		trustProxy: trustProxy,
		lastSweep:  time.Now(),
	}
}

func (l *ClientLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	l.maybeSweep()
	return v.(*rate.Limiter)
}

// maybeSweep drops idle limiters: a full bucket has not been used lately.
func (l *ClientLimiter) maybeSweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastSweep) < limiterSweepEvery {
		return
	}
	l.lastSweep = time.Now()
	l.limiters.Range(func(k, v any) bool {
		if v.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(k)
		}
		return true
	})
}

// Middleware rejects requests over the client's budget with 429.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.get(clientIP(r, l.trustProxy))
		if !lim.Allow() {
			res := lim.Reserve()
			delay := res.Delay()
			res.Cancel()
			writeRateLimited(w, delay)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the peer address. Behind a trusted proxy it prefers the
// first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
