package middleware

import (
	"net/http"
	"sync"
	"time"
)

// limiter tracks one token bucket per caller IP. Buckets refill continuously
// at rate tokens/sec up to burst; idle buckets are swept so the map does not
// grow with every IP ever seen.
type limiter struct {
	mu     sync.Mutex
	perIP  map[string]*tokenBucket
	rate   float64
	burst  int
	sweep  time.Duration
	maxAge time.Duration
}

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

func newLimiter(rate float64, burst int) *limiter {
	l := &limiter{
		perIP:  make(map[string]*tokenBucket),
		rate:   rate,
		burst:  burst,
		sweep:  5 * time.Minute,
		maxAge: 10 * time.Minute,
	}
	go l.sweepIdle()
	return l
}

func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.perIP[ip]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), seen: now}
		l.perIP[ip] = b
	}

	b.tokens += now.Sub(b.seen).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *limiter) sweepIdle() {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-l.maxAge)
		for ip, b := range l.perIP {
			if b.seen.Before(cutoff) {
				delete(l.perIP, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit rejects callers exceeding rate requests/sec (with the given burst)
// per IP with 429 Too Many Requests. Sits on the user-facing API group only;
// the webhook route must absorb provider redelivery bursts unthrottled.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	l := newLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// chi's RealIP middleware runs earlier and rewrites this header.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			if !l.allow(ip) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
