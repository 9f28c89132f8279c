package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"sentinelai-backend/shared/httpx"
)

// RateLimitMiddleware throttles requests per client IP. Only requests for
// which Match returns true are counted; a nil Match counts everything.
type RateLimitMiddleware struct {
	Limiter *IPRateLimiter
	Match   func(*http.Request) bool
}

func (m RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Limiter == nil || (m.Match != nil && !m.Match(r)) {
			next.ServeHTTP(w, r)
			return
		}
		key := httpx.ClientIP(r)
		if key == "" {
			key = "unknown"
		}
		if ok, retry := m.Limiter.Allow(key); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.999)))
			httpx.WriteError(w, r, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPRateLimiter is a token bucket per key. Idle buckets are dropped after
// ttl.
type IPRateLimiter struct {
	mu      sync.Mutex
	rps     float64
	burst   float64
	ttl     time.Duration
	clients map[string]*clientTokens
	now     func() time.Time
}

type clientTokens struct {
	tokens   float64
	lastSeen time.Time
}

func NewIPRateLimiter(rps float64, burst int, ttl time.Duration) *IPRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &IPRateLimiter{
		rps:     rps,
		burst:   float64(burst),
		ttl:     ttl,
		clients: make(map[string]*clientTokens),
		now:     time.Now,
	}
}

// Allow takes one token for key. When none is left it reports how long
// until the next token.
func (l *IPRateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(now)

	client, ok := l.clients[key]
	if !ok {
		l.clients[key] = &clientTokens{tokens: l.burst - 1, lastSeen: now}
		return true, 0
	}

	elapsed := now.Sub(client.lastSeen).Seconds()
	client.tokens = min(l.burst, client.tokens+elapsed*l.rps)
	client.lastSeen = now
	if client.tokens < 1 {
		wait := time.Duration((1 - client.tokens) / l.rps * float64(time.Second))
		return false, wait
	}
	client.tokens--
	return true, 0
}

func (l *IPRateLimiter) cleanup(now time.Time) {
	for key, client := range l.clients {
		if now.Sub(client.lastSeen) > l.ttl {
			delete(l.clients, key)
		}
	}
}
