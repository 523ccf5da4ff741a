package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"votechain/observability"
)

type RateLimit struct {
	RequestsPerMinute float64
	RatePerSecond     float64
	Burst             int
}

func (l RateLimit) perSecond() float64 {
	if l.RatePerSecond > 0 {
		return l.RatePerSecond
	}
	if l.RequestsPerMinute > 0 {
		return l.RequestsPerMinute / 60.0
	}
	return 1
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorIdle = 5 * time.Minute

type RateLimiter struct {
	logger    *log.Logger
	limits    map[string]RateLimit
	mu        sync.Mutex
	visitors  map[string]*rateEntry
	lastSweep time.Time
	clockNow  func() time.Time
}

func NewRateLimiter(limits map[string]RateLimit, logger *log.Logger) *RateLimiter {
	if logger == nil {
		logger = log.Default()
	}
	return &RateLimiter{
		logger:   logger,
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

// Middleware throttles requests under the named limit. Callers are keyed by
// authenticated subject when present, otherwise by client address.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			identifier := key + "|" + clientID(req)
			limiter := r.obtainLimiter(identifier, limit)
			if !limiter.AllowN(r.clockNow(), 1) {
				observability.ModuleMetrics().RecordThrottle("gateway", key)
				retry := int(1/limit.perSecond()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				WriteError(w, http.StatusTooManyRequests, "VTC-429", "too many requests", map[string]any{"retryAfter": retry})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	if now.Sub(r.lastSweep) > visitorIdle {
		for key, entry := range r.visitors {
			if now.Sub(entry.lastSeen) > visitorIdle {
				delete(r.visitors, key)
			}
		}
		r.lastSweep = now
	}
	entry, ok := r.visitors[id]
	if ok {
		entry.lastSeen = now
		return entry.limiter
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.perSecond()), burst)
	r.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	return limiter
}

func clientID(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		return "sub:" + p.Subject
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
