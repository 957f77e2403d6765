package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/btouchard/pulse/internal/config"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rate     rate.Limit
	burst    int

	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time

	// trusted lists the proxies whose forwarding headers are believed.
	trusted []netip.Prefix
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter allowing perMinute requests per minute
// with the given burst. Buckets idle for longer than ten minutes are dropped.
// X-Forwarded-For and X-Real-IP are only read when the peer address falls in
// trustedProxies (IPs or CIDRs).
func NewIPRateLimiter(perMinute, burst int, trustedProxies ...string) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*visitor),
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		trusted:  parseProxies(trustedProxies),
	}
}

// ParseProxy parses a trusted proxy entry, either a single IP or a CIDR.
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func parseProxies(entries []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := ParseProxy(e)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy", "value", e, "error", err)
			continue
		}
		prefixes = append(prefixes, p)
	}
	return prefixes
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	v, ok := l.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle buckets at most once per idleTTL. Caller holds mu.
func (l *IPRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for ip, v := range l.limiters {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.limiters, ip)
		}
	}
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPRateLimit returns middleware limiting each IP to perMinute requests.
func IPRateLimit(perMinute, burst int, trustedProxies ...string) func(http.Handler) http.Handler {
	return NewIPRateLimiter(perMinute, burst, trustedProxies...).Middleware
}

// RateLimit returns the general API limiter configured by cfg.
func RateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return IPRateLimit(cfg.RequestsPerMinute, cfg.Burst, cfg.TrustedProxies...)
}

// LoginRateLimit returns the limiter guarding credential endpoints.
func LoginRateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	return IPRateLimit(cfg.LoginPerMinute, cfg.LoginPerMinute, cfg.TrustedProxies...)
}

// clientIP returns the peer address, or the address a trusted proxy reports
// for its client. X-Forwarded-For is walked right to left past trusted hops
// so entries prepended by the client are never used.
func (l *IPRateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !l.isTrusted(host) {
		return host
	}

	if hops := forwardedFor(r); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			if _, err := netip.ParseAddr(hops[i]); err != nil {
				return host
			}
			if !l.isTrusted(hops[i]) {
				return hops[i]
			}
		}
		return hops[0]
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if _, err := netip.ParseAddr(realIP); err == nil {
			return realIP
		}
	}
	return host
}

func (l *IPRateLimiter) isTrusted(ip string) bool {
	if len(l.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedFor flattens every X-Forwarded-For header into its hops.
func forwardedFor(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for hop := range strings.SplitSeq(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
