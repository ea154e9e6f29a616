package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	defaultGeneralRPM = 100
	defaultAuthRPM    = 10

	authPathPrefix = "/auth/"
	// Session checks replay an already issued token, so they share the
	// general bucket instead of the credential one.
	checkAuthPath = "/auth/check-auth"
)

// RateBackend decides whether one more request fits in key's budget of limit
// requests per minute.
type RateBackend interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// RateLimitMiddleware limits per client IP, with a tighter budget on the
// credential endpoints. A limit of zero or less disables that bucket.
// Forwarding headers are honoured only when the peer is a trusted proxy.
type RateLimitMiddleware struct {
	generalRPM     int
	authRPM        int
	backend        RateBackend
	trustedProxies []netip.Prefix
}

func NewRateLimitMiddleware(generalRPM int, authRPM int, backend RateBackend, trustedProxies ...netip.Prefix) *RateLimitMiddleware {
	if authRPM == 0 {
		authRPM = defaultAuthRPM
	}
	if backend == nil {
		backend = NewMemoryRateBackend()
	}

	return &RateLimitMiddleware{
		generalRPM:     generalRPM,
		authRPM:        authRPM,
		backend:        backend,
		trustedProxies: trustedProxies,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, limit := "general", m.generalRPM
		if isCredentialPath(r.URL.Path) {
			bucket, limit = "auth", m.authRPM
		}
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := bucket + ":" + clientIP(r, m.trustedProxies)
		allowed, err := m.backend.Allow(r.Context(), key, limit)
		if err != nil {
			slog.Warn("rate limit backend unavailable; allowing request", "error", err)
			allowed = true
		}

		if !allowed {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MemoryRateBackend keeps a token bucket per key in process memory.
type MemoryRateBackend struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryRateBackend() *MemoryRateBackend {
	return &MemoryRateBackend{clients: map[string]*clientLimiter{}}
}

func (b *MemoryRateBackend) Allow(_ context.Context, key string, limit int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, exists := b.clients[key]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit)}
		b.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	b.gcLocked()

	return entry.limiter.Allow(), nil
}

func (b *MemoryRateBackend) gcLocked() {
	if len(b.clients) < 1000 {
		return
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	for key, entry := range b.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(b.clients, key)
		}
	}
}

// RedisRateBackend counts requests in fixed one-minute windows shared by
// every instance pointed at the same Redis.
type RedisRateBackend struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisRateBackend(client *redis.Client) *RedisRateBackend {
	return &RedisRateBackend{client: client, prefix: "nexsync:ratelimit:", now: time.Now}
}

func (b *RedisRateBackend) Allow(ctx context.Context, key string, limit int) (bool, error) {
	window := b.now().Unix() / 60
	redisKey := b.prefix + key + ":" + strconv.FormatInt(window, 10)

	var incr *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*time.Minute)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}

	return incr.Val() <= int64(limit), nil
}

func isCredentialPath(path string) bool {
	path = strings.TrimSuffix(strings.ToLower(path), "/")
	return strings.HasPrefix(path, authPathPrefix) && path != checkAuthPath
}

// clientIP is the peer address unless the peer is a trusted proxy, in which
// case the nearest untrusted X-Forwarded-For hop (or X-Real-IP) wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := peerIP(r)
	if len(trusted) == 0 {
		return peer
	}

	addr, err := netip.ParseAddr(peer)
	if err != nil || !isTrustedProxy(addr, trusted) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !isTrustedProxy(hop, trusted) {
			return hop.Unmap().String()
		}
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}

	return peer
}

func isTrustedProxy(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}
