package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimitConfig configures the sliding-window rate limiter.
type RateLimitConfig struct {
	// Max requests per Window.
	Max    int
	Window time.Duration
	// MaxKeys bounds the number of tracked clients. Least recently seen
	// clients are forgotten first.
	MaxKeys int
	// KeyFunc returns the client key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// window counts requests in the current and previous fixed windows. The
// previous count is weighted by how much of it the sliding window still
// covers.
type window struct {
	prev, curr float64
	start      time.Time
}

type limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows *expirable.LRU[string, *window]
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10_000
	}
	return &limiter{
		cfg: cfg,
		// An idle key is meaningless after two windows.
		windows: expirable.NewLRU[string, *window](cfg.MaxKeys, nil, 2*cfg.Window),
	}
}

func (l *limiter) allow(key string) (remaining int, reset time.Time, ok bool) {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows.Get(key)
	if !found {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.windows.Add(key, w)
	}

	if elapsed := now.Sub(w.start); elapsed >= l.cfg.Window {
		if elapsed >= 2*l.cfg.Window {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(l.cfg.Window)
	}

	weight := max(0, 1-now.Sub(w.start).Seconds()/l.cfg.Window.Seconds())
	count := w.prev*weight + w.curr
	reset = w.start.Add(l.cfg.Window)
	if count >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.curr++
	return max(0, int(float64(l.cfg.Max)-count-1)), reset, true
}

// RateLimit rejects clients exceeding cfg.Max requests per sliding window
// with 429. Every response carries the X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.allow(l.cfg.KeyFunc(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !ok {
				retry := max(0, reset.Sub(l.cfg.Now()).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For address, X-Real-IP, or the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
