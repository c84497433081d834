package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimitStore counts requests per key. Implementations must be safe for
// concurrent use.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window.
	Max    int
	Window time.Duration
	// Prefix namespaces keys when several limiters share a store.
	Prefix string
	// KeyFunc extracts the key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Store defaults to a fresh in-memory sliding window store.
	Store RateLimitStore
}

// RateLimit rejects requests over the limit with 429 and sets
// X-RateLimit-* headers on every response. Store errors let the request
// through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			now := time.Now()

			d, err := cfg.Store.Allow(ctx, cfg.Prefix+cfg.KeyFunc(r), cfg.Max, cfg.Window, now)
			if err != nil {
				zctx.From(ctx).Warn("Rate limit store failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				wait := max(d.ResetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// window holds counts for the current and previous fixed windows.
type window struct {
	prevCount float64
	currCount float64
	currStart time.Time
}

// MemoryStore is a process-local sliding window counter. The previous
// window's count is weighted by how much of it still overlaps the sliding
// window.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

var _ RateLimitStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Allow records a request for key if it is within limit.
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, size time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{currStart: now}
		s.windows[key] = w
	}

	if elapsed := now.Sub(w.currStart); elapsed >= size {
		w.prevCount = w.currCount
		if elapsed >= 2*size {
			w.prevCount = 0
		}
		w.currCount = 0
		w.currStart = now.Truncate(size)
	}

	overlap := max(1-now.Sub(w.currStart).Seconds()/size.Seconds(), 0)
	count := w.prevCount*overlap + w.currCount
	d := Decision{ResetAt: w.currStart.Add(size)}

	if count >= float64(limit) {
		return d, nil
	}
	w.currCount++
	d.Allowed = true
	d.Remaining = max(int(float64(limit)-count-1), 0)
	return d, nil
}

// Sweep drops keys idle for two windows of size.
func (s *MemoryStore) Sweep(now time.Time, size time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.windows {
		if now.Sub(w.currStart) >= 2*size {
			delete(s.windows, key)
		}
	}
}

// RunSweeper calls Sweep every two windows until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, size time.Duration) {
	ticker := time.NewTicker(2 * size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now, size)
		}
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
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
