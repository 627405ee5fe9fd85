package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

// clientIP extracts the best-effort client IP from headers or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		return host[:i]
	}
	return host
}

// metricsCollector accumulates request counters and duration sums keyed by
// method|path|status and method|path.
type metricsCollector struct {
	mu       sync.Mutex
	reqTotal map[string]int
	durSum   map[string]float64
	durCount map[string]int
}

func newMetrics() *metricsCollector {
	return &metricsCollector{
		reqTotal: make(map[string]int),
		durSum:   make(map[string]float64),
		durCount: make(map[string]int),
	}
}

// normalizePath collapses variable path segments for metrics labels.
func normalizePath(p string) string {
	if strings.HasPrefix(p, "/items/") && strings.HasSuffix(p, "/embedding") {
		return "/items/:id/embedding"
	}
	return p
}

func (m *metricsCollector) record(method, path string, status int, dur time.Duration) {
	path = normalizePath(path)
	mkey := method + "|" + path + "|" + strconv.Itoa(status)
	dkey := method + "|" + path
	m.mu.Lock()
	m.reqTotal[mkey]++
	m.durSum[dkey] += dur.Seconds()
	m.durCount[dkey]++
	m.mu.Unlock()
}

func (m *metricsCollector) snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := make(map[string]int, len(m.reqTotal))
	for k, v := range m.reqTotal {
		total[k] = v
	}
	avg := make(map[string]float64, len(m.durSum))
	for k, sum := range m.durSum {
		if c := m.durCount[k]; c > 0 {
			avg[k] = sum / float64(c)
		}
	}
	return map[string]any{"requests": total, "avgDurationSec": avg}
}

// logMiddleware stamps a request id, logs one line per request and records
// metrics.
func (a *API) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		a.lg.Info("http.req",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"remoteIP", clientIP(r),
			"status", rec.status,
			"duration_ms", int(dur/time.Millisecond),
			"bytes", rec.nbytes,
		)
		a.metrics.record(r.Method, r.URL.Path, rec.status, dur)
	})
}

// rateLimiter is a simple token bucket per key.
type rateLimiter struct {
	mu      sync.Mutex
	rps     float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rps float64) *rateLimiter {
	return &rateLimiter{rps: rps, buckets: make(map[string]*bucket)}
}

// allow reports whether a request with key is allowed now and, if not, the
// seconds until the next token.
func (rl *rateLimiter) allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.rps <= 0 {
		return true, 0
	}
	b := rl.buckets[key]
	now := time.Now()
	if b == nil {
		b = &bucket{tokens: rl.rps, last: now}
		rl.buckets[key] = b
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = b.tokens + elapsed*rl.rps
	if b.tokens > rl.rps {
		b.tokens = rl.rps
	}
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := int((1-b.tokens)/rl.rps + 0.999)
	if wait < 1 {
		wait = 1
	}
	return false, wait
}

// rateLimitMiddleware enforces global and per-client RPS limits. Rates come
// from Settings at construction; zero disables a scope.
func rateLimitMiddleware(globalRPS, perIPRPS float64, next http.Handler) http.Handler {
	global := newRateLimiter(globalRPS)
	perIP := newRateLimiter(perIPRPS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if global.rps <= 0 && perIP.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		deny := func(wait int) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", wait))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
		}
		if global.rps > 0 {
			if ok, wait := global.allow("global"); !ok {
				deny(wait)
				return
			}
		}
		if perIP.rps > 0 {
			if ok, wait := perIP.allow("ip:" + clientIP(r)); !ok {
				deny(wait)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
