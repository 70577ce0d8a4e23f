package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"

	"github.com/quizforge/quizforge/internal/logging"
)

const requestBodyLimit = 1024 * 1024 // 1 MiB

const (
	defaultRateLimit  = 120
	defaultRateWindow = time.Minute
)

// RateLimiter provides token-bucket rate limiting per client IP. Each IP gets
// a bucket of `limit` tokens refilled continuously over `window`.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   float64
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   float64(limit),
		window:  window,
		now:     time.Now,
	}
}

// Allow checks whether the given IP has a token left and spends one if so.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: rl.limit, last: now}
		rl.buckets[ip] = b
	}

	refill := now.Sub(b.last).Seconds() * rl.limit / rl.window.Seconds()
	b.tokens += refill
	if b.tokens > rl.limit {
		b.tokens = rl.limit
	}
	b.last = now

	// Drop full buckets that have been idle for a window so the map does
	// not grow without bound.
	if len(rl.buckets) > 4096 {
		cutoff := now.Add(-rl.window)
		for key, stale := range rl.buckets {
			if stale.last.Before(cutoff) && stale.tokens >= rl.limit {
				delete(rl.buckets, key)
			}
		}
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware wraps an http.Handler with rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			writeErrorJSON(w, http.StatusTooManyRequests, "rate_limited", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		// Use the first IP in the chain.
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// matchAllowlist reports whether value matches any pattern in the allowlist.
// Patterns support * wildcards ("*.example.com"). An empty allowlist allows
// everything.
func matchAllowlist(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	value = strings.ToLower(strings.TrimSpace(value))
	for _, pattern := range patterns {
		if wildcard.Match(strings.ToLower(pattern), value) {
			return true
		}
	}
	return false
}

// hostGuard rejects requests whose Host header is outside the allowlist.
func hostGuard(allowedHosts []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		}
		if !matchAllowlist(allowedHosts, host) {
			writeErrorJSON(w, http.StatusForbidden, "host_not_allowed", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originGuard rejects cross-origin requests from origins outside the
// allowlist. Requests without an Origin header (same-origin navigation,
// curl, webhooks) pass through.
func originGuard(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" && origin != "null" {
			originHost := origin
			if u, err := url.Parse(origin); err == nil && u.Host != "" {
				originHost = u.Hostname()
			}
			if !matchAllowlist(allowedOrigins, originHost) {
				writeErrorJSON(w, http.StatusForbidden, "origin_not_allowed", "")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// bodyLimit caps request bodies so a hostile client cannot stream unbounded
// payloads into JSON decoding.
func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders sets baseline response headers. The service serves JSON and
// PDF only, so no CSP nonce plumbing is needed.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestTracing stores a request ID on the context, honoring any incoming
// X-Request-ID header, echoes it back on the response, and recovers handler
// panics into a 500 carrying that ID.
func requestTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		incomingID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		ctxWithID, requestID := logging.WithRequestID(r.Context(), incomingID)
		r = r.WithContext(ctxWithID)

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		rw.Header().Set("X-Request-ID", requestID)

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Str("request_id", requestID).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in handler")
				writeErrorJSON(rw, http.StatusInternalServerError, "internal_error", "")
			}
		}()

		next.ServeHTTP(rw, r)

		if rw.statusCode >= 500 {
			log.Warn().
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Int("status", rw.statusCode).
				Str("request_id", requestID).
				Msg("Request failed")
		}
	})
}

// requireMethod rejects every method except the given one.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeErrorJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
			return
		}
		next(w, r)
	}
}

// adminKeyMiddleware requires a valid admin API key via X-Admin-Key or
// Authorization: Bearer.
func adminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			writeErrorJSON(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
