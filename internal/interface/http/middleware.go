package http

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fibreflow/ticket-notify/internal/interface/http/handlers"
	"github.com/fibreflow/ticket-notify/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PIPELINE
// Every request: recover, tag with a request id, log, security headers,
// CORS, body limit. API routes additionally authenticate and are throttled
// per caller. The delivery webhook and health routes are never throttled.
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// correlationHeader lets upstream services thread their id through sends.
const correlationHeader = "X-Correlation-ID"

func (s *Server) buildMiddlewareChain(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		s.accessLogMiddleware,
		handlers.SecurityHeadersMiddleware,
	}
	if s.config.EnableCORS {
		chain = append(chain, s.corsMiddleware)
	}
	chain = append(chain, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))

	return handlers.Chain(chain...)(h)
}

// protected wraps an API route with authentication and the caller throttle.
func (s *Server) protected(fn http.HandlerFunc) http.Handler {
	var h http.Handler = fn
	if s.limiter != nil {
		h = s.throttle(h)
	}
	return s.auth.Middleware(h)
}

// requestIDMiddleware takes the caller's request or correlation id, or
// makes one, and puts it on the context logger.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = r.Header.Get(correlationHeader)
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		ctx = logger.WithContext(ctx, s.logger.With(logger.RequestID(id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogMiddleware logs one line per request. Health checks log at debug.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case isHealthRoute(r.URL.Path):
			level = slog.LevelDebug
		case rec.status == http.StatusTooManyRequests || rec.status == http.StatusUnauthorized:
			level = slog.LevelWarn
		}

		logger.FromContext(r.Context()).LogAttrs(r.Context(), level, "http request",
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			logger.Latency(time.Since(start)),
			slog.String("caller", s.callerKey(r)),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panicked",
					"panic", v,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights for the configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowHeaders := strings.Join([]string{
		"Content-Type", "Authorization", s.config.APIKeyHeader,
		"X-Request-ID", correlationHeader, handlers.SignatureHeader,
	}, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// throttle rejects callers that used up their budget with 429 and a
// Retry-After in whole seconds.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.Allow(s.callerKey(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey identifies who is calling: the API key fingerprint when
// authentication is on and a key was sent, else the client address.
func (s *Server) callerKey(r *http.Request) string {
	if s.auth.Enabled() {
		if key := s.auth.KeyFrom(r); key != "" {
			return "key:" + handlers.Fingerprint(key)
		}
	}
	return "ip:" + clientIP(r)
}

func isHealthRoute(path string) bool {
	return path == "/health" || path == "/live" || path == "/ready"
}

// statusRecorder captures the status code and body size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// clientIP returns the first forwarded address, else the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLER LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// callerLimiter is a token bucket per caller. Each bucket holds perMinute
// tokens and refills continuously at perMinute per minute.
type callerLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64 // also the refill per minute
	now      func() time.Time

	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newCallerLimiter(perMinute int, now func() time.Time) *callerLimiter {
	if now == nil {
		now = time.Now
	}
	return &callerLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(perMinute),
		now:      now,
		stop:     make(chan struct{}),
	}
}

// Allow takes a token for caller. When none is left it returns the wait
// until the next token.
func (l *callerLimiter) Allow(caller string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{tokens: l.capacity, seen: now}
		l.buckets[caller] = b
	}
	b.tokens = math.Min(l.capacity, b.tokens+now.Sub(b.seen).Minutes()*l.capacity)
	b.seen = now

	if b.tokens < 1 {
		return false, time.Duration((1 - b.tokens) / l.capacity * float64(time.Minute))
	}
	b.tokens--
	return true, 0
}

// sweep drops buckets that have refilled completely.
func (l *callerLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for caller, b := range l.buckets {
		if b.tokens+now.Sub(b.seen).Minutes()*l.capacity >= l.capacity {
			delete(l.buckets, caller)
		}
	}
}

func (l *callerLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// run sweeps idle buckets until Stop.
func (l *callerLimiter) run(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *callerLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
