package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth checks API keys against bcrypt hashes. Keys that passed once are
// remembered by digest so bcrypt runs only on the first request per key.
type APIKeyAuth struct {
	headerName string
	hashes     [][]byte

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]bool
}

// NewAPIKeyAuth creates an authenticator from bcrypt hashes. With no hashes
// the middleware lets every request through.
func NewAPIKeyAuth(headerName string, hashes []string) *APIKeyAuth {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	a := &APIKeyAuth{
		headerName: headerName,
		verified:   make(map[[sha256.Size]byte]bool),
	}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.hashes) > 0
}

// IsValid checks a key against the configured hashes.
func (a *APIKeyAuth) IsValid(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.mu.Lock()
			a.verified[digest] = true
			a.mu.Unlock()
			return true
		}
	}
	return false
}

// KeyFrom returns the API key of a request, from the configured header or a
// Bearer token.
func (a *APIKeyAuth) KeyFrom(r *http.Request) string {
	if key := r.Header.Get(a.headerName); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// Fingerprint is a short, log-safe identifier for an API key.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// Middleware returns an HTTP middleware that checks for valid API keys.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := a.KeyFrom(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "MISSING_API_KEY", "API key is required")
			return
		}
		if !a.IsValid(key) {
			writeError(w, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HashAPIKey returns the bcrypt hash to put in configuration for a key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// MiddlewareFunc is a function that wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain chains middleware so that the first one runs outermost.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// writeError writes the API error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
		"meta":    map[string]any{"timestamp": time.Now().UTC()},
	})
}
