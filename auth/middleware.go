package auth

import (
	"net/http"
	"strings"
)

const userIDHeader = "X-User-Id"

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// AllowedPaths bypass validation entirely (registration, login,
	// OAuth callbacks, health -- spec section 4.13).
	AllowedPaths  []string
	IdentityLimit RateLimitConfig
	SourceIPLimit RateLimitConfig
}

// Middleware builds the HTTP auth boundary: per-identity and
// per-source-IP rate limiting applied before validation, bearer token
// verification, and X-User-Id principal forwarding on success.
func Middleware(verifier *Verifier, config MiddlewareConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(config.AllowedPaths))
	for _, p := range config.AllowedPaths {
		allowed[p] = true
	}
	identityLimiter := newKeyedLimiter(config.IdentityLimit)
	ipLimiter := newKeyedLimiter(config.SourceIPLimit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			sourceIP := clientIP(r)
			if !ipLimiter.allow(sourceIP) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			token := bearerToken(r)
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			// Rate-limited per raw credential before its signature is
			// checked, since a valid token's subject isn't known yet. The
			// limiter is keyed by the exact token string, so every distinct
			// string gets its own bucket; a client that varies the token
			// is still held by the per-source-IP limit above.
			if !identityLimiter.allow(token) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			r.Header.Set(userIDHeader, claims.Subject)
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from a "Bearer <token>" Authorization
// header, returning "" if absent or malformed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// clientIP prefers the first entry of X-Forwarded-For, falling back to
// the transport remote address (spec section 4.13).
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
