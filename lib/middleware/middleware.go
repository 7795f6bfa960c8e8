// Package middleware provides chi-compatible HTTP middleware for request
// metrics. Adapted from the teacher's lib/middleware package: the same
// endpoint-tagging and status/latency instrumentation, unchanged in shape
// since request metrics are domain-agnostic plumbing.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/uber-go/tally"
)

// tagEndpoint tags stats by endpoint path and method, ignoring any path
// variables. For example, "/foo/{foo}/bar/{bar}" is tagged with endpoint
// "foo.bar".
//
// tagEndpoint must be called after the wrapped handler serves, so chi has
// populated the route context with the matched pattern.
func tagEndpoint(stats tally.Scope, r *http.Request) tally.Scope {
	ctx := chi.RouteContext(r.Context())
	var staticParts []string
	for _, part := range strings.Split(ctx.RoutePattern(), "/") {
		if len(part) == 0 || isPathVariable(part) {
			continue
		}
		staticParts = append(staticParts, part)
	}
	return stats.Tagged(map[string]string{
		"endpoint": strings.Join(staticParts, "."),
		"method":   strings.ToUpper(r.Method),
	})
}

func isPathVariable(s string) bool {
	return len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}'
}

// LatencyTimer measures endpoint latencies.
func LatencyTimer(stats tally.Scope) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			tagEndpoint(stats, r).Timer("latency").Record(time.Since(start))
		})
	}
}

type recordStatusWriter struct {
	http.ResponseWriter
	wroteHeader bool
	code        int
}

func (w *recordStatusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *recordStatusWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.ResponseWriter.Write(b)
}

// StatusCounter measures endpoint status counts.
func StatusCounter(stats tally.Scope) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recordw := &recordStatusWriter{w, false, http.StatusOK}
			next.ServeHTTP(recordw, r)
			tagEndpoint(stats, r).Counter(strconv.Itoa(recordw.code)).Inc(1)
		})
	}
}
