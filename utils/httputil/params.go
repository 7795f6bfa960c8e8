package httputil

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
)

// GetQueryArg returns the value of query argument arg, or def if absent.
func GetQueryArg(r *http.Request, arg string, def string) string {
	v := r.URL.Query().Get(arg)
	if v == "" {
		return def
	}
	return v
}

// ParseParam unescapes and returns the named chi URL parameter.
func ParseParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return "", fmt.Errorf("param %q not found", name)
	}
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("unescape param %q: %s", name, err)
	}
	return v, nil
}
