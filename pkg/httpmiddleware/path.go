package httpmiddleware

import (
	"net/http"
	"strings"
)

// StripPrefix removes prefix from the request path when it matches a whole
// path segment, so "/relay/health" with prefix "/relay" routes as "/health".
func StripPrefix(prefix string) func(http.Handler) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rest, ok := strings.CutPrefix(r.URL.Path, prefix)
			if ok && (rest == "" || rest[0] == '/') {
				if rest == "" {
					rest = "/"
				}
				r.URL.Path = rest
				r.URL.RawPath = ""
			}
			next.ServeHTTP(w, r)
		})
	}
}
