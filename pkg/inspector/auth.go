package inspector

import (
	"crypto/subtle"
	"net/http"

	"github.com/getmockd/peek/pkg/httputil"
)

// tokenFrom returns the token presented by r. The header wins over the
// query parameter.
func tokenFrom(r *http.Request) string {
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// authorized reports whether r carries the configured token.
func (in *Inspector) authorized(r *http.Request) bool {
	want := in.opts.Token
	if want == "" {
		return true
	}
	got := tokenFrom(r)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// protect rejects requests without the configured token.
func (in *Inspector) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !in.authorized(r) {
			httputil.WriteUnauthorized(w, "missing or invalid inspector token")
			return
		}
		next(w, r)
	}
}
