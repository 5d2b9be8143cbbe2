package capture

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// RouteResolver reports the matched route pattern and path parameters of a
// request after the router has dispatched it.
type RouteResolver interface {
	Resolve(r *http.Request) (route string, params map[string]string)
}

// RouteResolverFunc adapts a function to RouteResolver.
type RouteResolverFunc func(r *http.Request) (string, map[string]string)

// Resolve calls f.
func (f RouteResolverFunc) Resolve(r *http.Request) (string, map[string]string) {
	return f(r)
}

// DefaultRouteResolver tries chi first, then http.ServeMux.
var DefaultRouteResolver RouteResolver = RouteResolverFunc(func(r *http.Request) (string, map[string]string) {
	if route, params := ChiRoute(r); route != "" {
		return route, params
	}
	return ServeMuxRoute(r)
})

// ChiRoute reads the chi routing context. It needs the context installed by
// prepareChi before dispatch, because chi releases its own pooled context
// when the top-level router returns.
func ChiRoute(r *http.Request) (string, map[string]string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "", nil
	}
	route := rctx.RoutePattern()
	if route == "" {
		return "", nil
	}
	var params map[string]string
	for i, key := range rctx.URLParams.Keys {
		if key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		if params == nil {
			params = make(map[string]string, len(rctx.URLParams.Keys))
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return route, params
}

// ServeMuxRoute reads r.Pattern, which http.ServeMux sets on the request it
// dispatches, and resolves each wildcard with r.PathValue.
func ServeMuxRoute(r *http.Request) (string, map[string]string) {
	if r.Pattern == "" {
		return "", nil
	}
	names := patternWildcards(r.Pattern)
	if len(names) == 0 {
		return r.Pattern, nil
	}
	params := make(map[string]string, len(names))
	for _, name := range names {
		params[name] = r.PathValue(name)
	}
	return r.Pattern, params
}

// patternWildcards lists the wildcard names of a ServeMux pattern such as
// "GET /items/{id}/files/{path...}". The {$} anchor is skipped.
func patternWildcards(pattern string) []string {
	var names []string
	for {
		open := strings.IndexByte(pattern, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(pattern[open:], '}')
		if end < 0 {
			return names
		}
		name := strings.TrimSuffix(pattern[open+1:open+end], "...")
		if name != "" && name != "$" {
			names = append(names, name)
		}
		pattern = pattern[open+end+1:]
	}
}

// prepareChi installs an empty chi routing context so chi routers reuse it
// and it is still readable after they return.
func prepareChi(r *http.Request) *http.Request {
	if chi.RouteContext(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
}
