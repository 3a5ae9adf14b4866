package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// DefaultRequestTimeout covers every route without its own deadline.
const DefaultRequestTimeout = 30 * time.Second

const timeoutBody = `{"success":false,"error":"EXTERNAL_SERVICE_UNAVAILABLE","message":"Request timed out"}`

// RouteDeadlines gives named routes their own deadline. Such a route is not
// cut off with a 503: its context expires and the handler writes the
// response itself.
type RouteDeadlines map[string]time.Duration

func (d RouteDeadlines) lookup(r *http.Request) (time.Duration, bool) {
	if len(d) == 0 {
		return 0, false
	}
	route := mux.CurrentRoute(r)
	if route == nil {
		return 0, false
	}
	timeout, ok := d[route.GetName()]
	return timeout, ok && timeout > 0
}

// Timeout cancels the request context after timeout and answers 503.
func Timeout(timeout time.Duration, routes RouteDeadlines) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return func(next http.Handler) http.Handler {
		handler := http.TimeoutHandler(next, timeout, timeoutBody)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if own, ok := routes.lookup(r); ok {
				ctx, cancel := context.WithTimeout(r.Context(), own)
				defer cancel()
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			handler.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LongestTimeout is the largest deadline any route can run under.
func LongestTimeout(timeout time.Duration, routes RouteDeadlines) time.Duration {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	for _, d := range routes {
		if d > timeout {
			timeout = d
		}
	}
	return timeout
}
