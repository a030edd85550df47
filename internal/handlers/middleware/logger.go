package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type accessLogger interface {
	Info(msg string, args ...any)
}

// LoggerMiddleware writes access log record per request
// Route is the matched chi pattern, empty if no route matched
func LoggerMiddleware(l accessLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			l.Info(
				"HTTP request",
				"request_id", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"uri", r.RequestURI,
				"route", route,
				"duration", time.Since(start),
				"status", rw.status,
				"size", rw.size,
			)
		})
	}
}
