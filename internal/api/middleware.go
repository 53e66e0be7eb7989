package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
)

// eventSink accepts notification events, normally *notify.Dispatcher.
type eventSink interface {
	Dispatch(event domain.NotificationEvent) bool
}

// metricsMiddleware records one observation per request, labelled with the
// matched route pattern so ids don't explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// systemErrorMiddleware emits a system_error event for every response with a
// 5xx status, panics recovered further down the chain included.
func systemErrorMiddleware(sink eventSink) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if sink == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			if ww.Status() < http.StatusInternalServerError {
				return
			}
			event := domain.NewEvent(domain.EventSystemError)
			event.Error = fmt.Sprintf("%s %s returned %d (request %s)",
				r.Method, routePattern(r), ww.Status(), middleware.GetReqID(r.Context()))
			sink.Dispatch(event)
		})
	}
}

func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequest(r.Method, routePattern(r), status, time.Since(start))
		})
	}
}
