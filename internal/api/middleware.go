// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/metrics"
	"github.com/ManuGH/rtsp2go/internal/ratelimit"
)

// applyStack installs the canonical middleware stack. Order matters:
// the recoverer is the outermost safety net, correlation comes before
// anything that logs, and the rate limiter sits innermost so rejected
// requests still show up in logs and metrics.
func (s *Server) applyStack(r chi.Router) {
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(securityHeaders)
	r.Use(httpMetrics)
	if s.cfg.OTel.Enabled {
		r.Use(otelhttp.NewMiddleware("rtsp2go.api"))
	}
	r.Use(log.Middleware())
	r.Use(s.rateLimit)
}

// recoverer converts handler panics into 500 responses instead of taking
// the daemon down.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := log.WithComponentFromContext(r.Context(), "api")
				logger.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str(log.FieldEvent, "api.panic").
					Msg("handler panicked")
				writeInternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID assigns every request a correlation id, echoed in the
// X-Request-ID response header and attached to the logging context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := log.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// httpMetrics records one latency observation per request, labelled with the
// chi route pattern to keep metric cardinality bounded.
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(mw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := mw.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, strconv.Itoa(status), time.Since(start))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(ratelimit.GetClientIP(r)) {
			writeTooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush forwards to the wrapped writer so SSE streaming keeps working
// through the metrics wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
