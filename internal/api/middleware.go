// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// slowRequestThreshold is the request duration above which timingMiddleware
// logs a warning, matching the original WSGI deployment's performance
// middleware (it flagged anything over one second).
const slowRequestThreshold = time.Second

// statusRecorder captures the response status code so timingMiddleware can
// label its metric and log line with it; http.ResponseWriter doesn't expose
// it otherwise.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// timingMiddleware records per-request duration against the HTTP metrics
// series and logs any request slower than slowRequestThreshold, the Go
// equivalent of the teacher's request-timing instrumentation applied to
// tsim's own HTTP facade.
func (s *Server) timingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if m := mux.CurrentRoute(r); m != nil {
			if tmpl, err := m.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.observeHTTP(route, r.Method, http.StatusText(rec.status), elapsed.Seconds())

		if elapsed >= slowRequestThreshold {
			s.log.WithFields(map[string]any{
				"route":       route,
				"method":      r.Method,
				"status":      rec.status,
				"duration_ms": elapsed.Milliseconds(),
			}).Warn("slow request")
		}
	})
}
