// SPDX-License-Identifier: MIT

package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	s.applyStack(r)

	r.Get("/healthz", s.healthMgr.ServeHealth)
	r.Get("/readyz", s.healthMgr.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/position", s.handlePosition)
		r.Get("/events", s.handleEvents)

		// Intent endpoints carry their own per-IP budget on top of the
		// global limiter: a misbehaving dashboard must not be able to
		// storm the pipeline with state transitions.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.cfg.API.IntentPerMinute, time.Minute))
			r.Post("/play", s.handlePlay)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/stop", s.handleStop)
			r.Post("/seek", s.handleSeek)
		})
	})

	return r
}
