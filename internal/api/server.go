// SPDX-License-Identifier: MIT

// Package api provides the HTTP control surface of the playback daemon:
// intent endpoints, status and position accessors, an SSE snapshot stream,
// health probes and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/health"
	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/ratelimit"
	"github.com/ManuGH/rtsp2go/internal/session"
)

// Controller is the slice of the playback manager the API drives. Intent
// calls are forwarded as-is; Snapshot backs the read endpoints.
type Controller interface {
	Play() error
	Pause() error
	Resume() error
	Stop() error
	Seek(fraction float64) error
	Snapshot() session.Snapshot
}

// Server is the HTTP control server.
type Server struct {
	cfg        config.AppConfig
	logger     zerolog.Logger
	controller Controller
	healthMgr  *health.Manager
	limiter    *ratelimit.Limiter
	events     *Broadcaster
	router     *chi.Mux
}

// New assembles the server with the canonical middleware stack and all
// routes registered.
func New(cfg config.AppConfig, controller Controller, healthMgr *health.Manager) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     log.WithComponent("api"),
		controller: controller,
		healthMgr:  healthMgr,
		limiter:    ratelimit.New(limiterConfig(cfg)),
		events:     NewBroadcaster(),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PublishSnapshot feeds a fresh session snapshot to all SSE subscribers.
// Called by the daemon's observer callback on the consumer goroutine.
func (s *Server) PublishSnapshot(snap session.Snapshot) {
	s.events.Publish(snap)
}

// ApplyConfig applies the reloadable configuration subset (rate limits).
func (s *Server) ApplyConfig(cfg config.AppConfig) {
	s.limiter.Update(limiterConfig(cfg))
	s.logger.Info().Str(log.FieldEvent, "api.config_applied").Msg("reloadable API config applied")
}

// Start serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		// No blanket write timeout: the SSE stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(log.FieldEvent, "api.listening").
			Str("addr", s.cfg.Listen).
			Msg("control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.events.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("control API stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func limiterConfig(cfg config.AppConfig) ratelimit.Config {
	rc := ratelimit.DefaultConfig()
	rc.Enabled = cfg.API.RateLimitEnabled
	rc.GlobalRate = rate.Limit(cfg.API.RateRPS)
	rc.GlobalBurst = cfg.API.RateBurst
	rc.PerIPRate = rate.Limit(cfg.API.RateRPS / 2)
	rc.PerIPBurst = cfg.API.RateBurst / 2
	if rc.PerIPRate < 1 {
		rc.PerIPRate = 1
	}
	if rc.PerIPBurst < 1 {
		rc.PerIPBurst = 1
	}
	return rc
}
