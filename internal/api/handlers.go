// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/session"
)

// statusResponse wraps the session snapshot with the configured stream
// location (masked: the URL may carry credentials).
type statusResponse struct {
	session.Snapshot
	StreamURL string `json:"stream_url"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Snapshot:  s.controller.Snapshot(),
		StreamURL: config.MaskURL(s.cfg.Stream.URL),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()
	writeJSON(w, http.StatusOK, snap.Position)
}

// playRequest optionally names the stream to play. This daemon controls one
// configured stream; naming a different one is a config change, not an API
// call.
type playRequest struct {
	URL string `json:"url"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 {
		var req playRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("invalid request body: %w", err))
			return
		}
		if req.URL != "" && req.URL != s.cfg.Stream.URL {
			writeConflict(w, fmt.Errorf("stream URL mismatch: this daemon controls %s", config.MaskURL(s.cfg.Stream.URL)))
			return
		}
	}
	s.intent(w, r, "play", s.controller.Play)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.intent(w, r, "pause", s.controller.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.intent(w, r, "resume", s.controller.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.intent(w, r, "stop", s.controller.Stop)
}

type seekRequest struct {
	Fraction *float64 `json:"fraction"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Fraction == nil {
		writeError(w, fmt.Errorf("fraction is required"))
		return
	}
	s.intent(w, r, "seek", func() error {
		return s.controller.Seek(*req.Fraction)
	})
}

// intent runs one intent operation and maps its error onto a status code:
// session-state refusals are conflicts, everything else is the pipeline
// misbehaving.
func (s *Server) intent(w http.ResponseWriter, r *http.Request, name string, op func() error) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	if err := op(); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "api.intent_failed").
			Str("op", name).
			Msg("intent operation failed")
		if errors.Is(err, session.ErrSessionFailed) || errors.Is(err, session.ErrInvalidTransition) {
			writeConflict(w, err)
			return
		}
		writeBadGateway(w, err)
		return
	}

	logger.Info().
		Str(log.FieldEvent, "api.intent").
		Str("op", name).
		Msg("intent operation applied")
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}
