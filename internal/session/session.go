// SPDX-License-Identifier: MIT

// Package session implements the playback session controller: a state
// machine that owns playback intent, consumes the asynchronous event stream
// of an underlying media pipeline, and recovers from stream errors with a
// bounded reconnect policy.
//
// Concurrency model: the bridge goroutine (Run) translates pipeline
// notifications into events and sleeps through reconnect backoffs; a
// periodic driver calls DrainEvents and the position poller; callers issue
// intent operations at any time. One coarse lock guards all shared state
// and is never held across a pipeline call.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/metrics"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
	"github.com/ManuGH/rtsp2go/internal/reconnect"
)

const (
	// DefaultMaxReconnectAttempts bounds automatic recovery after stream
	// errors during playback.
	DefaultMaxReconnectAttempts = 5
	// DefaultReconnectBackoff is the fixed delay between attempts.
	DefaultReconnectBackoff = 2 * time.Second
)

// Config carries the construction inputs. The session owns no persisted
// state; everything here is plain configuration.
type Config struct {
	// URL is the stream location handed to logs and reports. The pipeline
	// handle is already bound to it.
	URL string
	// MaxReconnectAttempts bounds automatic recovery (default 5).
	MaxReconnectAttempts int
	// ReconnectBackoff is the fixed delay between attempts (default 2s).
	ReconnectBackoff time.Duration
	// OnUpdate, when set, is invoked with a fresh snapshot after every
	// non-empty DrainEvents pass, on the draining goroutine.
	OnUpdate func(Snapshot)
}

// Session is the playback session controller. Construct with New, start the
// bridge with Run, and drive DrainEvents periodically.
type Session struct {
	id     string
	url    string
	logger zerolog.Logger

	pipe   pipeline.Handle
	policy *reconnect.Policy
	queue  *eventQueue

	onUpdate func(Snapshot)

	mu            sync.Mutex
	graph         *stateGraph
	playing       bool
	running       bool
	bufferPercent int
	attempt       int
	failureReason string
	lastError     string
	video         *pipeline.VideoInfo
	position      PositionInfo
	updatedAt     time.Time

	// playCtx spans one playback instance: created on a fresh Play,
	// cancelled by Stop. Reconnect backoffs select on it so a stop
	// aborts the pending retry.
	playCtx    context.Context
	playCancel context.CancelFunc
}

// New creates a session bound to the given pipeline handle.
func New(pipe pipeline.Handle, cfg Config) *Session {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}

	id := uuid.NewString()
	playCtx, playCancel := context.WithCancel(context.Background())

	s := &Session{
		id:  id,
		url: cfg.URL,
		logger: log.WithComponent("session").With().
			Str(log.FieldSessionID, id).Logger(),
		pipe: pipe,
		policy: reconnect.New(cfg.MaxReconnectAttempts,
			reconnect.WithBackoff(cfg.ReconnectBackoff)),
		queue:      newEventQueue(),
		graph:      newStateGraph(),
		onUpdate:   cfg.OnUpdate,
		playCtx:    playCtx,
		playCancel: playCancel,
		updatedAt:  time.Now(),
	}
	metrics.SetSessionState(string(StateUninitialized))
	return s
}

// ID returns the session instance id.
func (s *Session) ID() string { return s.id }

// URL returns the configured stream location.
func (s *Session) URL() string { return s.url }

// Play moves the pipeline to the active state. Idempotent while already
// playing; the only state it is refused from is failed.
func (s *Session) Play() error {
	s.mu.Lock()
	if !s.graph.can(evPlay) {
		cur := s.graph.state()
		s.mu.Unlock()
		err := fmt.Errorf("%w: current state %s", ErrSessionFailed, cur)
		metrics.IncIntentOp("play", err)
		return err
	}
	s.mu.Unlock()

	if err := s.pipe.SetState(pipeline.StatePlaying); err != nil {
		err = fmt.Errorf("pipeline play: %w", err)
		metrics.IncIntentOp("play", err)
		return err
	}

	s.mu.Lock()
	if err := s.graph.fire(evPlay); err != nil {
		s.mu.Unlock()
		metrics.IncIntentOp("play", err)
		return err
	}
	fresh := !s.playing
	s.playing = true
	if fresh {
		// New playback instance: per-stream fields restart clean and the
		// previous instance's backoffs are cut loose.
		s.playCancel()
		s.playCtx, s.playCancel = context.WithCancel(context.Background())
		s.video = nil
		s.position = PositionInfo{}
		s.bufferPercent = 0
		s.attempt = 0
		s.failureReason = ""
		s.lastError = ""
	}
	s.touchLocked()
	s.mu.Unlock()

	metrics.IncIntentOp("play", nil)
	s.logger.Info().
		Str(log.FieldEvent, "session.play").
		Str(log.FieldURL, s.url).
		Bool("fresh", fresh).
		Msg("play issued")
	return nil
}

// Pause suspends playback. Pausing an already paused session is a no-op.
func (s *Session) Pause() error {
	s.mu.Lock()
	if !s.graph.can(evPause) {
		cur := s.graph.state()
		s.mu.Unlock()
		err := fmt.Errorf("%w: pause while %s", ErrInvalidTransition, cur)
		metrics.IncIntentOp("pause", err)
		return err
	}
	s.mu.Unlock()

	if err := s.pipe.SetState(pipeline.StatePaused); err != nil {
		err = fmt.Errorf("pipeline pause: %w", err)
		metrics.IncIntentOp("pause", err)
		return err
	}

	s.mu.Lock()
	if err := s.graph.fire(evPause); err != nil {
		s.mu.Unlock()
		metrics.IncIntentOp("pause", err)
		return err
	}
	s.playing = false
	s.touchLocked()
	s.mu.Unlock()

	metrics.IncIntentOp("pause", nil)
	s.logger.Info().Str(log.FieldEvent, "session.pause").Msg("paused")
	return nil
}

// Resume continues playback after a pause. Resuming while playing is a
// no-op.
func (s *Session) Resume() error {
	s.mu.Lock()
	if !s.graph.can(evResume) {
		cur := s.graph.state()
		s.mu.Unlock()
		err := fmt.Errorf("%w: resume while %s", ErrInvalidTransition, cur)
		metrics.IncIntentOp("resume", err)
		return err
	}
	s.mu.Unlock()

	if err := s.pipe.SetState(pipeline.StatePlaying); err != nil {
		err = fmt.Errorf("pipeline resume: %w", err)
		metrics.IncIntentOp("resume", err)
		return err
	}

	s.mu.Lock()
	if err := s.graph.fire(evResume); err != nil {
		s.mu.Unlock()
		metrics.IncIntentOp("resume", err)
		return err
	}
	s.playing = true
	s.touchLocked()
	s.mu.Unlock()

	metrics.IncIntentOp("resume", nil)
	s.logger.Info().Str(log.FieldEvent, "session.resume").Msg("resumed")
	return nil
}

// Stop tears playback down. Safe in every state including failed, which it
// is the only exit from. The session lands in stopped even when the
// pipeline refuses the shutdown; that refusal is still reported.
func (s *Session) Stop() error {
	s.mu.Lock()
	_ = s.graph.fire(evStop)
	s.playing = false
	s.attempt = 0
	s.failureReason = ""
	s.policy.Reset()
	// Abort any backoff waiting on the current playback instance.
	s.playCancel()
	s.touchLocked()
	s.mu.Unlock()

	err := s.pipe.SetState(pipeline.StateNull)
	metrics.IncIntentOp("stop", err)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "session.stop").
			Msg("pipeline refused shutdown, session stopped anyway")
		return fmt.Errorf("pipeline stop: %w", err)
	}
	s.logger.Info().Str(log.FieldEvent, "session.stop").Msg("stopped")
	return nil
}

// Seek jumps to a fraction of the known duration. The fraction is clamped
// to [0,1] and never rejected for range; with no known duration the call is
// a silent no-op.
func (s *Session) Seek(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	s.mu.Lock()
	durationSeconds := s.position.DurationSeconds
	s.mu.Unlock()

	if durationSeconds == 0 {
		metrics.IncIntentOp("seek", nil)
		s.logger.Debug().Str(log.FieldEvent, "session.seek").
			Msg("seek ignored, duration unknown")
		return nil
	}

	target := time.Duration(fraction * float64(durationSeconds) * float64(time.Second))
	if err := s.pipe.Seek(target); err != nil {
		err = fmt.Errorf("pipeline seek: %w", err)
		metrics.IncIntentOp("seek", err)
		return err
	}

	s.mu.Lock()
	s.position.PositionSeconds = uint64(target / time.Second)
	s.touchLocked()
	s.mu.Unlock()

	metrics.IncIntentOp("seek", nil)
	s.logger.Info().
		Str(log.FieldEvent, "session.seek").
		Float64("fraction", fraction).
		Uint64(log.FieldPosition, uint64(target/time.Second)).
		Msg("seek issued")
	return nil
}

// pipelineAction is a control call decided while applying events under the
// lock and executed after it is released.
type pipelineAction int

const (
	actionPause pipelineAction = iota
	actionResume
)

// DrainEvents pops every queued event and applies it in arrival order.
// Non-blocking; an empty queue is a no-op. The observer callback fires once
// per non-empty pass, after all events of the pass are applied.
func (s *Session) DrainEvents() {
	batch := s.queue.Drain()
	if len(batch) == 0 {
		return
	}

	var actions []pipelineAction
	s.mu.Lock()
	for _, ev := range batch {
		s.applyLocked(ev, &actions)
	}
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for _, act := range actions {
		var err error
		switch act {
		case actionPause:
			err = s.pipe.SetState(pipeline.StatePaused)
		case actionResume:
			err = s.pipe.SetState(pipeline.StatePlaying)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("buffering control call failed")
		}
	}

	if s.onUpdate != nil {
		s.onUpdate(snap)
	}
}

// applyLocked folds one event into the session state. Pipeline calls are
// only recorded into actions, never made here.
func (s *Session) applyLocked(ev Event, actions *[]pipelineAction) {
	switch ev.Type {
	case EventStreamStarted:
		target := evStreamReady
		if s.playing {
			target = evPipelinePlaying
		}
		if err := s.graph.fire(target); err != nil {
			s.logger.Debug().Str(log.FieldEvent, "session.stream_started").
				Str(log.FieldState, string(s.graph.state())).
				Msg("ignoring late stream start")
			return
		}
		s.logger.Info().Str(log.FieldEvent, "session.stream_started").
			Str(log.FieldURL, s.url).Msg("stream started")

	case EventVideoInfo:
		if ev.Video == nil {
			return
		}
		v := *ev.Video
		s.video = &v
		s.logger.Info().
			Str(log.FieldEvent, "session.video_info").
			Str(log.FieldCodec, v.Codec).
			Str(log.FieldResolution, fmt.Sprintf("%dx%d", v.Width, v.Height)).
			Float64(log.FieldFPS, v.Framerate).
			Msg("video info received")

	case EventBuffering:
		// Buffering only matters while the user wants playback; a paused
		// or stopped session must not be poked by cache churn.
		if !s.playing {
			return
		}
		if ev.Percent < 100 {
			if err := s.graph.fire(evBuffering); err != nil {
				return
			}
			s.bufferPercent = ev.Percent
			*actions = append(*actions, actionPause)
			s.logger.Debug().Str(log.FieldEvent, "session.buffering").
				Int(log.FieldPercent, ev.Percent).Msg("buffering, pausing pipeline")
		} else {
			if err := s.graph.fire(evBufferingDone); err != nil {
				return
			}
			s.bufferPercent = 100
			*actions = append(*actions, actionResume)
			s.logger.Debug().Str(log.FieldEvent, "session.buffering").
				Int(log.FieldPercent, 100).Msg("buffer full, resuming pipeline")
		}

	case EventStateChanged:
		if ev.NewState != pipeline.StatePlaying {
			return
		}
		if err := s.graph.fire(evPipelinePlaying); err != nil {
			return
		}
		if n := s.policy.Attempts(); n > 0 {
			s.logger.Info().Str(log.FieldEvent, "session.recovered").
				Int(log.FieldAttempt, n).Msg("stream recovered, reconnect counter reset")
		}
		s.policy.Reset()
		s.attempt = 0

	case EventError:
		s.lastError = ev.Message
		if ev.Recovering {
			// Recovery was delegated to the bridge when the error was
			// observed; the matching reconnect event lands right behind
			// this one.
			s.logger.Warn().Str(log.FieldEvent, "session.error").
				Str("message", ev.Message).Msg("stream error, recovery in progress")
			return
		}
		if err := s.graph.fire(evFail); err != nil {
			return
		}
		s.failureReason = ev.Message
		s.logger.Error().Str(log.FieldEvent, "session.failed").
			Str("message", ev.Message).Str("debug", ev.Debug).
			Msg("stream error outside playback, session failed")

	case EventEndOfStream:
		if err := s.graph.fire(evEOS); err != nil {
			return
		}
		s.playing = false
		s.logger.Info().Str(log.FieldEvent, "session.eos").Msg("end of stream")

	case EventReconnectAttempt:
		if err := s.graph.fire(evReconnect); err != nil {
			return
		}
		s.attempt = ev.Attempt
		s.logger.Info().Str(log.FieldEvent, "session.reconnecting").
			Int(log.FieldAttempt, ev.Attempt).Msg("reconnecting")

	case EventConnectionFailed:
		if err := s.graph.fire(evFail); err != nil {
			return
		}
		s.playing = false
		s.failureReason = "max reconnect attempts exceeded"
		s.logger.Error().Str(log.FieldEvent, "session.failed").
			Msg("max reconnect attempts exceeded")
	}
}

// Snapshot returns a consistent copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	st := s.graph.state()
	snap := Snapshot{
		ID:        s.id,
		State:     st,
		IsPlaying: s.playing,
		Position:  s.position,
		UpdatedAt: s.updatedAt,
	}
	// State parameters only travel with the state they belong to.
	switch st {
	case StateBuffering:
		snap.BufferPercent = s.bufferPercent
	case StateReconnecting:
		snap.ReconnectAttempt = s.attempt
	case StateFailed:
		snap.FailureReason = s.failureReason
	}
	if s.video != nil {
		v := *s.video
		snap.Video = &v
	}
	return snap
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.state()
}

// IsPlaying reports the playback intent flag.
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Attempts returns the reconnect counter since the last confirmed recovery.
func (s *Session) Attempts() int {
	return s.policy.Attempts()
}

// QueueLen reports the number of events waiting to be drained.
func (s *Session) QueueLen() int {
	return s.queue.Len()
}

// updatePosition stores a polled position/duration pair. Position is
// clamped to the duration once one is known; unavailable values leave the
// previous reading in place.
func (s *Session) updatePosition(pos time.Duration, posOK bool, dur time.Duration, durOK bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if durOK && dur > 0 {
		s.position.DurationSeconds = uint64(dur / time.Second)
	}
	if posOK {
		s.position.PositionSeconds = uint64(pos / time.Second)
	}
	if s.position.DurationSeconds > 0 && s.position.PositionSeconds > s.position.DurationSeconds {
		s.position.PositionSeconds = s.position.DurationSeconds
	}
	metrics.SetPosition(
		time.Duration(s.position.PositionSeconds)*time.Second,
		time.Duration(s.position.DurationSeconds)*time.Second,
	)
}

// touchLocked refreshes the update timestamp and the state gauge.
func (s *Session) touchLocked() {
	s.updatedAt = time.Now()
	metrics.SetSessionState(string(s.graph.state()))
}
