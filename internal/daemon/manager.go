// SPDX-License-Identifier: MIT

// Package daemon assembles the playback controller into a long-running
// process: session lifecycle, resume-position persistence, the last-session
// report and the runtime loops that drive everything.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
	"github.com/ManuGH/rtsp2go/internal/resume"
	"github.com/ManuGH/rtsp2go/internal/session"
)

const storeTimeout = 3 * time.Second

// completionThreshold is the watched fraction past which a finished
// playback clears its resume position instead of saving one: restarting a
// stream you watched to the end should start from the beginning.
const completionThreshold = 0.95

// Manager owns the playback session and its persistence side effects. It is
// the daemon's implementation of the API's controller: intent calls pass
// through to the session, while the session's observer callback feeds SSE
// subscribers, applies the stored resume position and records how playback
// ended.
type Manager struct {
	cfg    config.AppConfig
	logger zerolog.Logger
	sess   *session.Session
	store  resume.Store

	mu            sync.Mutex
	publish       func(session.Snapshot)
	resumeApplied bool
	lastState     session.State
}

// NewManager wires a session around the given pipeline handle. The resume
// store may be nil, which disables position persistence.
func NewManager(cfg config.AppConfig, pipe pipeline.Handle, store resume.Store) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    log.WithComponent("daemon"),
		store:     store,
		lastState: session.StateUninitialized,
	}
	m.sess = session.New(pipe, session.Config{
		URL:                  cfg.Stream.URL,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.Session.ReconnectBackoff,
		OnUpdate:             m.onUpdate,
	})
	return m
}

// Session exposes the underlying session for the runtime loops.
func (m *Manager) Session() *session.Session { return m.sess }

// SetPublisher installs the snapshot sink (the API's SSE broadcaster).
// Set once during bootstrap, before the session starts producing updates.
func (m *Manager) SetPublisher(fn func(session.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish = fn
}

// Play starts a fresh playback instance. The stored resume position, if
// any, is applied once the stream's duration becomes known.
func (m *Manager) Play() error {
	if err := m.sess.Play(); err != nil {
		return err
	}
	m.mu.Lock()
	m.resumeApplied = false
	m.mu.Unlock()
	return nil
}

func (m *Manager) Pause() error  { return m.sess.Pause() }
func (m *Manager) Resume() error { return m.sess.Resume() }

// Stop tears playback down, saves the position so the next play of this
// stream can continue, and records the final state. An explicit stop changes
// state without any pipeline event to drain, so the report is written here
// rather than waiting for an observer pass that may never come.
func (m *Manager) Stop() error {
	snap := m.sess.Snapshot()
	err := m.sess.Stop()
	m.savePosition(snap)

	final := m.sess.Snapshot()
	m.mu.Lock()
	m.lastState = final.State
	m.mu.Unlock()
	if werr := writeReport(m.cfg.DataDir, buildReport(final, m.cfg.Stream.URL, m.sess.Attempts())); werr != nil {
		m.logger.Warn().Err(werr).
			Str(log.FieldEvent, "daemon.report_failed").
			Msg("failed to write last-session report")
	}
	return err
}

func (m *Manager) Seek(fraction float64) error { return m.sess.Seek(fraction) }

// Snapshot returns the current observable session state.
func (m *Manager) Snapshot() session.Snapshot { return m.sess.Snapshot() }

// SessionState backs the health checker: the current state name and whether
// the session is in its terminal failed state.
func (m *Manager) SessionState() (string, bool) {
	st := m.sess.State()
	return string(st), st.IsTerminal()
}

// onUpdate runs on the drain goroutine after every applied event batch.
func (m *Manager) onUpdate(snap session.Snapshot) {
	m.mu.Lock()
	publish := m.publish
	prev := m.lastState
	m.lastState = snap.State
	m.mu.Unlock()

	if publish != nil {
		publish(snap)
	}

	m.maybeApplyResume(snap)

	// Terminal transitions leave a durable trace: the resume position for
	// the next play, and the last-session report for the operator.
	if prev != snap.State && (snap.State == session.StateStopped || snap.State == session.StateFailed) {
		m.savePosition(snap)
		if err := writeReport(m.cfg.DataDir, buildReport(snap, m.cfg.Stream.URL, m.sess.Attempts())); err != nil {
			m.logger.Warn().Err(err).
				Str(log.FieldEvent, "daemon.report_failed").
				Msg("failed to write last-session report")
		}
	}
}

// maybeApplyResume seeks to the stored position exactly once per playback
// instance, as soon as the duration is known. A stream with no stored
// position, or one stored at the very start, plays from the beginning.
func (m *Manager) maybeApplyResume(snap session.Snapshot) {
	if m.store == nil {
		return
	}
	if snap.State != session.StatePlaying || snap.Position.DurationSeconds == 0 {
		return
	}

	m.mu.Lock()
	if m.resumeApplied {
		m.mu.Unlock()
		return
	}
	m.resumeApplied = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	pos, err := m.store.Get(ctx, resume.StreamKey(m.cfg.Stream.URL))
	if err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldEvent, "daemon.resume_load_failed").
			Msg("failed to load resume position")
		return
	}
	if pos == nil || pos.PositionSeconds == 0 {
		return
	}

	fraction := float64(pos.PositionSeconds) / float64(snap.Position.DurationSeconds)
	if fraction >= 1 {
		return
	}
	if err := m.sess.Seek(fraction); err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldEvent, "daemon.resume_seek_failed").
			Msg("failed to seek to resume position")
		return
	}
	m.logger.Info().
		Str(log.FieldEvent, "daemon.resume_applied").
		Uint64(log.FieldPosition, pos.PositionSeconds).
		Msg("resumed from stored position")
}

// savePosition persists the snapshot's position. Positions past the
// completion threshold clear the stored entry instead.
func (m *Manager) savePosition(snap session.Snapshot) {
	if m.store == nil || snap.Position.DurationSeconds == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	key := resume.StreamKey(m.cfg.Stream.URL)
	if snap.Position.Fraction() >= completionThreshold {
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Warn().Err(err).
				Str(log.FieldEvent, "daemon.resume_clear_failed").
				Msg("failed to clear resume position")
		}
		return
	}

	err := m.store.Put(ctx, key, resume.Position{
		PositionSeconds: snap.Position.PositionSeconds,
		DurationSeconds: snap.Position.DurationSeconds,
		UpdatedAt:       time.Now(),
	})
	if err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldEvent, "daemon.resume_save_failed").
			Msg("failed to save resume position")
		return
	}
	m.logger.Debug().
		Str(log.FieldEvent, "daemon.resume_saved").
		Uint64(log.FieldPosition, snap.Position.PositionSeconds).
		Msg("resume position saved")
}

// autosave periodically saves the position of an active playback so a crash
// loses at most one interval of progress.
func (m *Manager) autosave(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	ticker := time.NewTicker(m.cfg.Resume.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !m.sess.IsPlaying() {
				continue
			}
			m.savePosition(m.sess.Snapshot())
		}
	}
}
