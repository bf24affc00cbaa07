// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"time"

	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
)

// Run is the event bridge: it consumes raw pipeline notifications,
// translates each into exactly one session event, and owns the reconnect
// backoff. It blocks until ctx is cancelled or the notification channel
// closes. Only one bridge may run per session.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Debug().Str(log.FieldEvent, "bridge.start").Msg("event bridge running")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str(log.FieldEvent, "bridge.stop").Msg("event bridge stopping")
			return nil
		case n, ok := <-s.pipe.Notifications():
			if !ok {
				s.logger.Debug().Str(log.FieldEvent, "bridge.stop").
					Msg("notification channel closed")
				return nil
			}
			s.handleNotification(ctx, n)
		}
	}
}

// handleNotification maps one raw notification to one session event and
// enqueues it without blocking. Errors additionally start the reconnect
// decision on this goroutine.
func (s *Session) handleNotification(ctx context.Context, n pipeline.Notification) {
	switch n.Kind {
	case pipeline.NoteEndOfStream:
		s.queue.Push(Event{Type: EventEndOfStream})

	case pipeline.NoteStreamStart:
		s.queue.Push(Event{Type: EventStreamStarted})

	case pipeline.NoteBuffering:
		s.queue.Push(Event{Type: EventBuffering, Percent: n.Percent})

	case pipeline.NoteStateChanged:
		s.queue.Push(Event{
			Type:     EventStateChanged,
			OldState: n.OldState,
			NewState: n.NewState,
		})

	case pipeline.NoteVideoInfo:
		if n.Video == nil {
			return
		}
		v := *n.Video
		s.queue.Push(Event{Type: EventVideoInfo, Video: &v})

	case pipeline.NoteError:
		// The reconnect decision reads intent at observation time; the
		// queued event carries that decision so draining it later stays
		// consistent even if intent changes in between.
		s.mu.Lock()
		playing := s.playing
		playCtx := s.playCtx
		s.mu.Unlock()

		s.queue.Push(Event{
			Type:       EventError,
			Message:    n.Message,
			Debug:      n.Debug,
			Recovering: playing,
		})
		if playing {
			s.reconnect(ctx, playCtx)
		}
	}
}

// reconnect runs the bounded recovery sequence for one stream error
// observed during active playback. It runs on the bridge goroutine and is
// the only place that sleeps: intent operations stay responsive because no
// lock is held through the backoff, and a concurrent Stop cancels the
// playback context to abort the pending retry.
func (s *Session) reconnect(ctx context.Context, playCtx context.Context) {
	d := s.policy.Fail()
	switch {
	case d.GiveUp:
		s.queue.Push(Event{Type: EventConnectionFailed})
		s.logger.Error().Str(log.FieldEvent, "reconnect.exhausted").
			Int(log.FieldAttempt, d.Attempt-1).
			Msg("giving up after max reconnect attempts")
		return
	case !d.Retry:
		// Budget already exhausted by an earlier error in this run.
		return
	}

	s.queue.Push(Event{Type: EventReconnectAttempt, Attempt: d.Attempt})
	s.logger.Warn().Str(log.FieldEvent, "reconnect.attempt").
		Int(log.FieldAttempt, d.Attempt).
		Dur(log.FieldBackoff, d.Backoff).
		Msg("stream error, reconnecting")

	// Tear the pipeline down before the wait so the retry starts clean.
	if err := s.pipe.SetState(pipeline.StateNull); err != nil {
		s.logger.Warn().Err(err).Msg("pipeline teardown before retry failed")
	}

	timer := time.NewTimer(d.Backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	case <-playCtx.Done():
		s.logger.Debug().Str(log.FieldEvent, "reconnect.aborted").
			Msg("retry abandoned, playback stopped during backoff")
		return
	}

	// Intent may have changed while waiting.
	if !s.IsPlaying() {
		s.logger.Debug().Str(log.FieldEvent, "reconnect.aborted").
			Msg("retry abandoned, no playback intent")
		return
	}

	if err := s.pipe.SetState(pipeline.StatePlaying); err != nil {
		// The adapter reports the failed restart as a fresh error
		// notification, which drives the next attempt.
		s.logger.Error().Err(err).Str(log.FieldEvent, "reconnect.retry_failed").
			Int(log.FieldAttempt, d.Attempt).Msg("reconnect play failed")
		return
	}
	s.logger.Info().Str(log.FieldEvent, "reconnect.retry").
		Int(log.FieldAttempt, d.Attempt).Msg("reconnect play issued")
}
