// SPDX-License-Identifier: MIT
package session

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtsp2go/internal/pipeline"
)

func newTestSession(t *testing.T, mutate ...func(*Config)) (*Session, *pipeline.Fake) {
	t.Helper()
	fake := pipeline.NewFake()
	cfg := Config{
		URL:                  "rtsp://cam.example.test/live",
		MaxReconnectAttempts: 5,
		ReconnectBackoff:     20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(fake, cfg), fake
}

// failSession drives a session into the failed state through a stream error
// while no playback intent is set.
func failSession(t *testing.T, s *Session) {
	t.Helper()
	s.queue.Push(Event{Type: EventError, Message: "handshake refused"})
	s.DrainEvents()
	require.Equal(t, StateFailed, s.State())
}

func TestNewSessionDefaults(t *testing.T) {
	s := New(pipeline.NewFake(), Config{})

	assert.Equal(t, StateUninitialized, s.State())
	assert.False(t, s.IsPlaying())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, 0, s.Attempts())
	assert.Equal(t, DefaultMaxReconnectAttempts, s.policy.MaxAttempts())
	assert.Equal(t, DefaultReconnectBackoff, s.policy.Backoff())
}

func TestPlayStartsPipeline(t *testing.T) {
	s, fake := newTestSession(t)

	require.NoError(t, s.Play())

	assert.Equal(t, StatePlaying, s.State())
	assert.True(t, s.IsPlaying())
	assert.Equal(t, []pipeline.State{pipeline.StatePlaying}, fake.States())
}

func TestPlayIdempotentWhilePlaying(t *testing.T) {
	s, fake := newTestSession(t)

	require.NoError(t, s.Play())
	require.NoError(t, s.Play())

	assert.Equal(t, StatePlaying, s.State())
	assert.Len(t, fake.States(), 2, "each play pokes the pipeline, neither errors")
}

func TestPlaySurfacesPipelineRejection(t *testing.T) {
	s, fake := newTestSession(t)
	boom := errors.New("no network")
	fake.FailSetState(pipeline.StatePlaying, boom)

	err := s.Play()

	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateUninitialized, s.State(), "state unchanged on rejection")
	assert.False(t, s.IsPlaying())
}

func TestPlayRefusedFromFailedUntilStop(t *testing.T) {
	s, _ := newTestSession(t)
	failSession(t, s)
	assert.Equal(t, "handshake refused", s.Snapshot().FailureReason)

	err := s.Play()
	require.ErrorIs(t, err, ErrSessionFailed)
	assert.Equal(t, StateFailed, s.State())

	// Stop is the only exit from failed.
	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())

	require.NoError(t, s.Play())
	assert.Equal(t, StatePlaying, s.State())
	assert.Empty(t, s.Snapshot().FailureReason)
}

func TestPauseAndResume(t *testing.T) {
	s, fake := newTestSession(t)
	require.NoError(t, s.Play())

	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.State())
	assert.False(t, s.IsPlaying())

	require.NoError(t, s.Resume())
	assert.Equal(t, StatePlaying, s.State())
	assert.True(t, s.IsPlaying())

	want := []pipeline.State{pipeline.StatePlaying, pipeline.StatePaused, pipeline.StatePlaying}
	assert.Equal(t, want, fake.States())
}

func TestPauseTwiceIsNoop(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.State())
}

func TestPauseInvalidOutsidePlayback(t *testing.T) {
	s, _ := newTestSession(t)

	err := s.Pause()
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Stop())
	require.ErrorIs(t, s.Pause(), ErrInvalidTransition)
	require.ErrorIs(t, s.Resume(), ErrInvalidTransition)
}

func TestStopSafeFromEveryState(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		s, _ := newTestSession(t)
		require.NoError(t, s.Stop())
		assert.Equal(t, StateStopped, s.State())
	})
	t.Run("playing", func(t *testing.T) {
		s, _ := newTestSession(t)
		require.NoError(t, s.Play())
		require.NoError(t, s.Stop())
		assert.Equal(t, StateStopped, s.State())
		assert.False(t, s.IsPlaying())
	})
	t.Run("paused", func(t *testing.T) {
		s, _ := newTestSession(t)
		require.NoError(t, s.Play())
		require.NoError(t, s.Pause())
		require.NoError(t, s.Stop())
		assert.Equal(t, StateStopped, s.State())
	})
	t.Run("failed", func(t *testing.T) {
		s, _ := newTestSession(t)
		failSession(t, s)
		require.NoError(t, s.Stop())
		assert.Equal(t, StateStopped, s.State())
	})
	t.Run("twice", func(t *testing.T) {
		s, _ := newTestSession(t)
		require.NoError(t, s.Stop())
		require.NoError(t, s.Stop())
		assert.Equal(t, StateStopped, s.State())
	})
}

func TestStopLandsInStoppedEvenWhenPipelineRefuses(t *testing.T) {
	s, fake := newTestSession(t)
	require.NoError(t, s.Play())
	boom := errors.New("teardown stuck")
	fake.FailSetState(pipeline.StateNull, boom)

	err := s.Stop()

	require.ErrorIs(t, err, boom, "refusal is still reported")
	assert.Equal(t, StateStopped, s.State(), "session stops regardless")
	assert.False(t, s.IsPlaying())
}

func TestStopResetsReconnectCounter(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	s.policy.Fail()
	s.policy.Fail()
	require.Equal(t, 2, s.Attempts())

	require.NoError(t, s.Stop())

	assert.Equal(t, 0, s.Attempts())
}

func TestSeekClampsOutOfRangeFractions(t *testing.T) {
	tests := []struct {
		name     string
		fraction float64
		want     time.Duration
	}{
		{"negative", -0.5, 0},
		{"zero", 0, 0},
		{"middle", 0.5, 30 * time.Second},
		{"one", 1.0, 60 * time.Second},
		{"above one", 1.5, 60 * time.Second},
		{"far above", 42.0, 60 * time.Second},
		{"nan", math.NaN(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newTestSession(t)
			s.updatePosition(0, false, 60*time.Second, true)

			require.NoError(t, s.Seek(tt.fraction), "seek must never reject for range")

			seeks := fake.Seeks()
			require.Len(t, seeks, 1)
			assert.Equal(t, tt.want, seeks[0])
		})
	}
}

func TestSeekNoopWhileDurationUnknown(t *testing.T) {
	s, fake := newTestSession(t)

	require.NoError(t, s.Seek(0.7))

	assert.Empty(t, fake.Seeks(), "no pipeline seek without a known duration")
}

func TestSeekSurfacesPipelineRejection(t *testing.T) {
	s, fake := newTestSession(t)
	s.updatePosition(0, false, 60*time.Second, true)
	boom := errors.New("not seekable")
	fake.FailSeek(boom)

	require.ErrorIs(t, s.Seek(0.5), boom)
}

func TestSeekUpdatesReportedPosition(t *testing.T) {
	s, _ := newTestSession(t)
	s.updatePosition(0, false, 100*time.Second, true)

	require.NoError(t, s.Seek(0.25))

	assert.Equal(t, uint64(25), s.Snapshot().Position.PositionSeconds)
}

func TestDrainEmptyQueueIsIdempotentNoop(t *testing.T) {
	var calls int
	s, _ := newTestSession(t, func(c *Config) {
		c.OnUpdate = func(Snapshot) { calls++ }
	})

	before := s.Snapshot()
	s.DrainEvents()
	s.DrainEvents()

	assert.Equal(t, before, s.Snapshot())
	assert.Zero(t, calls, "observer must not fire on empty passes")
}

func TestDrainAppliesEventsInArrivalOrder(t *testing.T) {
	// 40 then 100 ends playing; the reverse order ends buffering. Only
	// FIFO application explains both outcomes.
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	s.queue.Push(Event{Type: EventBuffering, Percent: 40})
	s.queue.Push(Event{Type: EventBuffering, Percent: 100})
	s.DrainEvents()
	assert.Equal(t, StatePlaying, s.State())

	s2, _ := newTestSession(t)
	require.NoError(t, s2.Play())
	s2.queue.Push(Event{Type: EventBuffering, Percent: 100})
	s2.queue.Push(Event{Type: EventBuffering, Percent: 40})
	s2.DrainEvents()
	assert.Equal(t, StateBuffering, s2.State())
	assert.Equal(t, 40, s2.Snapshot().BufferPercent)
}

func TestStreamStartedEntersReadyWithoutIntent(t *testing.T) {
	s, _ := newTestSession(t)
	s.queue.Push(Event{Type: EventStreamStarted})

	s.DrainEvents()

	assert.Equal(t, StateReady, s.State())
	assert.False(t, s.IsPlaying(), "stream start does not change intent")
}

func TestStreamStartedKeepsPlayingWithIntent(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	s.queue.Push(Event{Type: EventStreamStarted})

	s.DrainEvents()

	assert.Equal(t, StatePlaying, s.State())
	assert.True(t, s.IsPlaying())
}

func TestVideoInfoStoredAndOverwritten(t *testing.T) {
	s, _ := newTestSession(t)
	s.queue.Push(Event{Type: EventVideoInfo, Video: &pipeline.VideoInfo{
		Width: 1920, Height: 1080, Framerate: 25, Codec: "h264",
	}})
	s.DrainEvents()

	snap := s.Snapshot()
	require.NotNil(t, snap.Video)
	assert.Equal(t, 1920, snap.Video.Width)
	assert.Equal(t, "h264", snap.Video.Codec)

	// Renegotiation overwrites.
	s.queue.Push(Event{Type: EventVideoInfo, Video: &pipeline.VideoInfo{
		Width: 1280, Height: 720, Framerate: 30, Codec: "hevc",
	}})
	s.DrainEvents()

	snap = s.Snapshot()
	require.NotNil(t, snap.Video)
	assert.Equal(t, 1280, snap.Video.Width)
	assert.Equal(t, "hevc", snap.Video.Codec)

	// Snapshots are value copies; mutating one must not leak back.
	snap.Video.Width = 1
	assert.Equal(t, 1280, s.Snapshot().Video.Width)
}

func TestFreshPlayClearsPreviousStream(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	s.queue.Push(Event{Type: EventVideoInfo, Video: &pipeline.VideoInfo{Width: 640, Height: 480}})
	s.DrainEvents()
	s.updatePosition(30*time.Second, true, 60*time.Second, true)
	require.NoError(t, s.Stop())

	require.NoError(t, s.Play())

	snap := s.Snapshot()
	assert.Nil(t, snap.Video)
	assert.Zero(t, snap.Position.PositionSeconds)
	assert.Zero(t, snap.Position.DurationSeconds)
}

func TestBufferingPausesThenResumes(t *testing.T) {
	s, fake := newTestSession(t)
	require.NoError(t, s.Play())

	s.queue.Push(Event{Type: EventBuffering, Percent: 40})
	s.DrainEvents()
	assert.Equal(t, StateBuffering, s.State())
	assert.Equal(t, 40, s.Snapshot().BufferPercent)

	s.queue.Push(Event{Type: EventBuffering, Percent: 100})
	s.DrainEvents()
	assert.Equal(t, StatePlaying, s.State())

	want := []pipeline.State{pipeline.StatePlaying, pipeline.StatePaused, pipeline.StatePlaying}
	assert.Equal(t, want, fake.States(), "pipeline must see pause then resume")
}

func TestBufferingIgnoredWithoutPlayIntent(t *testing.T) {
	s, fake := newTestSession(t)
	require.NoError(t, s.Play())
	require.NoError(t, s.Pause())
	callsBefore := len(fake.States())

	s.queue.Push(Event{Type: EventBuffering, Percent: 30})
	s.DrainEvents()

	assert.Equal(t, StatePaused, s.State(), "cache churn must not disturb a paused session")
	assert.Len(t, fake.States(), callsBefore)
}

func TestBufferFullWithoutPriorStallIssuesResume(t *testing.T) {
	s, fake := newTestSession(t)
	require.NoError(t, s.Play())

	s.queue.Push(Event{Type: EventBuffering, Percent: 100})
	s.DrainEvents()

	assert.Equal(t, StatePlaying, s.State())
	want := []pipeline.State{pipeline.StatePlaying, pipeline.StatePlaying}
	assert.Equal(t, want, fake.States())
}

func TestStateChangedPlayingResetsAttempts(t *testing.T) {
	// Reset applies regardless of prior value, including after the
	// budget is exhausted.
	for _, prior := range []int{1, 3, 6} {
		s, _ := newTestSession(t)
		require.NoError(t, s.Play())
		for i := 0; i < prior; i++ {
			s.policy.Fail()
		}
		require.Equal(t, prior, s.Attempts())

		s.queue.Push(Event{
			Type:     EventStateChanged,
			OldState: pipeline.StatePaused,
			NewState: pipeline.StatePlaying,
		})
		s.DrainEvents()

		assert.Equal(t, 0, s.Attempts(), "prior=%d", prior)
		assert.Equal(t, StatePlaying, s.State())
	}
}

func TestStateChangedNonPlayingIgnored(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	require.NoError(t, s.Pause())

	s.queue.Push(Event{
		Type:     EventStateChanged,
		OldState: pipeline.StatePlaying,
		NewState: pipeline.StatePaused,
	})
	s.DrainEvents()

	assert.Equal(t, StatePaused, s.State())
}

func TestErrorWithoutIntentFailsSession(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	require.NoError(t, s.Pause())

	s.queue.Push(Event{Type: EventError, Message: "decoder died", Debug: "rank 0"})
	s.DrainEvents()

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "decoder died", s.Snapshot().FailureReason)
}

func TestErrorDuringRecoveryDoesNotFailSession(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())

	// The bridge marks errors it already handed to the reconnect loop.
	s.queue.Push(Event{Type: EventError, Message: "net down", Recovering: true})
	s.DrainEvents()

	assert.Equal(t, StatePlaying, s.State())
	assert.True(t, s.IsPlaying())
}

func TestLateErrorAfterStopIgnored(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	require.NoError(t, s.Stop())

	s.queue.Push(Event{Type: EventError, Message: "stale"})
	s.DrainEvents()

	assert.Equal(t, StateStopped, s.State(), "stop forces stopped, stale errors cannot resurrect")
}

func TestEndOfStreamStops(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())

	s.queue.Push(Event{Type: EventEndOfStream})
	s.DrainEvents()

	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.IsPlaying())

	// A duplicate EOS after the stop changes nothing.
	s.queue.Push(Event{Type: EventEndOfStream})
	s.DrainEvents()
	assert.Equal(t, StateStopped, s.State())
}

func TestReconnectAttemptEntersReconnecting(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())

	s.queue.Push(Event{Type: EventReconnectAttempt, Attempt: 2})
	s.DrainEvents()

	assert.Equal(t, StateReconnecting, s.State())
	assert.Equal(t, 2, s.Snapshot().ReconnectAttempt)
}

func TestConnectionFailedIsTerminalUntilStopPlay(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())
	s.queue.Push(Event{Type: EventReconnectAttempt, Attempt: 5})
	s.queue.Push(Event{Type: EventConnectionFailed})

	s.DrainEvents()

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "max reconnect attempts exceeded", s.Snapshot().FailureReason)
	assert.False(t, s.IsPlaying())

	require.ErrorIs(t, s.Play(), ErrSessionFailed)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Play())
	assert.Equal(t, StatePlaying, s.State())
}

func TestObserverFiresOncePerNonEmptyDrain(t *testing.T) {
	var (
		calls int
		last  Snapshot
	)
	s, _ := newTestSession(t, func(c *Config) {
		c.OnUpdate = func(snap Snapshot) {
			calls++
			last = snap
		}
	})

	s.queue.Push(Event{Type: EventStreamStarted})
	s.queue.Push(Event{Type: EventVideoInfo, Video: &pipeline.VideoInfo{Width: 704, Height: 576}})
	s.queue.Push(Event{Type: EventEndOfStream})
	s.DrainEvents()

	assert.Equal(t, 1, calls, "one callback per pass, not per event")
	assert.Equal(t, StateStopped, last.State, "callback sees the state after the whole pass")
	require.NotNil(t, last.Video)

	s.DrainEvents()
	assert.Equal(t, 1, calls)
}

func TestSnapshotParametersTravelWithTheirState(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Play())

	s.queue.Push(Event{Type: EventBuffering, Percent: 55})
	s.DrainEvents()
	snap := s.Snapshot()
	assert.Equal(t, 55, snap.BufferPercent)
	assert.Zero(t, snap.ReconnectAttempt)
	assert.Empty(t, snap.FailureReason)

	s.queue.Push(Event{Type: EventBuffering, Percent: 100})
	s.DrainEvents()
	snap = s.Snapshot()
	assert.Zero(t, snap.BufferPercent, "percent only travels with buffering")
}

func TestUpdatePositionClampsToDuration(t *testing.T) {
	s, _ := newTestSession(t)

	s.updatePosition(75*time.Second, true, 60*time.Second, true)
	snap := s.Snapshot()
	assert.Equal(t, uint64(60), snap.Position.PositionSeconds, "position clamped, never propagated beyond duration")
	assert.Equal(t, uint64(60), snap.Position.DurationSeconds)

	// A missing duration keeps the previous one.
	s.updatePosition(30*time.Second, true, 0, false)
	snap = s.Snapshot()
	assert.Equal(t, uint64(30), snap.Position.PositionSeconds)
	assert.Equal(t, uint64(60), snap.Position.DurationSeconds)

	// A shrinking duration re-clamps the stored position.
	s.updatePosition(0, false, 20*time.Second, true)
	snap = s.Snapshot()
	assert.Equal(t, uint64(20), snap.Position.PositionSeconds)
	assert.Equal(t, uint64(20), snap.Position.DurationSeconds)
}

func TestPositionFraction(t *testing.T) {
	assert.Equal(t, 0.5, PositionInfo{PositionSeconds: 30, DurationSeconds: 60}.Fraction())
	assert.Equal(t, 0.0, PositionInfo{PositionSeconds: 10}.Fraction(), "unknown duration reads as zero progress")
	assert.Equal(t, 1.0, PositionInfo{PositionSeconds: 90, DurationSeconds: 60}.Fraction())
}
