// SPDX-License-Identifier: MIT

// Package mpv implements the pipeline contract on top of an external mpv
// process driven over its JSON IPC socket. SetState(Playing) spawns or
// unpauses the player, SetState(Null) terminates it; property observers feed
// the raw notification stream the session bridge consumes.
package mpv

import (
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
)

const (
	socketWaitRetries = 10
	socketWaitDelay   = 300 * time.Millisecond
	quitGracePeriod   = 3 * time.Second
)

// Config carries the adapter construction inputs.
type Config struct {
	// Bin is the mpv binary name or path.
	Bin string
	// URL is the stream this handle is bound to.
	URL string
	// SocketDir is where the IPC socket is created.
	SocketDir string
}

// Handle drives one mpv process per playback instance. It satisfies
// pipeline.Handle; the session owns it for its entire lifetime and respawns
// the process through SetState as needed.
type Handle struct {
	cfg    Config
	logger zerolog.Logger

	ipcMu      sync.Mutex
	socketPath string

	mu       sync.Mutex
	cmd      *exec.Cmd
	exited   chan struct{}
	listener *eventListener
	running  bool
	closed   bool

	notifCh chan pipeline.Notification
}

var _ pipeline.Handle = (*Handle)(nil)

// New creates an mpv-backed pipeline handle. No process is started until the
// first SetState(Playing).
func New(cfg Config) (*Handle, error) {
	if cfg.Bin == "" {
		cfg.Bin = "mpv"
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("mpv: stream URL must not be empty")
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = os.TempDir()
	}
	return &Handle{
		cfg:     cfg,
		logger:  log.WithComponent("mpv"),
		notifCh: make(chan pipeline.Notification, 64),
	}, nil
}

// SetState requests a coarse engine transition. Requesting the state the
// engine already occupies succeeds.
func (h *Handle) SetState(s pipeline.State) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return pipeline.ErrClosed
	}
	running := h.running
	h.mu.Unlock()

	switch s {
	case pipeline.StatePlaying:
		if running {
			return h.setPause(false)
		}
		return h.spawn()
	case pipeline.StatePaused:
		// Pausing with no live process happens during reconnect gaps. The
		// pause flag only exists while a player runs, so this is a no-op.
		if !running {
			return nil
		}
		return h.setPause(true)
	case pipeline.StateNull:
		if !running {
			return nil
		}
		return h.terminate()
	default:
		return fmt.Errorf("mpv: unsupported state %q", s)
	}
}

// Seek jumps to an absolute position. mpv snaps to the nearest keyframe,
// matching the flushing key-unit semantics the session expects.
func (h *Handle) Seek(pos time.Duration) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return pipeline.ErrClosed
	}
	running := h.running
	h.mu.Unlock()
	if !running {
		return fmt.Errorf("mpv: seek requested but no player is running")
	}

	_, err := h.sendCommand([]interface{}{"seek", pos.Seconds(), "absolute+keyframes"})
	if err != nil {
		return fmt.Errorf("mpv: seek: %w", err)
	}
	return nil
}

// Position reports the current playback position when mpv knows it.
func (h *Handle) Position() (time.Duration, bool) {
	if !h.isRunning() {
		return 0, false
	}
	secs, ok, err := h.getFloatProperty("time-pos")
	if err != nil || !ok {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Duration reports the total stream duration. Live streams without a fixed
// end report false.
func (h *Handle) Duration() (time.Duration, bool) {
	if !h.isRunning() {
		return 0, false
	}
	secs, ok, err := h.getFloatProperty("duration")
	if err != nil || !ok || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Notifications returns the raw engine event stream. The channel stays open
// across respawns and closes only on Close.
func (h *Handle) Notifications() <-chan pipeline.Notification {
	return h.notifCh
}

// Close terminates any running player and shuts the notification stream down
// for good. Safe to call twice.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	running := h.running
	h.mu.Unlock()

	if running {
		_ = h.terminate()
	}

	h.mu.Lock()
	close(h.notifCh)
	h.mu.Unlock()
	return nil
}

// spawn starts a fresh mpv process and waits for its IPC socket.
func (h *Handle) spawn() error {
	socket, err := h.newSocketPath()
	if err != nil {
		return err
	}

	args := []string{
		"--no-terminal",
		"--really-quiet",
		fmt.Sprintf("--input-ipc-server=%s", socket),
		"--idle=no",
		"--keep-open=no",
		// mpv handles rtsp:// through its ffmpeg demuxer; prefer TCP to
		// survive lossy links the same way the stream source would.
		"--rtsp-transport=tcp",
		"--cache=yes",
		h.cfg.URL,
	}

	cmd := exec.Command(h.cfg.Bin, args...) // #nosec G204 -- binary and URL are validated operator config
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mpv: start: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	h.ipcMu.Lock()
	h.socketPath = socket
	h.ipcMu.Unlock()

	if err := waitForSocket(socket, exited); err != nil {
		select {
		case <-exited:
		default:
			_ = cmd.Process.Kill()
		}
		return fmt.Errorf("mpv: socket not ready: %w", err)
	}

	listener := newEventListener(h, socket, exited)
	if err := listener.start(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("mpv: event listener: %w", err)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.exited = exited
	h.listener = listener
	h.running = true
	h.mu.Unlock()

	h.logger.Info().
		Str(log.FieldEvent, "mpv.spawned").
		Int("pid", cmd.Process.Pid).
		Str("socket", socket).
		Msg("mpv process started")
	return nil
}

// terminate asks mpv to quit and kills it after a grace period.
func (h *Handle) terminate() error {
	h.mu.Lock()
	cmd := h.cmd
	exited := h.exited
	listener := h.listener
	h.cmd = nil
	h.exited = nil
	h.listener = nil
	h.running = false
	h.mu.Unlock()

	if listener != nil {
		listener.stop()
	}

	_, _ = h.sendCommand([]interface{}{"quit"})

	if exited != nil {
		select {
		case <-exited:
		case <-time.After(quitGracePeriod):
			if cmd != nil && cmd.Process != nil {
				h.logger.Warn().Str(log.FieldEvent, "mpv.kill").
					Msg("mpv ignored quit, killing")
				_ = cmd.Process.Kill()
			}
		}
	}

	h.ipcMu.Lock()
	socket := h.socketPath
	h.socketPath = ""
	h.ipcMu.Unlock()
	if socket != "" {
		_ = os.Remove(socket)
	}

	h.logger.Info().Str(log.FieldEvent, "mpv.stopped").Msg("mpv process stopped")
	return nil
}

func (h *Handle) setPause(paused bool) error {
	_, err := h.sendCommand([]interface{}{"set_property", "pause", paused})
	if err != nil {
		return fmt.Errorf("mpv: set pause=%t: %w", paused, err)
	}
	return nil
}

func (h *Handle) isRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running && !h.closed
}

// emit pushes a raw notification unless the stream is already closed or the
// buffer is full. Losing a position-grade event under pressure is fine; the
// buffer is generous enough that terminal events always fit.
func (h *Handle) emit(n pipeline.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.notifCh <- n:
	default:
		h.logger.Warn().Str(log.FieldEvent, "mpv.notification_dropped").
			Str("kind", string(n.Kind)).Msg("notification buffer full")
	}
}

// processExited marks the handle stopped after an unexpected process exit.
// Returns false when the exit was an orderly terminate.
func (h *Handle) processExited(exited <-chan struct{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited != exited {
		return false
	}
	h.cmd = nil
	h.exited = nil
	h.listener = nil
	h.running = false
	return true
}

func (h *Handle) newSocketPath() (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("mpv: socket name: %w", err)
	}
	return filepath.Join(h.cfg.SocketDir, fmt.Sprintf("mpv-%x.sock", suffix)), nil
}

// waitForSocket polls until the IPC socket accepts connections or the
// process dies first.
func waitForSocket(socketPath string, exited <-chan struct{}) error {
	for i := 0; i < socketWaitRetries; i++ {
		time.Sleep(socketWaitDelay)
		select {
		case <-exited:
			return fmt.Errorf("mpv exited before socket was ready")
		default:
		}
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			_ = conn.Close()
			return nil
		}
	}
	return fmt.Errorf("socket %s not ready after %d attempts", socketPath, socketWaitRetries)
}
