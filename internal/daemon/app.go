// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/rtsp2go/internal/api"
	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/session"
)

// App owns the long-lived runtime: the session bridge, its drivers, the
// HTTP server and the config reload wiring. Everything runs in one errgroup
// and stops together when the context is cancelled or any part fails.
type App struct {
	logger       zerolog.Logger
	manager      *Manager
	holder       *config.Holder
	server       *api.Server
	reloadSignal os.Signal
}

// NewApp assembles the runtime orchestrator. The holder may be nil, which
// disables hot reload.
func NewApp(manager *Manager, holder *config.Holder, server *api.Server) *App {
	return &App{
		logger:       log.WithComponent("daemon"),
		manager:      manager,
		holder:       holder,
		server:       server,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all subsystems and blocks until ctx is cancelled or a fatal
// error occurs. Cancellation stops the session first (saving its position),
// then drains the HTTP server.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	cfg := a.manager.cfg
	sess := a.manager.Session()

	// Config watcher is best-effort: a missing inotify capacity should not
	// keep the daemon from starting.
	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).
				Str(log.FieldEvent, "config.watcher_start_failed").
				Msg("failed to start config watcher")
		}

		reloadCh := make(chan config.AppConfig, 1)
		a.holder.RegisterListener(reloadCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case newCfg := <-reloadCh:
					log.SetLevel(newCfg.Log.Level)
					a.server.ApplyConfig(newCfg)
				}
			}
		})

		// SIGHUP triggers a manual reload, same path as the file watcher.
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, a.reloadSignal)
			defer signal.Stop(hup)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Msg("received reload signal")
					if err := a.holder.Reload(ctx); err != nil {
						a.logger.Warn().Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	// Bridge: pipeline notifications into the session's event queue.
	g.Go(func() error {
		return sess.Run(ctx)
	})

	// Drain driver: applies queued events at a fixed cadence.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Session.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sess.DrainEvents()
			}
		}
	})

	// Position poller.
	g.Go(func() error {
		return session.NewPoller(sess, cfg.Session.PollInterval).Run(ctx)
	})

	// Resume-position autosave.
	g.Go(func() error {
		return a.manager.autosave(ctx)
	})

	// HTTP control surface; Start blocks until ctx cancels, then drains.
	g.Go(func() error {
		return a.server.Start(ctx)
	})

	// Shutdown hook: once the group context dies, stop playback so the
	// final position and report land on disk before the process exits.
	g.Go(func() error {
		<-ctx.Done()
		if err := a.manager.Stop(); err != nil {
			a.logger.Debug().Err(err).
				Str(log.FieldEvent, "daemon.shutdown_stop").
				Msg("stop during shutdown reported an error")
		}
		return nil
	})

	a.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str(log.FieldURL, config.MaskURL(cfg.Stream.URL)).
		Msg("playback daemon running")

	return g.Wait()
}
