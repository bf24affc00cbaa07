// SPDX-License-Identifier: MIT

// Command daemon runs the playback session controller: one RTSP-class
// stream, an mpv pipeline behind it, and an HTTP control surface in front.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/rtsp2go/internal/api"
	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/daemon"
	"github.com/ManuGH/rtsp2go/internal/health"
	"github.com/ManuGH/rtsp2go/internal/log"
	"github.com/ManuGH/rtsp2go/internal/persistence/sqlite"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
	"github.com/ManuGH/rtsp2go/internal/pipeline/mpv"
	"github.com/ManuGH/rtsp2go/internal/resume"
	"github.com/ManuGH/rtsp2go/internal/telemetry"
	"github.com/ManuGH/rtsp2go/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until the real config is loaded.
	log.Configure(log.Config{Level: "info", Service: "rtsp2go", Version: version.Version})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise ${R2G_DATA_DIR}/config.yaml
	// if it exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		if dataDir := strings.TrimSpace(os.Getenv("R2G_DATA_DIR")); dataDir != "" {
			autoPath := filepath.Join(dataDir, "config.yaml")
			if _, err := os.Stat(autoPath); err == nil {
				effectivePath = autoPath
			}
		}
	}

	loader := config.NewLoader(effectivePath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}

	log.SetLevel(cfg.Log.Level)
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("config_path", effectivePath).
		Str(log.FieldURL, config.MaskURL(cfg.Stream.URL)).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "startup.check_failed").
			Msg("startup checks failed")
	}

	if err := run(ctx, cfg, effectivePath, loader); err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "daemon.fatal").
			Msg("daemon terminated with error")
	}
	logger.Info().Str(log.FieldEvent, "daemon.exit").Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.AppConfig, configPath string, loader *config.Loader) error {
	logger := log.WithComponent("main")

	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "rtsp2go",
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.OTel.ExporterType,
		Endpoint:       cfg.OTel.Endpoint,
		SamplingRate:   cfg.OTel.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// A corrupt resume database should surface at boot, not on first use.
	if cfg.Resume.Backend == "sqlite" {
		dbPath := filepath.Join(cfg.DataDir, "resume.sqlite")
		if _, err := os.Stat(dbPath); err == nil {
			problems, err := sqlite.VerifyIntegrity(dbPath, "quick")
			switch {
			case err != nil:
				logger.Warn().Err(err).
					Str(log.FieldEvent, "startup.db_verify_failed").
					Msg("could not verify resume database integrity")
			case len(problems) > 0:
				return fmt.Errorf("resume database %s is corrupt: %s", dbPath, strings.Join(problems, "; "))
			}
		}
	}

	store, err := resume.NewStore(cfg.Resume.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open resume store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("resume store close failed")
		}
	}()

	pipe, err := buildPipeline(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		if err := pipe.Close(); err != nil {
			logger.Warn().Err(err).Msg("pipeline close failed")
		}
	}()

	manager := daemon.NewManager(cfg, pipe, store)

	healthMgr := health.NewManager(cfg.Version)
	healthMgr.RegisterChecker(health.NewStoreChecker("resume_store", store))
	healthMgr.RegisterChecker(health.NewSessionChecker(manager.SessionState))
	if cfg.Pipeline.Backend == "mpv" {
		healthMgr.RegisterChecker(health.NewBinaryChecker("mpv", cfg.Pipeline.MpvBin))
	}

	server := api.New(cfg, manager, healthMgr)
	manager.SetPublisher(server.PublishSnapshot)

	var holder *config.Holder
	if configPath != "" {
		holder = config.NewHolder(cfg, loader, configPath)
	}

	app := daemon.NewApp(manager, holder, server)
	return app.Run(ctx)
}

// buildPipeline selects the media pipeline backend. Only mpv is wired; the
// switch keeps the seam where another engine would slot in.
func buildPipeline(cfg config.AppConfig) (pipeline.Handle, error) {
	switch cfg.Pipeline.Backend {
	case "mpv":
		socketDir := cfg.Pipeline.SocketDir
		if socketDir == "" {
			socketDir = cfg.DataDir
		}
		return mpv.New(mpv.Config{
			Bin:       cfg.Pipeline.MpvBin,
			URL:       cfg.Stream.URL,
			SocketDir: socketDir,
		})
	default:
		return nil, fmt.Errorf("pipeline backend %q not supported", cfg.Pipeline.Backend)
	}
}
