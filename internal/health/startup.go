// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts,
// so misconfiguration fails fast instead of surfacing mid-playback.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	if err := ensureDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Debug().Str("path", cfg.DataDir).Msg("data directory writable")

	if cfg.Pipeline.Backend == "mpv" {
		path, err := exec.LookPath(cfg.Pipeline.MpvBin)
		if err != nil {
			return fmt.Errorf("player binary %q not found in PATH: %w", cfg.Pipeline.MpvBin, err)
		}
		logger.Debug().Str("path", path).Msg("player binary resolved")
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("startup checks passed")
	return nil
}

// ensureDataDir creates the data directory if missing and verifies it is
// writable.
func ensureDataDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("%s is not writable: %w", path, err)
	}
	return os.Remove(probe)
}
