// SPDX-License-Identifier: MIT

package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/rtsp2go/internal/config"
	"github.com/ManuGH/rtsp2go/internal/pipeline"
	"github.com/ManuGH/rtsp2go/internal/resume"
	"github.com/ManuGH/rtsp2go/internal/session"
)

// reportFileName is the well-known report location under the data dir.
const reportFileName = "last-session.json"

// SessionReport is the durable record of how the last playback ended,
// written when a session reaches stopped or failed. Operators read it after
// a crash or restart to see what the daemon was doing last.
type SessionReport struct {
	SessionID     string              `json:"session_id"`
	StreamKey     string              `json:"stream_key"`
	StreamURL     string              `json:"stream_url"` // credentials masked
	FinalState    string              `json:"final_state"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Position      uint64              `json:"position_seconds"`
	Duration      uint64              `json:"duration_seconds"`
	Video         *pipeline.VideoInfo `json:"video,omitempty"`
	Reconnects    int                 `json:"reconnect_attempts"`
	EndedAt       time.Time           `json:"ended_at"`
}

func buildReport(snap session.Snapshot, streamURL string, reconnects int) SessionReport {
	return SessionReport{
		SessionID:     snap.ID,
		StreamKey:     resume.StreamKey(streamURL),
		StreamURL:     config.MaskURL(streamURL),
		FinalState:    string(snap.State),
		FailureReason: snap.FailureReason,
		Position:      snap.Position.PositionSeconds,
		Duration:      snap.Position.DurationSeconds,
		Video:         snap.Video,
		Reconnects:    reconnects,
		EndedAt:       snap.UpdatedAt,
	}
}

// writeReport persists the report atomically: readers either see the old
// file or the complete new one, never a torn write.
func writeReport(dataDir string, report SessionReport) error {
	path := filepath.Join(dataDir, reportFileName)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending report file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode session report: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace session report: %w", err)
	}
	return nil
}

// ReadReport loads the last-session report, or (nil, nil) when none has
// been written yet.
func ReadReport(dataDir string) (*SessionReport, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, reportFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session report: %w", err)
	}
	var report SessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse session report: %w", err)
	}
	return &report, nil
}
