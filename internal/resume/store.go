// SPDX-License-Identifier: MIT

// Package resume persists playback positions per stream so a later play of
// the same URL can continue where the last one ended.
package resume

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// Position is one saved playback position.
type Position struct {
	PositionSeconds uint64    `json:"position_seconds"`
	DurationSeconds uint64    `json:"duration_seconds"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists positions keyed by stream. Get returns (nil, nil) for an
// unknown key.
type Store interface {
	Put(ctx context.Context, key string, pos Position) error
	Get(ctx context.Context, key string) (*Position, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// StreamKey derives the stable store key for a stream URL. The URL itself
// never lands on disk; credentials embedded in it stay out of the store.
func StreamKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// NewStore creates a resume store for the configured backend. Only sqlite
// and memory are supported; the bolt and badger backends of earlier
// releases are gone and their names fail loudly so stale configs surface.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(filepath.Join(dir, "resume.sqlite"))
	case "memory":
		return NewMemoryStore(), nil
	case "bolt", "badger":
		return nil, fmt.Errorf("deprecated resume backend %q removed; use sqlite or memory", backend)
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: sqlite, memory)", backend)
	}
}
