// SPDX-License-Identifier: MIT

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/rtsp2go/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store on a WAL-mode SQLite file.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and if needed migrates) the resume database.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS playback_positions (
		stream_key TEXT PRIMARY KEY,
		pos_seconds INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_updated ON playback_positions(updated_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, key string, pos Position) error {
	query := `
	INSERT INTO playback_positions (stream_key, pos_seconds, duration_seconds, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(stream_key) DO UPDATE SET
		pos_seconds = excluded.pos_seconds,
		duration_seconds = excluded.duration_seconds,
		updated_at = excluded.updated_at
	`
	_, err := s.DB.ExecContext(ctx, query,
		key, pos.PositionSeconds, pos.DurationSeconds, pos.UpdatedAt.Format(time.RFC3339))
	return err
}

func (s *SqliteStore) Get(ctx context.Context, key string) (*Position, error) {
	query := `SELECT pos_seconds, duration_seconds, updated_at FROM playback_positions WHERE stream_key = ?`
	var (
		pos       Position
		updatedAt string
	)
	err := s.DB.QueryRowContext(ctx, query, key).Scan(
		&pos.PositionSeconds, &pos.DurationSeconds, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &pos, nil
}

func (s *SqliteStore) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM playback_positions WHERE stream_key = ?", key)
	return err
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
