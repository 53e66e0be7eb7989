package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// LoadSettings returns the persisted settings snapshot, or nil when none has
// been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (*settings.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var snap settings.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &snap, nil
}

// SaveSettings upserts the single settings row.
func (s *Store) SaveSettings(ctx context.Context, snap *settings.Snapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, version, data, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		snap.Version, string(data), formatTime(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
