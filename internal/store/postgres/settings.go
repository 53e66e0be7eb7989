package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// LoadSettings returns the persisted settings snapshot, or nil when none has
// been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (*settings.Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var snap settings.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
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
	_, err = s.db.Exec(ctx, `
		INSERT INTO settings (id, version, data, updated_at) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		snap.Version, data, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
