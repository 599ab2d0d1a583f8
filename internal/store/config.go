package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/franz/mediabin/internal/util"
)

// LibraryConfig is the single persisted configuration row
type LibraryConfig struct {
	DatadirLocation string
	UpdatedAt       time.Time
}

// GetConfig returns the library configuration, ErrNotFound if never set
func (s *Store) GetConfig(ctx context.Context) (*LibraryConfig, error) {
	var datadir, updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT datadir_location, updated_at FROM config WHERE id = 1").Scan(&datadir, &updated)
	if isNoRows(err) {
		return nil, fmt.Errorf("library config: %w", util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	cfg := &LibraryConfig{DatadirLocation: datadir}
	if cfg.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("bad config timestamp: %w", err)
	}
	return cfg, nil
}

// SetConfig inserts or replaces the library configuration
func (s *Store) SetConfig(ctx context.Context, datadirLocation string) error {
	if strings.TrimSpace(datadirLocation) == "" {
		return fmt.Errorf("datadir location is empty: %w", util.ErrInvalidConfig)
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO config (id, datadir_location, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				datadir_location = excluded.datadir_location,
				updated_at = excluded.updated_at
		`, datadirLocation, formatTime(s.timestamp()))
		if err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		return nil
	})
}
