package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/campaignforge/dispatch/internal/transport"
	"github.com/jackc/pgx/v5"
)

// TransportConfig implements transport.ConfigProvider from the persisted
// singleton settings row. Callers bound the lookup with a context deadline;
// any error (including no row yet) triggers their environment fallback.
func (s *PostgresStore) TransportConfig(ctx context.Context) (transport.Config, error) {
	var cfg transport.Config
	err := s.pool.QueryRow(ctx, `
		SELECT host, port, username, password, from_address, from_name
		FROM transport_settings WHERE id = 1
	`).Scan(&cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password, &cfg.FromAddress, &cfg.FromName)
	if errors.Is(err, pgx.ErrNoRows) {
		return transport.Config{}, fmt.Errorf("no transport settings persisted")
	}
	if err != nil {
		return transport.Config{}, fmt.Errorf("loading transport settings: %w", err)
	}
	return cfg, nil
}

// SaveTransportSettings upserts the singleton settings row and fires the
// update hook so the transport manager rebuilds its pool.
func (s *PostgresStore) SaveTransportSettings(ctx context.Context, cfg transport.Config) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transport_settings (id, host, port, username, password, from_address, from_name, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			host = $1, port = $2, username = $3, password = $4, from_address = $5, from_name = $6, updated_at = NOW()
	`, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.FromAddress, cfg.FromName)
	if err != nil {
		return fmt.Errorf("saving transport settings: %w", err)
	}

	if s.onSettingsUpdate != nil {
		s.onSettingsUpdate()
	}
	return nil
}

// OnSettingsUpdate registers the hook invoked after a transport-settings
// write. Wired to TransportManager.Refresh by the composition root.
func (s *PostgresStore) OnSettingsUpdate(fn func()) {
	s.onSettingsUpdate = fn
}
