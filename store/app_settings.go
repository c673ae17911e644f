package store

import (
	"context"
	"encoding/json"

	"github.com/kbrag/engine/errorsx"
)

// GetAppSettings returns the singleton global settings row's raw JSON
// blob (source 5 of the settings precedence in §4.7).
func (s *Store) GetAppSettings(ctx context.Context) (json.RawMessage, error) {
	var settings json.RawMessage
	if err := s.pool.QueryRow(ctx, `SELECT settings FROM app_settings WHERE id = 1`).Scan(&settings); err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: get app settings")
	}
	return settings, nil
}

// UpdateAppSettings overwrites the singleton global settings row.
func (s *Store) UpdateAppSettings(ctx context.Context, settings json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `UPDATE app_settings SET settings = $1 WHERE id = 1`, settings)
	if err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: update app settings")
	}
	return nil
}
