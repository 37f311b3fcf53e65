package storage

import (
	"context"
	"fmt"
)

// Well-known app_config keys.
const ConfigKeyAPIKeyHash = "api_key_hash"

// GetConfigValue returns "" when the key is not set.
func (s *PostgresStore) GetConfigValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_config WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return v, nil
}

func (s *PostgresStore) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// APIKeyHash returns the stored bcrypt hash of the API key, or "".
func (s *PostgresStore) APIKeyHash(ctx context.Context) (string, error) {
	return s.GetConfigValue(ctx, ConfigKeyAPIKeyHash)
}
