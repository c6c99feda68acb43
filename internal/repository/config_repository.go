package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/t59688/btx/internal/models"
)

type ConfigRepository struct {
	db *sql.DB
}

func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// All returns every system config row as a key/value map. Satisfies
// config.ConfigStore.
func (r *ConfigRepository) All(ctx context.Context) (map[string]string, error) {
	const query = `SELECT config_key, config_value FROM system_configs`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list system configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan system config: %w", err)
		}
		configs[key] = value
	}
	return configs, rows.Err()
}

func (r *ConfigRepository) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	const query = `
SELECT id, config_key, config_value, COALESCE(description, ''), updated_at
FROM system_configs WHERE config_key = ?`
	var c models.SystemConfig
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&c.ID, &c.ConfigKey, &c.ConfigValue, &c.Description, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan system config: %w", err)
	}
	return &c, nil
}

func (r *ConfigRepository) Set(ctx context.Context, key, value, description string) error {
	const query = `
INSERT INTO system_configs (config_key, config_value, description)
VALUES (?, ?, NULLIF(?, ''))
ON DUPLICATE KEY UPDATE config_value = VALUES(config_value),
    description = COALESCE(NULLIF(VALUES(description), ''), description),
    updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, key, value, description); err != nil {
		return fmt.Errorf("upsert system config: %w", err)
	}
	return nil
}

func (r *ConfigRepository) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM system_configs WHERE config_key = ?`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete system config: %w", err)
	}
	return nil
}

func (r *ConfigRepository) List(ctx context.Context) ([]models.SystemConfig, error) {
	const query = `
SELECT id, config_key, config_value, COALESCE(description, ''), updated_at
FROM system_configs ORDER BY config_key`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list system configs: %w", err)
	}
	defer rows.Close()

	var configs []models.SystemConfig
	for rows.Next() {
		var c models.SystemConfig
		if err := rows.Scan(&c.ID, &c.ConfigKey, &c.ConfigValue, &c.Description, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan system config row: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}
