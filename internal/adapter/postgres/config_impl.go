package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// ConfigRepoImpl stores extraction configurations.
type ConfigRepoImpl struct {
	db DB
}

func NewConfigRepo(db DB) *ConfigRepoImpl {
	return &ConfigRepoImpl{db: db}
}

func (r *ConfigRepoImpl) Get(ctx context.Context, site string, kind entity.ResourceKind) (*entity.ExtractionConfig, error) {
	cfg := entity.ExtractionConfig{Site: site, Kind: kind}
	err := r.db.QueryRow(ctx, `
		SELECT version, body, updated_at
		FROM extraction_configs
		WHERE ec_site = $1 AND kind = $2;
	`, site, kind).Scan(&cfg.Version, &cfg.Text, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("configuration %s/%s: %w", site, kind, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration %s/%s: %w", site, kind, err)
	}
	return &cfg, nil
}

// Save inserts the configuration or replaces its body, bumping the version.
// xmax = 0 holds only for a freshly inserted row.
func (r *ConfigRepoImpl) Save(ctx context.Context, cfg *entity.ExtractionConfig) (bool, error) {
	var created bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO extraction_configs (ec_site, kind, version, body, updated_at)
		VALUES ($1, $2, 1, $3, NOW())
		ON CONFLICT (ec_site, kind) DO UPDATE SET
			body = EXCLUDED.body,
			version = extraction_configs.version + 1,
			updated_at = NOW()
		RETURNING version, updated_at, (xmax = 0);
	`, cfg.Site, cfg.Kind, cfg.Text).Scan(&cfg.Version, &cfg.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("save configuration %s/%s: %w", cfg.Site, cfg.Kind, err)
	}
	return created, nil
}
