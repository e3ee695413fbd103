package repository

import (
	"context"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// ConfigRepository stores extraction configurations. The crawling core only
// reads; Save is used by the administrative surface.
type ConfigRepository interface {
	// Get returns the configuration for (site, kind) or entity.ErrNotFound.
	Get(ctx context.Context, site string, kind entity.ResourceKind) (*entity.ExtractionConfig, error)
	// Save creates or updates a configuration, bumping its version. It reports
	// whether a new row was created.
	Save(ctx context.Context, cfg *entity.ExtractionConfig) (bool, error)
}
