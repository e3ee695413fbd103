package repository

import (
	"context"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// SnapshotRepository holds at most one live snapshot per (site, kind, key).
type SnapshotRepository interface {
	// Load returns entity.ErrNotFound when no snapshot exists.
	Load(ctx context.Context, site string, kind entity.ResourceKind, key string) (*entity.Snapshot, error)
	// Store overwrites the snapshot atomically.
	Store(ctx context.Context, snap *entity.Snapshot) error
}
