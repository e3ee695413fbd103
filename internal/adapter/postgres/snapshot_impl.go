package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// SnapshotRepoImpl keeps one snapshot row per (site, kind, key).
type SnapshotRepoImpl struct {
	db DB
}

func NewSnapshotRepo(db DB) *SnapshotRepoImpl {
	return &SnapshotRepoImpl{db: db}
}

func (r *SnapshotRepoImpl) Load(ctx context.Context, site string, kind entity.ResourceKind, key string) (*entity.Snapshot, error) {
	snap := entity.Snapshot{Site: site, Kind: kind, Key: key}
	err := r.db.QueryRow(ctx, `
		SELECT payload, fingerprint, captured_at
		FROM snapshots
		WHERE ec_site = $1 AND kind = $2 AND page_key = $3;
	`, site, kind, key).Scan(&snap.Payload, &snap.Fingerprint, &snap.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s/%s/%s: %w", site, kind, key, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s/%s/%s: %w", site, kind, key, err)
	}
	return &snap, nil
}

// Store overwrites the snapshot in a single statement.
func (r *SnapshotRepoImpl) Store(ctx context.Context, snap *entity.Snapshot) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO snapshots (ec_site, kind, page_key, payload, fingerprint, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ec_site, kind, page_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			fingerprint = EXCLUDED.fingerprint,
			captured_at = EXCLUDED.captured_at;
	`, snap.Site, snap.Kind, snap.Key, snap.Payload, snap.Fingerprint, snap.CapturedAt)
	if err != nil {
		return fmt.Errorf("store snapshot %s/%s/%s: %w", snap.Site, snap.Kind, snap.Key, err)
	}
	return nil
}
