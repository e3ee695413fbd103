package repository

import (
	"context"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// RecordRepository persists new or changed normalized records.
type RecordRepository interface {
	Save(ctx context.Context, kind entity.ResourceKind, records []entity.Record) error
	// Latest returns the most recent record saved for an account, used as the
	// incremental checkpoint. It returns entity.ErrNotFound if none exists.
	Latest(ctx context.Context, accountID int64, kind entity.ResourceKind) (*entity.Record, error)
}
