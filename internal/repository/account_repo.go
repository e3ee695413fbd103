package repository

import (
	"context"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// AccountRepository defines access to EC site accounts.
type AccountRepository interface {
	// FindActiveBySite lists the active accounts of a site.
	FindActiveBySite(ctx context.Context, site string) ([]*entity.Account, error)
	// UpdateSessionBlob stores the cookie set after a successful login.
	UpdateSessionBlob(ctx context.Context, accountID int64, blob string) error
	// RecordFailure records a failed login or crawl attempt.
	RecordFailure(ctx context.Context, failure *entity.AccountFailure) error
}
