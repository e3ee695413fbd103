package postgres

import (
	"context"
	"fmt"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// AccountRepoImpl provides a concrete implementation for the AccountRepository interface using PostgreSQL.
type AccountRepoImpl struct {
	db DB
}

// NewAccountRepo creates a new instance of AccountRepoImpl.
func NewAccountRepo(db DB) *AccountRepoImpl {
	return &AccountRepoImpl{db: db}
}

// FindActiveBySite lists the active accounts of a site in id order.
func (r *AccountRepoImpl) FindActiveBySite(ctx context.Context, site string) ([]*entity.Account, error) {
	query := `
		SELECT id, ec_site, login_id, password, active, session_blob, last_login_at, last_login_ok, last_failure
		FROM accounts
		WHERE ec_site = $1 AND active
		ORDER BY id;
	`
	rows, err := r.db.Query(ctx, query, site)
	if err != nil {
		return nil, fmt.Errorf("find accounts of %s: %w", site, err)
	}
	defer rows.Close()

	var accounts []*entity.Account
	for rows.Next() {
		var a entity.Account
		if err := rows.Scan(
			&a.ID,
			&a.Site,
			&a.LoginID,
			&a.Password,
			&a.Active,
			&a.SessionBlob,
			&a.LastLoginAt,
			&a.LastLoginOK,
			&a.LastFailure,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// UpdateSessionBlob stores the cookie set of a successful login.
func (r *AccountRepoImpl) UpdateSessionBlob(ctx context.Context, accountID int64, blob string) error {
	query := `
		UPDATE accounts
		SET session_blob = $2, last_login_at = NOW(), last_login_ok = TRUE, last_failure = ''
		WHERE id = $1;
	`
	tag, err := r.db.Exec(ctx, query, accountID, blob)
	if err != nil {
		return fmt.Errorf("update session of account %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", accountID, entity.ErrNotFound)
	}
	return nil
}

// RecordFailure appends a failure row and marks the account's last attempt
// as failed, in one transaction.
func (r *AccountRepoImpl) RecordFailure(ctx context.Context, failure *entity.AccountFailure) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO account_failures (account_id, kind, cause, reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`,
		failure.AccountID,
		failure.Kind,
		failure.Cause,
		failure.Reason,
		failure.FailedAt,
	).Scan(&failure.ID)
	if err != nil {
		return fmt.Errorf("insert failure of account %d: %w", failure.AccountID, err)
	}

	if failure.Cause == entity.CauseAuth {
		_, err = tx.Exec(ctx, `UPDATE accounts SET last_login_ok = FALSE, last_failure = $2 WHERE id = $1;`,
			failure.AccountID, failure.Reason)
	} else {
		_, err = tx.Exec(ctx, `UPDATE accounts SET last_failure = $2 WHERE id = $1;`, failure.AccountID, failure.Reason)
	}
	if err != nil {
		return fmt.Errorf("mark account %d failed: %w", failure.AccountID, err)
	}
	return tx.Commit(ctx)
}
