package entity

import "time"

// Account is one (site, credential) pair crawled on behalf of a user.
type Account struct {
	ID          int64
	Site        string
	LoginID     string
	Password    string
	Active      bool
	SessionBlob string // serialized cookie set, written only after a successful login
	LastLoginAt *time.Time
	LastLoginOK bool
	LastFailure string
}

// AccountFailure mirrors the `account_failures` PostgreSQL table. One row is
// appended for every failed crawl attempt.
type AccountFailure struct {
	ID        int64
	AccountID int64
	Kind      ResourceKind
	Cause     FailureCause
	Reason    string
	FailedAt  time.Time
}
