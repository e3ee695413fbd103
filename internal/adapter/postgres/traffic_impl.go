package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// TrafficRepoImpl stores finished traffic sessions and their request events.
type TrafficRepoImpl struct {
	db DB
}

func NewTrafficRepo(db DB) *TrafficRepoImpl {
	return &TrafficRepoImpl{db: db}
}

func (r *TrafficRepoImpl) Save(ctx context.Context, summary entity.TrafficSummary, events []entity.RequestEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO traffic_sessions (session_id, account_id, ec_site, requests, bytes, errors, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING;
	`,
		summary.SessionID,
		summary.AccountID,
		summary.Site,
		summary.Requests,
		summary.Bytes,
		summary.Errors,
		summary.StartedAt,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert traffic session %s: %w", summary.SessionID, err)
	}

	if len(events) > 0 {
		batch := &pgx.Batch{}
		for _, ev := range events {
			batch.Queue(`
				INSERT INTO request_events (session_id, method, url, status, bytes, error, create_at, finish_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
			`, summary.SessionID, ev.Method, ev.URL, ev.Status, ev.Bytes, ev.Err, ev.StartedAt, ev.FinishedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert %d request events: %w", len(events), err)
		}
	}
	return tx.Commit(ctx)
}
