package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// RecordRepoImpl provides a concrete implementation for the RecordRepository interface using PostgreSQL.
type RecordRepoImpl struct {
	db DB
}

// NewRecordRepo creates a new instance of RecordRepoImpl.
func NewRecordRepo(db DB) *RecordRepoImpl {
	return &RecordRepoImpl{db: db}
}

const upsertRecord = `
	INSERT INTO records (ec_site, kind, account_id, record_id, query, total, occurred_at, items, fields, artifact, position, saved_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	ON CONFLICT (ec_site, kind, account_id, record_id, query) DO UPDATE SET
		total = EXCLUDED.total,
		occurred_at = EXCLUDED.occurred_at,
		items = EXCLUDED.items,
		fields = EXCLUDED.fields,
		artifact = EXCLUDED.artifact,
		updated_at = NOW();
`

// Save upserts the records of one batch in a single transaction. The slice
// order (most recent first) is kept as the position column.
func (r *RecordRepoImpl) Save(ctx context.Context, kind entity.ResourceKind, records []entity.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, rec := range records {
		items, err := json.Marshal(rec.Items)
		if err != nil {
			return fmt.Errorf("encode items of %s: %w", rec.ID, err)
		}
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("encode fields of %s: %w", rec.ID, err)
		}
		batch.Queue(upsertRecord,
			rec.Site,
			kind,
			rec.AccountID,
			rec.ID,
			rec.Query,
			rec.Total,
			rec.Timestamp,
			items,
			fields,
			rec.Artifact,
			i,
		)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save %d %s records: %w", len(records), kind, err)
	}
	return tx.Commit(ctx)
}

// Latest returns the most recent record of the newest saved batch.
func (r *RecordRepoImpl) Latest(ctx context.Context, accountID int64, kind entity.ResourceKind) (*entity.Record, error) {
	query := `
		SELECT ec_site, kind, account_id, record_id, query, total, occurred_at, items, fields, artifact
		FROM records
		WHERE account_id = $1 AND kind = $2
		ORDER BY saved_at DESC, position ASC
		LIMIT 1;
	`
	var (
		rec    entity.Record
		items  []byte
		fields []byte
	)
	err := r.db.QueryRow(ctx, query, accountID, kind).Scan(
		&rec.Site,
		&rec.Kind,
		&rec.AccountID,
		&rec.ID,
		&rec.Query,
		&rec.Total,
		&rec.Timestamp,
		&items,
		&fields,
		&rec.Artifact,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest %s of account %d: %w", kind, accountID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s of account %d: %w", kind, accountID, err)
	}

	if err := json.Unmarshal(items, &rec.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &rec, nil
}
