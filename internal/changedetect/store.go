// Package changedetect keeps the last known payload per (site, kind, key) and
// reports whether a freshly crawled record differs from it.
package changedetect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/keylock"
	"github.com/ecscrape/scraper-service/internal/repository"
)

// Comparison is the result of comparing a fresh record with its snapshot.
type Comparison struct {
	Changed  bool
	Previous *entity.Record
}

// Store compares and commits snapshots. It is safe for concurrent use; callers
// hold Lock around a compare-then-commit sequence on the same keys.
type Store struct {
	repo   repository.SnapshotRepository
	locks  *keylock.Locks
	logger *zap.Logger
}

func NewStore(repo repository.SnapshotRepository, locker repository.Locker, lockTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		repo:   repo,
		locks:  keylock.New(locker, lockTTL),
		logger: logger,
	}
}

var recordOpts = cmp.Options{
	cmpopts.IgnoreFields(entity.Record{}, "Artifact"),
	cmpopts.EquateEmpty(),
}

// Compare reports whether rec differs structurally from the stored snapshot.
// A missing snapshot counts as changed. Compare never writes.
func (s *Store) Compare(ctx context.Context, site string, kind entity.ResourceKind, key string, rec entity.Record) (Comparison, error) {
	snap, err := s.repo.Load(ctx, site, kind, key)
	if errors.Is(err, entity.ErrNotFound) {
		return Comparison{Changed: true}, nil
	}
	if err != nil {
		return Comparison{}, fmt.Errorf("%w: load snapshot %s/%s/%s: %v", entity.ErrPersistence, site, kind, key, err)
	}

	var prev entity.Record
	if err := json.Unmarshal(snap.Payload, &prev); err != nil {
		s.logger.Warn("unreadable snapshot treated as changed",
			zap.String("site", site), zap.String("kind", kind.String()), zap.String("key", key), zap.Error(err))
		return Comparison{Changed: true}, nil
	}
	return Comparison{Changed: !cmp.Equal(prev, rec, recordOpts), Previous: &prev}, nil
}

// Commit replaces the snapshot for key with rec.
func (s *Store) Commit(ctx context.Context, site string, kind entity.ResourceKind, key string, rec entity.Record) error {
	payload, err := canonical(rec)
	if err != nil {
		return err
	}
	snap := &entity.Snapshot{
		Site:        site,
		Kind:        kind,
		Key:         key,
		Payload:     payload,
		Fingerprint: fingerprint(payload),
		CapturedAt:  time.Now().UTC(),
	}
	if err := s.repo.Store(ctx, snap); err != nil {
		return fmt.Errorf("%w: store snapshot %s/%s/%s: %v", entity.ErrPersistence, site, kind, key, err)
	}
	return nil
}

// Lock acquires exclusive access to every (site, kind, key) given.
func (s *Store) Lock(ctx context.Context, site string, kind entity.ResourceKind, keys ...string) (func(), error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = site + "|" + kind.String() + "|" + k
	}
	return s.locks.Acquire(ctx, full...)
}

// Fingerprint returns the sha256 hex digest of the record's canonical form.
func Fingerprint(rec entity.Record) (string, error) {
	payload, err := canonical(rec)
	if err != nil {
		return "", err
	}
	return fingerprint(payload), nil
}

// canonical encodes rec without its artifact reference. encoding/json sorts
// map keys, so equal records encode identically.
func canonical(rec entity.Record) ([]byte, error) {
	rec.Artifact = ""
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

func fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
