// Package keylock provides per-key mutual exclusion, optionally extended
// across processes by a repository.Locker.
package keylock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/pkg/utils"
)

const defaultLockTTL = 5 * time.Minute

// Locks hands out per-key exclusive locks. Each key is a one-slot channel
// so waiting honours context cancellation.
type Locks struct {
	remote repository.Locker
	ttl    time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New returns in-process locks. When remote is not nil every key is also
// taken on it, held for at most ttl.
func New(remote repository.Locker, ttl time.Duration) *Locks {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locks{remote: remote, ttl: ttl, slots: make(map[string]*slot)}
}

// Acquire takes every key in sorted order, so callers with overlapping key
// sets cannot deadlock. The returned release func is idempotent.
func (l *Locks) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	var releases []func()
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, k := range keys {
		release, err := l.local(ctx, k)
		if err != nil {
			unlock()
			return nil, err
		}
		releases = append(releases, release)

		if l.remote != nil {
			release, err := l.remote.Acquire(ctx, utils.HashKey(k), l.ttl)
			if err != nil {
				unlock()
				return nil, fmt.Errorf("acquire lock %s: %w", k, err)
			}
			releases = append(releases, release)
		}
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

func (l *Locks) local(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.drop(key, s)
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

func (l *Locks) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
