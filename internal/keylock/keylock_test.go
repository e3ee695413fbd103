package keylock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecscrape/scraper-service/internal/keylock"
)

func TestLocks_SerializeSameKey(t *testing.T) {
	locks := keylock.New(nil, 0)

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "account|1")
			require.NoError(t, err)
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocks_OverlappingSetsDoNotDeadlock(t *testing.T) {
	locks := keylock.New(nil, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, "a", "b", "c")
			require.NoError(t, err)
			release()
		}()
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, "c", "b", "a")
			require.NoError(t, err)
			release()
		}()
	}
	wg.Wait()
}

func TestLocks_WaitHonoursContext(t *testing.T) {
	locks := keylock.New(nil, 0)
	release, err := locks.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "other", "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// "other" was released when the acquisition failed
	free, err := locks.Acquire(context.Background(), "other")
	require.NoError(t, err)
	free()
}
