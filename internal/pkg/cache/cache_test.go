package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGetOrFetchCachesFetchResult(t *testing.T) {
	c := New(NewMemoryStore(nil))
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "fetched", nil
	}

	for i := 0; i < 3; i++ {
		val, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "fetched", val)
	}
	assert.Equal(t, 1, calls, "fetch runs only on the first miss")
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	c := New(NewMemoryStore(nil))
	boom := errors.New("backend down")
	calls := 0

	_, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	val, err := c.GetOrFetch(context.Background(), "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", val)
	assert.Equal(t, 2, calls)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := New(NewMemoryStore(nil))
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	}

	_, err := c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(context.Background(), "k"))

	_, err = c.GetOrFetch(context.Background(), "k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)

	require.NoError(t, store.Set(context.Background(), "k", "v", time.Minute))

	val, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	clock.Advance(59 * time.Second)
	_, err = store.Get(context.Background(), "k")
	assert.NoError(t, err, "entry still inside its TTL")

	clock.Advance(2 * time.Second)
	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)

	require.NoError(t, store.Set(context.Background(), "k", "v", 0))
	clock.Advance(1000 * time.Hour)

	val, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestMemoryStoreIncr(t *testing.T) {
	store := NewMemoryStore(nil)

	n, err := store.Incr(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Incr(context.Background(), "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c := New(NewMemoryStore(nil))
	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrMiss)
}
