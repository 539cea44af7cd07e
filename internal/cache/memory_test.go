package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, store.Set(ctx, NSAPI, "k", payload{Name: "customers"}))

	var loaded payload
	require.NoError(t, store.Get(ctx, NSAPI, "k", &loaded))
	assert.Equal(t, "customers", loaded.Name)

	require.NoError(t, store.Delete(ctx, NSAPI, "k"))
	assert.ErrorIs(t, store.Get(ctx, NSAPI, "k", &loaded), ErrCacheMiss)
}

func TestMemoryStore_NamespacesIsolateKeys(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NSAPI, "k", "api"))
	require.NoError(t, store.Set(ctx, NSUser, "k", "user"))

	var value string
	require.NoError(t, store.Get(ctx, NSAPI, "k", &value))
	assert.Equal(t, "api", value)
	require.NoError(t, store.Get(ctx, NSUser, "k", &value))
	assert.Equal(t, "user", value)

	require.NoError(t, store.Clear(ctx, NSAPI))
	assert.ErrorIs(t, store.Get(ctx, NSAPI, "k", &value), ErrCacheMiss)
	assert.NoError(t, store.Get(ctx, NSUser, "k", &value))
}

func TestMemoryStore_IncrementAndExpire(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	current := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return current })

	count, err := store.Increment(ctx, NSRateLimit, "alice:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	count, err = store.Increment(ctx, NSRateLimit, "alice:1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.Expire(ctx, NSRateLimit, "alice:1", time.Minute))

	current = current.Add(2 * time.Minute)
	count, err = store.Increment(ctx, NSRateLimit, "alice:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired counter restarts at one")
}

func TestMemoryStore_ClearAll(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, NSAPI, "a", 1))
	require.NoError(t, store.Set(ctx, NSThrottle, "b", 2))
	require.NoError(t, store.ClearAll(ctx))

	var value int
	assert.ErrorIs(t, store.Get(ctx, NSAPI, "a", &value), ErrCacheMiss)
	assert.ErrorIs(t, store.Get(ctx, NSThrottle, "b", &value), ErrCacheMiss)
}

func TestGetOrSet(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}

	value, err := GetOrSet(ctx, store, NSAPI, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	value, err = GetOrSet(ctx, store, NSAPI, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", value)
	assert.Equal(t, 1, calls, "second read comes from the cache")
}

func TestGetOrSet_FetchErrorNotCached(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	boom := errors.New("boom")
	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	_, err := GetOrSet(ctx, store, NSAPI, "k", fetch)
	assert.ErrorIs(t, err, boom)

	value, err := GetOrSet(ctx, store, NSAPI, "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, 2, calls)
}
