package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/gateway"
	"github.com/apigate/gatewayd/internal/logging"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestLimiter(t *testing.T, maxWait time.Duration) (*Limiter, *cache.MemoryStore, *sleepRecorder, *time.Time) {
	t.Helper()
	store := cache.NewMemoryStore(time.Hour)
	logger := logging.InitStructuredLogger("test", logging.ERROR)
	limiter := New(store, logger, maxWait)

	current := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	now := &current
	store.SetClock(func() time.Time { return *now })
	rec := &sleepRecorder{}
	limiter.SetClock(func() time.Time { return *now }, rec.sleep)
	return limiter, store, rec, now
}

func TestLimiter_RateLimitWithinWindow(t *testing.T) {
	limiter, _, _, _ := newTestLimiter(t, 0)
	user := &models.User{Username: "alice", RateLimit: 2, RateLimitDuration: "minute"}
	ctx := context.Background()

	assert.NoError(t, limiter.Allow(ctx, user))
	assert.NoError(t, limiter.Allow(ctx, user))

	err := limiter.Allow(ctx, user)
	require.Error(t, err)
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, gateway.CodeRateLimited, gwErr.Code)
	assert.Equal(t, 429, gwErr.Status)
}

func TestLimiter_WindowRollsOver(t *testing.T) {
	limiter, _, _, now := newTestLimiter(t, 0)
	user := &models.User{Username: "alice", RateLimit: 1, RateLimitDuration: "minute"}
	ctx := context.Background()

	assert.NoError(t, limiter.Allow(ctx, user))
	assert.Error(t, limiter.Allow(ctx, user))

	*now = now.Add(time.Minute)
	assert.NoError(t, limiter.Allow(ctx, user), "new window starts a fresh count")
}

func TestLimiter_ThrottleDelayGrowsWithBacklog(t *testing.T) {
	limiter, _, rec, _ := newTestLimiter(t, 0)
	user := &models.User{
		Username:             "bob",
		ThrottleLimit:        2,
		ThrottleDuration:     "second",
		ThrottleWait:         0.5,
		ThrottleWaitDuration: "second",
		ThrottleQueueLimit:   10,
	}
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, user))
	require.NoError(t, limiter.Allow(ctx, user))
	assert.Empty(t, rec.delays, "requests under the limit are not delayed")

	require.NoError(t, limiter.Allow(ctx, user))
	require.NoError(t, limiter.Allow(ctx, user))
	require.Len(t, rec.delays, 2)
	assert.Equal(t, 500*time.Millisecond, rec.delays[0])
	assert.Equal(t, time.Second, rec.delays[1], "delay scales with position past the limit")
}

func TestLimiter_ThrottleQueueCeiling(t *testing.T) {
	limiter, _, _, _ := newTestLimiter(t, 0)
	user := &models.User{
		Username:             "bob",
		ThrottleLimit:        1,
		ThrottleDuration:     "second",
		ThrottleWait:         0.1,
		ThrottleWaitDuration: "second",
		ThrottleQueueLimit:   2,
	}
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, user))
	require.NoError(t, limiter.Allow(ctx, user))

	err := limiter.Allow(ctx, user)
	require.Error(t, err, "the ceiling caps the absolute window count")
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "Throttle queue limit exceeded", gwErr.Message)
}

func TestLimiter_QueueCeilingCountsWholeWindow(t *testing.T) {
	limiter, _, rec, _ := newTestLimiter(t, 0)
	user := &models.User{
		Username:             "bob",
		ThrottleLimit:        2,
		ThrottleDuration:     "second",
		ThrottleWait:         0.5,
		ThrottleWaitDuration: "second",
		ThrottleQueueLimit:   10,
	}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Allow(ctx, user))
	}
	assert.Len(t, rec.delays, 8, "requests 3 through 10 are delayed")

	err := limiter.Allow(ctx, user)
	require.Error(t, err, "the 11th request in the window is rejected, not delayed")
	var gwErr *gateway.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, gateway.CodeRateLimited, gwErr.Code)
	assert.Len(t, rec.delays, 8, "rejected requests are not delayed first")
}

func TestLimiter_MaxWaitCapsDelay(t *testing.T) {
	limiter, _, rec, _ := newTestLimiter(t, 200*time.Millisecond)
	user := &models.User{
		Username:             "carol",
		ThrottleLimit:        1,
		ThrottleDuration:     "second",
		ThrottleWait:         5,
		ThrottleWaitDuration: "second",
		ThrottleQueueLimit:   10,
	}
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, user))
	require.NoError(t, limiter.Allow(ctx, user))
	require.Len(t, rec.delays, 1)
	assert.Equal(t, 200*time.Millisecond, rec.delays[0])
}

func TestLimiter_ZeroLimitsDisableChecks(t *testing.T) {
	limiter, _, rec, _ := newTestLimiter(t, 0)
	user := &models.User{Username: "dave"}
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		assert.NoError(t, limiter.Allow(ctx, user))
	}
	assert.Empty(t, rec.delays)
}

func TestWindowSeconds(t *testing.T) {
	assert.Equal(t, int64(1), WindowSeconds("second"))
	assert.Equal(t, int64(3600), WindowSeconds("hour"))
	assert.Equal(t, int64(604800), WindowSeconds("week"))
	assert.Equal(t, int64(60), WindowSeconds("bogus"), "unknown units fall back to a minute")
}
