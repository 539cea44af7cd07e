package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/gateway"
	"github.com/apigate/gatewayd/internal/logging"
	"github.com/apigate/gatewayd/internal/metrics"
	"github.com/apigate/gatewayd/internal/models"
)

// durationSeconds maps a configured window unit onto its length. Month
// is a fixed 30 days and year 365, matching how windows are bucketed.
var durationSeconds = map[string]int64{
	"second": 1,
	"minute": 60,
	"hour":   3600,
	"day":    86400,
	"week":   604800,
	"month":  2592000,
	"year":   31536000,
}

// WindowSeconds resolves a duration unit, defaulting unknown units to
// one minute.
func WindowSeconds(unit string) int64 {
	if secs, ok := durationSeconds[unit]; ok {
		return secs
	}
	return 60
}

// Limiter enforces per-user fixed-window rate limits and throttling
// delays backed by atomic cache counters, so every gateway replica
// shares the same windows.
type Limiter struct {
	cache   cache.Store
	logger  *logging.StructuredLogger
	maxWait time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(c cache.Store, logger *logging.StructuredLogger, maxWait time.Duration) *Limiter {
	return &Limiter{
		cache:   c,
		logger:  logger,
		maxWait: maxWait,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetClock overrides time sources for tests.
func (l *Limiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.now = now
	l.sleep = sleep
}

// Allow applies the user's rate limit first, then the throttle. A rate
// limit breach rejects immediately; a throttle breach delays the request
// and only rejects once the backlog passes the queue ceiling.
func (l *Limiter) Allow(ctx context.Context, user *models.User) error {
	if err := l.checkRate(ctx, user); err != nil {
		return err
	}
	return l.checkThrottle(ctx, user)
}

func (l *Limiter) windowKey(subject string, windowSecs int64) string {
	window := l.now().Unix() / windowSecs
	return subject + ":" + strconv.FormatInt(window, 10)
}

func (l *Limiter) count(ctx context.Context, namespace, subject string, windowSecs int64) (int64, error) {
	key := l.windowKey(subject, windowSecs)
	count, err := l.cache.Increment(ctx, namespace, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// First hit in the window sets its expiry; the key vanishes
		// shortly after the window closes.
		if err := l.cache.Expire(ctx, namespace, key, time.Duration(windowSecs)*time.Second); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (l *Limiter) checkRate(ctx context.Context, user *models.User) error {
	if user.RateLimit <= 0 {
		return nil
	}
	windowSecs := WindowSeconds(user.RateLimitDuration)
	count, err := l.count(ctx, cache.NSRateLimit, user.Username, windowSecs)
	if err != nil {
		// A counter outage must not take user traffic down with it.
		l.logger.Warn("rate limit counter unavailable", map[string]interface{}{
			"username": user.Username,
			"error":    err.Error(),
		})
		return nil
	}
	if count > int64(user.RateLimit) {
		metrics.GetMetrics().RecordRateLimited()
		return gateway.ErrRateLimited()
	}
	return nil
}

func (l *Limiter) checkThrottle(ctx context.Context, user *models.User) error {
	if user.ThrottleLimit <= 0 {
		return nil
	}
	windowSecs := WindowSeconds(user.ThrottleDuration)
	count, err := l.count(ctx, cache.NSThrottle, user.Username, windowSecs)
	if err != nil {
		l.logger.Warn("throttle counter unavailable", map[string]interface{}{
			"username": user.Username,
			"error":    err.Error(),
		})
		return nil
	}
	over := count - int64(user.ThrottleLimit)
	if over <= 0 {
		return nil
	}
	// The ceiling bounds the whole window, not the backlog: once the
	// absolute count passes it the request is rejected outright.
	if user.ThrottleQueueLimit > 0 && count > int64(user.ThrottleQueueLimit) {
		metrics.GetMetrics().RecordQueueRejected()
		return gateway.ErrThrottleQueue()
	}

	waitUnit := time.Duration(WindowSeconds(user.ThrottleWaitDuration)) * time.Second
	delay := time.Duration(user.ThrottleWait * float64(over) * float64(waitUnit))
	if l.maxWait > 0 && delay > l.maxWait {
		delay = l.maxWait
	}
	if delay <= 0 {
		return nil
	}
	metrics.GetMetrics().RecordThrottled()
	if err := l.sleep(ctx, delay); err != nil {
		return gateway.ErrTimeout()
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
