package cache

import (
	"context"
	"errors"
	"time"

	"github.com/apigate/gatewayd/internal/metrics"
)

// ErrCacheMiss indicates the key was not found in the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache namespaces. Every entry is a disposable, rebuildable view of
// durable state; none of these is a system of record.
const (
	NSAPI                = "api_cache"
	NSAPIEndpoints       = "api_endpoint_cache"
	NSEndpointValidation = "endpoint_validation_cache"
	NSClientRouting      = "client_routing_cache"
	NSUser               = "user_cache"
	NSTokenDef           = "token_def_cache"
	NSUserTokens         = "user_token_cache"
	NSEndpointServer     = "endpoint_server_cache"
	NSRoutingServer      = "routing_server_cache"
	NSRateLimit          = "rate_limit"
	NSThrottle           = "throttle_limit"
)

// DefaultTTL is applied to lookup namespaces; counter namespaces
// (rate/throttle windows, round-robin indices) manage their own expiry.
var DefaultTTL = 24 * time.Hour

// namespaces enumerated for full flushes.
var namespaces = []string{
	NSAPI,
	NSAPIEndpoints,
	NSEndpointValidation,
	NSClientRouting,
	NSUser,
	NSTokenDef,
	NSUserTokens,
	NSEndpointServer,
	NSRoutingServer,
	NSRateLimit,
	NSThrottle,
}

// Store is the shared cache handle injected into every component. Values
// are JSON-encoded; Increment and Expire provide the atomic counter
// primitives the rate limiter and round-robin selection rely on.
type Store interface {
	Get(ctx context.Context, namespace, key string, dest interface{}) error
	Set(ctx context.Context, namespace, key string, value interface{}) error
	Delete(ctx context.Context, namespace, key string) error
	Increment(ctx context.Context, namespace, key string) (int64, error)
	Expire(ctx context.Context, namespace, key string, ttl time.Duration) error
	Clear(ctx context.Context, namespace string) error
	ClearAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// GetOrSet is the cache-aside helper: check the cache, on miss call
// fetch and populate. Fetch failures are returned as-is and nothing is
// cached for them.
func GetOrSet[T any](ctx context.Context, s Store, namespace, key string, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if err := s.Get(ctx, namespace, key, &cached); err == nil {
		metrics.GetMetrics().RecordCacheHit()
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		// A broken cache should not take the gateway down; fall through
		// to the durable lookup.
		var zero T
		cached = zero
	}

	metrics.GetMetrics().RecordCacheMiss()
	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	_ = s.Set(ctx, namespace, key, value)
	return value, nil
}
