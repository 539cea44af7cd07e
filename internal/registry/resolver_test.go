package registry

import (
	"context"
	"testing"
	"time"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, *Store, *cache.MemoryStore) {
	t.Helper()
	store := newTestStore(t)
	memory := cache.NewMemoryStore(time.Hour)
	return NewResolver(store, memory), store, memory
}

func TestResolver_CachesAPILookups(t *testing.T) {
	resolver, store, memory := newTestResolver(t)
	ctx := context.Background()

	api := sampleAPI()
	require.NoError(t, store.CreateAPI(ctx, api))

	loaded, err := resolver.API(ctx, "customers", "v1")
	require.NoError(t, err)
	assert.Equal(t, api.ID, loaded.ID)

	// A second lookup is served from the cache even if the row vanishes.
	require.NoError(t, store.DeleteAPI(ctx, api.ID))
	cached, err := resolver.API(ctx, "customers", "v1")
	require.NoError(t, err)
	assert.Equal(t, api.ID, cached.ID)

	// Until the entry is invalidated.
	require.NoError(t, memory.Delete(ctx, cache.NSAPI, "customers/v1"))
	_, err = resolver.API(ctx, "customers", "v1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_NegativeResultsNotCached(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.API(ctx, "customers", "v1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Registering the API makes it visible immediately.
	require.NoError(t, store.CreateAPI(ctx, sampleAPI()))
	loaded, err := resolver.API(ctx, "customers", "v1")
	require.NoError(t, err)
	assert.Equal(t, "customers", loaded.Name)
}

func TestResolver_InvalidateAPIDropsDerivedEntries(t *testing.T) {
	resolver, store, memory := newTestResolver(t)
	ctx := context.Background()

	api := sampleAPI()
	require.NoError(t, store.CreateAPI(ctx, api))
	endpoint := &models.Endpoint{APIID: api.ID, Method: "GET", URI: "customer/{id}"}
	require.NoError(t, store.CreateEndpoint(ctx, endpoint))

	// Warm the caches and a round-robin counter.
	_, err := resolver.API(ctx, "customers", "v1")
	require.NoError(t, err)
	_, err = resolver.Endpoints(ctx, api.ID)
	require.NoError(t, err)
	_, err = memory.Increment(ctx, cache.NSEndpointServer, endpoint.ID)
	require.NoError(t, err)

	require.NoError(t, resolver.InvalidateAPI(ctx, api))

	var probe interface{}
	assert.ErrorIs(t, memory.Get(ctx, cache.NSAPI, "customers/v1", &probe), cache.ErrCacheMiss)
	assert.ErrorIs(t, memory.Get(ctx, cache.NSAPIEndpoints, api.ID, &probe), cache.ErrCacheMiss)
	assert.ErrorIs(t, memory.Get(ctx, cache.NSEndpointServer, endpoint.ID, &probe), cache.ErrCacheMiss)
}

func TestResolver_ValidationMissIsNotFound(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := resolver.Validation(ctx, "no-such-endpoint")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_UserTokens(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, store.SetUserTokens(ctx, &models.UserTokens{
		Username: "alice", Group: "ai", Available: 5,
	}))

	tokens, err := resolver.UserTokens(ctx, "alice", "ai")
	require.NoError(t, err)
	assert.Equal(t, 5, tokens.Available)

	// Deduct durably, invalidate, and the fresh balance is visible.
	require.NoError(t, store.DeductUserToken(ctx, "alice", "ai"))
	require.NoError(t, resolver.InvalidateUserTokens(ctx, "alice", "ai"))
	tokens, err = resolver.UserTokens(ctx, "alice", "ai")
	require.NoError(t, err)
	assert.Equal(t, 4, tokens.Available)
}
