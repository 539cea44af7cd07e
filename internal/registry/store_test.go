package registry

import (
	"context"
	"testing"

	"github.com/apigate/gatewayd/internal/database"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewSQLiteDB("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewStore(db)
}

func sampleAPI() *models.API {
	return &models.API{
		Name:              "customers",
		Version:           "v1",
		Servers:           []string{"http://backend-a", "http://backend-b"},
		AllowedHeaders:    []string{"content-type"},
		AllowedRetryCount: 2,
		ValidationEnabled: true,
	}
}

func TestStore_APILifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	api := sampleAPI()
	require.NoError(t, store.CreateAPI(ctx, api))
	assert.NotEmpty(t, api.ID)
	assert.Equal(t, "/customers/v1", api.Path)

	loaded, err := store.GetAPI(ctx, "customers", "v1")
	require.NoError(t, err)
	assert.Equal(t, api.ID, loaded.ID)
	assert.Equal(t, []string{"http://backend-a", "http://backend-b"}, loaded.Servers)
	assert.Equal(t, 2, loaded.AllowedRetryCount)
	assert.True(t, loaded.ValidationEnabled)

	_, err = store.GetAPI(ctx, "customers", "v2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteAPI(ctx, api.ID))
	_, err = store.GetAPI(ctx, "customers", "v1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EndpointsKeepRegistrationOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	api := sampleAPI()
	require.NoError(t, store.CreateAPI(ctx, api))

	first := &models.Endpoint{APIID: api.ID, Method: "GET", URI: "customer/{id}"}
	second := &models.Endpoint{APIID: api.ID, Method: "POST", URI: "customer"}
	require.NoError(t, store.CreateEndpoint(ctx, first))
	require.NoError(t, store.CreateEndpoint(ctx, second))

	endpoints, err := store.ListEndpoints(ctx, api.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, first.ID, endpoints[0].ID)
	assert.Equal(t, second.ID, endpoints[1].ID)

	require.NoError(t, store.DeleteEndpoint(ctx, first.ID))
	endpoints, err = store.ListEndpoints(ctx, api.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, second.ID, endpoints[0].ID)
}

func TestStore_ValidationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	min := 0.0
	schema := &models.ValidationSchema{
		EndpointID:        "ep-1",
		ValidationEnabled: true,
		Schema: map[string]*models.FieldValidation{
			"age": {Required: true, Type: models.TypeNumber, Min: &min},
		},
	}
	require.NoError(t, store.UpsertValidation(ctx, schema))

	loaded, err := store.GetValidation(ctx, "ep-1")
	require.NoError(t, err)
	assert.True(t, loaded.ValidationEnabled)
	require.Contains(t, loaded.Schema, "age")
	assert.True(t, loaded.Schema["age"].Required)

	// Upsert replaces.
	schema.ValidationEnabled = false
	require.NoError(t, store.UpsertValidation(ctx, schema))
	loaded, err = store.GetValidation(ctx, "ep-1")
	require.NoError(t, err)
	assert.False(t, loaded.ValidationEnabled)

	require.NoError(t, store.DeleteValidation(ctx, "ep-1"))
	_, err = store.GetValidation(ctx, "ep-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RoutingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	routing := &models.Routing{ClientKey: "key-1", Servers: []string{"http://pinned"}}
	require.NoError(t, store.UpsertRouting(ctx, routing))

	loaded, err := store.GetRouting(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://pinned"}, loaded.Servers)

	_, err = store.GetRouting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteRouting(ctx, "key-1"))
	_, err = store.GetRouting(ctx, "key-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UserAndLimits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &models.User{
		Username:          "alice",
		Password:          "hashed",
		IsActive:          true,
		RateLimit:         10,
		RateLimitDuration: "minute",
	}
	require.NoError(t, store.CreateUser(ctx, user))

	loaded, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.RateLimit)
	assert.True(t, loaded.IsActive)

	loaded.RateLimit = 100
	loaded.RateLimitDuration = "hour"
	require.NoError(t, store.UpdateUserLimits(ctx, loaded))

	updated, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 100, updated.RateLimit)
	assert.Equal(t, "hour", updated.RateLimitDuration)
}

func TestStore_TokenDeduction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTokenDef(ctx, &models.TokenDef{
		Group: "ai", APIHeader: "X-Api-Key", APIKey: "group-key",
	}))
	require.NoError(t, store.SetUserTokens(ctx, &models.UserTokens{
		Username: "alice", Group: "ai", Available: 2, UserKey: "user-key",
	}))

	require.NoError(t, store.DeductUserToken(ctx, "alice", "ai"))
	tokens, err := store.GetUserTokens(ctx, "alice", "ai")
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.Available)

	require.NoError(t, store.DeductUserToken(ctx, "alice", "ai"))
	require.NoError(t, store.DeductUserToken(ctx, "alice", "ai"), "deduct at zero is a no-op")
	tokens, err = store.GetUserTokens(ctx, "alice", "ai")
	require.NoError(t, err)
	assert.Equal(t, 0, tokens.Available, "balance never goes negative")
}

func TestStore_ProtoDescriptors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte{0x0a, 0x02, 0x08, 0x01}
	require.NoError(t, store.UpsertProtoDescriptor(ctx, "billing", "v1", payload))

	loaded, err := store.GetProtoDescriptor(ctx, "billing", "v1")
	require.NoError(t, err)
	assert.Equal(t, payload, loaded)

	_, err = store.GetProtoDescriptor(ctx, "billing", "v2")
	assert.ErrorIs(t, err, ErrNotFound)
}
