package registry

import (
	"context"
	"errors"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/models"
)

// Resolver serves registry lookups through the cache, falling back to
// the store on a miss. Negative results are never cached, so a newly
// registered API is visible on the next request.
type Resolver struct {
	store *Store
	cache cache.Store
}

func NewResolver(store *Store, c cache.Store) *Resolver {
	return &Resolver{store: store, cache: c}
}

func apiKey(name, version string) string {
	return name + "/" + version
}

func (r *Resolver) API(ctx context.Context, name, version string) (*models.API, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSAPI, apiKey(name, version),
		func(ctx context.Context) (*models.API, error) {
			return r.store.GetAPI(ctx, name, version)
		})
}

func (r *Resolver) Endpoints(ctx context.Context, apiID string) ([]models.Endpoint, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSAPIEndpoints, apiID,
		func(ctx context.Context) ([]models.Endpoint, error) {
			return r.store.ListEndpoints(ctx, apiID)
		})
}

// Validation returns the endpoint's schema, or ErrNotFound when none is
// configured. Callers treat a missing schema as pass-through.
func (r *Resolver) Validation(ctx context.Context, endpointID string) (*models.ValidationSchema, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSEndpointValidation, endpointID,
		func(ctx context.Context) (*models.ValidationSchema, error) {
			return r.store.GetValidation(ctx, endpointID)
		})
}

func (r *Resolver) Routing(ctx context.Context, clientKey string) (*models.Routing, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSClientRouting, clientKey,
		func(ctx context.Context) (*models.Routing, error) {
			return r.store.GetRouting(ctx, clientKey)
		})
}

func (r *Resolver) User(ctx context.Context, username string) (*models.User, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSUser, username,
		func(ctx context.Context) (*models.User, error) {
			return r.store.GetUser(ctx, username)
		})
}

func (r *Resolver) TokenDef(ctx context.Context, group string) (*models.TokenDef, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSTokenDef, group,
		func(ctx context.Context) (*models.TokenDef, error) {
			return r.store.GetTokenDef(ctx, group)
		})
}

func (r *Resolver) UserTokens(ctx context.Context, username, group string) (*models.UserTokens, error) {
	return cache.GetOrSet(ctx, r.cache, cache.NSUserTokens, username+"/"+group,
		func(ctx context.Context) (*models.UserTokens, error) {
			return r.store.GetUserTokens(ctx, username, group)
		})
}

// InvalidateAPI drops every cache entry derived from the API: the record
// itself, its endpoint list, and the round-robin counters keyed by its
// endpoints.
func (r *Resolver) InvalidateAPI(ctx context.Context, api *models.API) error {
	endpoints, err := r.store.ListEndpoints(ctx, api.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for _, endpoint := range endpoints {
		if err := r.cache.Delete(ctx, cache.NSEndpointServer, endpoint.ID); err != nil {
			return err
		}
	}
	if err := r.cache.Delete(ctx, cache.NSAPIEndpoints, api.ID); err != nil {
		return err
	}
	return r.cache.Delete(ctx, cache.NSAPI, apiKey(api.Name, api.Version))
}

func (r *Resolver) InvalidateEndpoint(ctx context.Context, endpoint *models.Endpoint) error {
	if err := r.cache.Delete(ctx, cache.NSEndpointValidation, endpoint.ID); err != nil {
		return err
	}
	if err := r.cache.Delete(ctx, cache.NSEndpointServer, endpoint.ID); err != nil {
		return err
	}
	return r.cache.Delete(ctx, cache.NSAPIEndpoints, endpoint.APIID)
}

func (r *Resolver) InvalidateValidation(ctx context.Context, endpointID string) error {
	return r.cache.Delete(ctx, cache.NSEndpointValidation, endpointID)
}

func (r *Resolver) InvalidateRouting(ctx context.Context, clientKey string) error {
	if err := r.cache.Delete(ctx, cache.NSRoutingServer, clientKey); err != nil {
		return err
	}
	return r.cache.Delete(ctx, cache.NSClientRouting, clientKey)
}

func (r *Resolver) InvalidateUser(ctx context.Context, username string) error {
	return r.cache.Delete(ctx, cache.NSUser, username)
}

func (r *Resolver) InvalidateUserTokens(ctx context.Context, username, group string) error {
	return r.cache.Delete(ctx, cache.NSUserTokens, username+"/"+group)
}
