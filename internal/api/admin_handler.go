package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/apigate/gatewayd/internal/protomod"
	"github.com/apigate/gatewayd/internal/registry"
	"github.com/gorilla/mux"
)

// AdminHandler manages the gateway registry: APIs, endpoints, validation
// schemas, client routings, user limits, token balances and proto
// descriptors. Every mutation invalidates the cache entries it makes
// stale.
type AdminHandler struct {
	store    *registry.Store
	resolver *registry.Resolver
	protos   *protomod.Registry
	cache    cache.Store
}

func NewAdminHandler(store *registry.Store, resolver *registry.Resolver, protos *protomod.Registry, c cache.Store) *AdminHandler {
	return &AdminHandler{store: store, resolver: resolver, protos: protos, cache: c}
}

func (h *AdminHandler) CreateAPI(w http.ResponseWriter, r *http.Request) {
	var api models.API
	if err := json.NewDecoder(r.Body).Decode(&api); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if api.Name == "" || api.Version == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Name and version are required"})
		return
	}
	if err := h.store.CreateAPI(r.Context(), &api); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusCreated, api)
}

func (h *AdminHandler) GetAPI(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	api, err := h.store.GetAPI(r.Context(), vars["name"], vars["version"])
	if errors.Is(err, registry.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "API not found"})
		return
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, api)
}

func (h *AdminHandler) DeleteAPI(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	api, err := h.store.GetAPI(r.Context(), vars["name"], vars["version"])
	if errors.Is(err, registry.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "API not found"})
		return
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// Invalidate before the rows disappear so the endpoint list is still
	// readable for counter cleanup.
	if err := h.resolver.InvalidateAPI(r.Context(), api); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.store.DeleteAPI(r.Context(), api.ID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AdminHandler) withAPI(w http.ResponseWriter, r *http.Request) *models.API {
	vars := mux.Vars(r)
	api, err := h.store.GetAPI(r.Context(), vars["name"], vars["version"])
	if errors.Is(err, registry.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "API not found"})
		return nil
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil
	}
	return api
}

func (h *AdminHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	api := h.withAPI(w, r)
	if api == nil {
		return
	}
	var endpoint models.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&endpoint); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if endpoint.Method == "" || endpoint.URI == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Method and uri are required"})
		return
	}
	endpoint.APIID = api.ID
	if err := h.store.CreateEndpoint(r.Context(), &endpoint); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.cache.Delete(r.Context(), cache.NSAPIEndpoints, api.ID)
	respondJSON(w, http.StatusCreated, endpoint)
}

func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	api := h.withAPI(w, r)
	if api == nil {
		return
	}
	endpoints, err := h.store.ListEndpoints(r.Context(), api.ID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, endpoints)
}

func (h *AdminHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	api := h.withAPI(w, r)
	if api == nil {
		return
	}
	endpointID := mux.Vars(r)["id"]
	endpoint := models.Endpoint{ID: endpointID, APIID: api.ID}
	if err := h.resolver.InvalidateEndpoint(r.Context(), &endpoint); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.store.DeleteEndpoint(r.Context(), endpointID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AdminHandler) UpsertValidation(w http.ResponseWriter, r *http.Request) {
	endpointID := mux.Vars(r)["id"]
	var schema models.ValidationSchema
	if err := json.NewDecoder(r.Body).Decode(&schema); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	schema.EndpointID = endpointID
	if err := h.store.UpsertValidation(r.Context(), &schema); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.resolver.InvalidateValidation(r.Context(), endpointID)
	respondJSON(w, http.StatusOK, schema)
}

func (h *AdminHandler) DeleteValidation(w http.ResponseWriter, r *http.Request) {
	endpointID := mux.Vars(r)["id"]
	if err := h.store.DeleteValidation(r.Context(), endpointID); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.resolver.InvalidateValidation(r.Context(), endpointID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AdminHandler) UpsertRouting(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	var routing models.Routing
	if err := json.NewDecoder(r.Body).Decode(&routing); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	routing.ClientKey = clientKey
	if err := h.store.UpsertRouting(r.Context(), &routing); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.resolver.InvalidateRouting(r.Context(), clientKey)
	respondJSON(w, http.StatusOK, routing)
}

func (h *AdminHandler) GetRouting(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	routing, err := h.store.GetRouting(r.Context(), clientKey)
	if errors.Is(err, registry.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "Routing not found"})
		return
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, routing)
}

func (h *AdminHandler) DeleteRouting(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	if err := h.store.DeleteRouting(r.Context(), clientKey); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.resolver.InvalidateRouting(r.Context(), clientKey)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *AdminHandler) UpsertTokenDef(w http.ResponseWriter, r *http.Request) {
	var def models.TokenDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if def.Group == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Group is required"})
		return
	}
	if err := h.store.UpsertTokenDef(r.Context(), &def); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.cache.Delete(r.Context(), cache.NSTokenDef, def.Group)
	respondJSON(w, http.StatusOK, def)
}

func (h *AdminHandler) SetUserTokens(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	var tokens models.UserTokens
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	tokens.Username = username
	if tokens.Group == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Group is required"})
		return
	}
	if err := h.store.SetUserTokens(r.Context(), &tokens); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.resolver.InvalidateUserTokens(r.Context(), username, tokens.Group)
	respondJSON(w, http.StatusOK, tokens)
}

type protoUploadRequest struct {
	Descriptor string `json:"descriptor"`
}

// UploadProto registers a base64-encoded FileDescriptorSet for the API
// version so gRPC calls can resolve its services.
func (h *AdminHandler) UploadProto(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req protoUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Descriptor)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Descriptor must be base64-encoded"})
		return
	}
	if err := h.protos.Register(r.Context(), vars["name"], vars["version"], raw); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// ClearCaches flushes every cache namespace. Durable state is untouched;
// the next requests rebuild their entries.
func (h *AdminHandler) ClearCaches(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ClearAll(r.Context()); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// UpdateUserLimits replaces a user's rate and throttle profile.
func (h *AdminHandler) UpdateUserLimits(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	user, err := h.store.GetUser(r.Context(), username)
	if errors.Is(err, registry.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var limits struct {
		RateLimit            int     `json:"rate_limit"`
		RateLimitDuration    string  `json:"rate_limit_duration"`
		ThrottleLimit        int     `json:"throttle_limit"`
		ThrottleDuration     string  `json:"throttle_duration"`
		ThrottleWait         float64 `json:"throttle_wait"`
		ThrottleWaitDuration string  `json:"throttle_wait_duration"`
		ThrottleQueueLimit   int     `json:"throttle_queue_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	user.RateLimit = limits.RateLimit
	user.RateLimitDuration = limits.RateLimitDuration
	user.ThrottleLimit = limits.ThrottleLimit
	user.ThrottleDuration = limits.ThrottleDuration
	user.ThrottleWait = limits.ThrottleWait
	user.ThrottleWaitDuration = limits.ThrottleWaitDuration
	user.ThrottleQueueLimit = limits.ThrottleQueueLimit

	if err := h.store.UpdateUserLimits(r.Context(), user); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	_ = h.resolver.InvalidateUser(r.Context(), username)
	user.Password = ""
	respondJSON(w, http.StatusOK, user)
}
