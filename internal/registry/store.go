package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apigate/gatewayd/internal/database"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned for lookups whose subject does not exist in
// durable storage. Callers translate it into the appropriate gateway
// error code.
var ErrNotFound = errors.New("registry: not found")

// Store owns all durable registry reads and writes. The cache never
// talks to the database directly; the Resolver layers cache-aside reads
// on top of these lookups.
type Store struct {
	db database.DB
}

func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

func marshalList(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func unmarshalList(data string) []string {
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return []string{}
	}
	return values
}

func (s *Store) CreateAPI(ctx context.Context, api *models.API) error {
	if api.ID == "" {
		api.ID = uuid.New().String()
	}
	api.Path = "/" + api.Name + "/" + api.Version
	now := time.Now()
	api.CreatedAt = now
	api.UpdatedAt = now

	err := s.db.Exec(ctx, `
		INSERT INTO apis (id, name, version, path, servers, allowed_headers,
			allowed_retry_count, tokens_enabled, token_group,
			authorization_field_swap, validation_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		api.ID, api.Name, api.Version, api.Path,
		marshalList(api.Servers), marshalList(api.AllowedHeaders),
		api.AllowedRetryCount, api.TokensEnabled, api.TokenGroup,
		api.AuthorizationFieldSwap, api.ValidationEnabled, now, now)
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}
	return nil
}

func (s *Store) GetAPI(ctx context.Context, name, version string) (*models.API, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, version, path, servers, allowed_headers,
			allowed_retry_count, tokens_enabled, token_group,
			authorization_field_swap, validation_enabled, created_at, updated_at
		FROM apis WHERE name = ? AND version = ?`, name, version)
	if err != nil {
		return nil, fmt.Errorf("get api: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var api models.API
	var servers, headers string
	if err := rows.Scan(&api.ID, &api.Name, &api.Version, &api.Path,
		&servers, &headers, &api.AllowedRetryCount, &api.TokensEnabled,
		&api.TokenGroup, &api.AuthorizationFieldSwap, &api.ValidationEnabled,
		&api.CreatedAt, &api.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get api: %w", err)
	}
	api.Servers = unmarshalList(servers)
	api.AllowedHeaders = unmarshalList(headers)
	return &api, nil
}

func (s *Store) DeleteAPI(ctx context.Context, id string) error {
	if err := s.db.Exec(ctx, `DELETE FROM endpoints WHERE api_id = ?`, id); err != nil {
		return fmt.Errorf("delete api endpoints: %w", err)
	}
	if err := s.db.Exec(ctx, `DELETE FROM apis WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete api: %w", err)
	}
	return nil
}

func (s *Store) CreateEndpoint(ctx context.Context, endpoint *models.Endpoint) error {
	if endpoint.ID == "" {
		endpoint.ID = uuid.New().String()
	}
	endpoint.CreatedAt = time.Now()

	err := s.db.Exec(ctx, `
		INSERT INTO endpoints (id, api_id, method, uri, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		endpoint.ID, endpoint.APIID, endpoint.Method, endpoint.URI, endpoint.CreatedAt)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	return nil
}

// ListEndpoints returns an API's endpoints in registration order; the
// matcher relies on that order for first-match-wins.
func (s *Store) ListEndpoints(ctx context.Context, apiID string) ([]models.Endpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, api_id, method, uri, created_at
		FROM endpoints WHERE api_id = ? ORDER BY created_at, id`, apiID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []models.Endpoint{}
	for rows.Next() {
		var endpoint models.Endpoint
		if err := rows.Scan(&endpoint.ID, &endpoint.APIID, &endpoint.Method,
			&endpoint.URI, &endpoint.CreatedAt); err != nil {
			return nil, fmt.Errorf("list endpoints: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id string) error {
	if err := s.db.Exec(ctx, `DELETE FROM endpoint_validations WHERE endpoint_id = ?`, id); err != nil {
		return fmt.Errorf("delete endpoint validation: %w", err)
	}
	if err := s.db.Exec(ctx, `DELETE FROM endpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

func (s *Store) UpsertValidation(ctx context.Context, schema *models.ValidationSchema) error {
	data, err := json.Marshal(schema.Schema)
	if err != nil {
		return fmt.Errorf("upsert validation: %w", err)
	}
	err = s.db.Exec(ctx, `
		INSERT INTO endpoint_validations (endpoint_id, validation_enabled, schema)
		VALUES (?, ?, ?)
		ON CONFLICT (endpoint_id) DO UPDATE SET
			validation_enabled = excluded.validation_enabled,
			schema = excluded.schema`,
		schema.EndpointID, schema.ValidationEnabled, string(data))
	if err != nil {
		return fmt.Errorf("upsert validation: %w", err)
	}
	return nil
}

func (s *Store) GetValidation(ctx context.Context, endpointID string) (*models.ValidationSchema, error) {
	rows, err := s.db.Query(ctx, `
		SELECT endpoint_id, validation_enabled, schema
		FROM endpoint_validations WHERE endpoint_id = ?`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("get validation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var schema models.ValidationSchema
	var raw string
	if err := rows.Scan(&schema.EndpointID, &schema.ValidationEnabled, &raw); err != nil {
		return nil, fmt.Errorf("get validation: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &schema.Schema); err != nil {
		return nil, fmt.Errorf("get validation: %w", err)
	}
	return &schema, nil
}

func (s *Store) DeleteValidation(ctx context.Context, endpointID string) error {
	if err := s.db.Exec(ctx, `DELETE FROM endpoint_validations WHERE endpoint_id = ?`, endpointID); err != nil {
		return fmt.Errorf("delete validation: %w", err)
	}
	return nil
}

func (s *Store) UpsertRouting(ctx context.Context, routing *models.Routing) error {
	err := s.db.Exec(ctx, `
		INSERT INTO routings (client_key, servers, server_index, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_key) DO UPDATE SET
			servers = excluded.servers,
			server_index = excluded.server_index`,
		routing.ClientKey, marshalList(routing.Servers), routing.ServerIndex, time.Now())
	if err != nil {
		return fmt.Errorf("upsert routing: %w", err)
	}
	return nil
}

func (s *Store) GetRouting(ctx context.Context, clientKey string) (*models.Routing, error) {
	rows, err := s.db.Query(ctx, `
		SELECT client_key, servers, server_index, created_at
		FROM routings WHERE client_key = ?`, clientKey)
	if err != nil {
		return nil, fmt.Errorf("get routing: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var routing models.Routing
	var servers string
	if err := rows.Scan(&routing.ClientKey, &servers, &routing.ServerIndex, &routing.CreatedAt); err != nil {
		return nil, fmt.Errorf("get routing: %w", err)
	}
	routing.Servers = unmarshalList(servers)
	return &routing, nil
}

func (s *Store) DeleteRouting(ctx context.Context, clientKey string) error {
	if err := s.db.Exec(ctx, `DELETE FROM routings WHERE client_key = ?`, clientKey); err != nil {
		return fmt.Errorf("delete routing: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := s.db.Exec(ctx, `
		INSERT INTO users (username, password_hash, is_admin, is_active,
			rate_limit, rate_limit_duration, throttle_limit, throttle_duration,
			throttle_wait, throttle_wait_duration, throttle_queue_limit,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.Password, user.IsAdmin, user.IsActive,
		user.RateLimit, user.RateLimitDuration, user.ThrottleLimit,
		user.ThrottleDuration, user.ThrottleWait, user.ThrottleWaitDuration,
		user.ThrottleQueueLimit, now, now)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*models.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT username, password_hash, is_admin, is_active,
			rate_limit, rate_limit_duration, throttle_limit, throttle_duration,
			throttle_wait, throttle_wait_duration, throttle_queue_limit,
			created_at, updated_at
		FROM users WHERE username = ?`, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var user models.User
	if err := rows.Scan(&user.Username, &user.Password, &user.IsAdmin,
		&user.IsActive, &user.RateLimit, &user.RateLimitDuration,
		&user.ThrottleLimit, &user.ThrottleDuration, &user.ThrottleWait,
		&user.ThrottleWaitDuration, &user.ThrottleQueueLimit,
		&user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (s *Store) UpdateUserLimits(ctx context.Context, user *models.User) error {
	err := s.db.Exec(ctx, `
		UPDATE users SET rate_limit = ?, rate_limit_duration = ?,
			throttle_limit = ?, throttle_duration = ?, throttle_wait = ?,
			throttle_wait_duration = ?, throttle_queue_limit = ?, updated_at = ?
		WHERE username = ?`,
		user.RateLimit, user.RateLimitDuration, user.ThrottleLimit,
		user.ThrottleDuration, user.ThrottleWait, user.ThrottleWaitDuration,
		user.ThrottleQueueLimit, time.Now(), user.Username)
	if err != nil {
		return fmt.Errorf("update user limits: %w", err)
	}
	return nil
}

func (s *Store) UpsertTokenDef(ctx context.Context, def *models.TokenDef) error {
	err := s.db.Exec(ctx, `
		INSERT INTO token_defs (group_name, api_header, api_key)
		VALUES (?, ?, ?)
		ON CONFLICT (group_name) DO UPDATE SET
			api_header = excluded.api_header,
			api_key = excluded.api_key`,
		def.Group, def.APIHeader, def.APIKey)
	if err != nil {
		return fmt.Errorf("upsert token def: %w", err)
	}
	return nil
}

func (s *Store) GetTokenDef(ctx context.Context, group string) (*models.TokenDef, error) {
	rows, err := s.db.Query(ctx, `
		SELECT group_name, api_header, api_key FROM token_defs WHERE group_name = ?`, group)
	if err != nil {
		return nil, fmt.Errorf("get token def: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var def models.TokenDef
	if err := rows.Scan(&def.Group, &def.APIHeader, &def.APIKey); err != nil {
		return nil, fmt.Errorf("get token def: %w", err)
	}
	return &def, nil
}

func (s *Store) SetUserTokens(ctx context.Context, tokens *models.UserTokens) error {
	err := s.db.Exec(ctx, `
		INSERT INTO user_tokens (username, group_name, available, user_key)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username, group_name) DO UPDATE SET
			available = excluded.available,
			user_key = excluded.user_key`,
		tokens.Username, tokens.Group, tokens.Available, tokens.UserKey)
	if err != nil {
		return fmt.Errorf("set user tokens: %w", err)
	}
	return nil
}

func (s *Store) GetUserTokens(ctx context.Context, username, group string) (*models.UserTokens, error) {
	rows, err := s.db.Query(ctx, `
		SELECT username, group_name, available, user_key
		FROM user_tokens WHERE username = ? AND group_name = ?`, username, group)
	if err != nil {
		return nil, fmt.Errorf("get user tokens: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var tokens models.UserTokens
	if err := rows.Scan(&tokens.Username, &tokens.Group, &tokens.Available, &tokens.UserKey); err != nil {
		return nil, fmt.Errorf("get user tokens: %w", err)
	}
	return &tokens, nil
}

// DeductUserToken burns one token; the available > 0 guard keeps the
// balance from going negative under concurrent deducts.
func (s *Store) DeductUserToken(ctx context.Context, username, group string) error {
	err := s.db.Exec(ctx, `
		UPDATE user_tokens SET available = available - 1
		WHERE username = ? AND group_name = ? AND available > 0`,
		username, group)
	if err != nil {
		return fmt.Errorf("deduct user token: %w", err)
	}
	return nil
}

func (s *Store) UpsertProtoDescriptor(ctx context.Context, apiName, version string, descriptor []byte) error {
	err := s.db.Exec(ctx, `
		INSERT INTO proto_descriptors (api_name, version, descriptor)
		VALUES (?, ?, ?)
		ON CONFLICT (api_name, version) DO UPDATE SET
			descriptor = excluded.descriptor`,
		apiName, version, descriptor)
	if err != nil {
		return fmt.Errorf("upsert proto descriptor: %w", err)
	}
	return nil
}

func (s *Store) GetProtoDescriptor(ctx context.Context, apiName, version string) ([]byte, error) {
	rows, err := s.db.Query(ctx, `
		SELECT descriptor FROM proto_descriptors WHERE api_name = ? AND version = ?`,
		apiName, version)
	if err != nil {
		return nil, fmt.Errorf("get proto descriptor: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var descriptor []byte
	if err := rows.Scan(&descriptor); err != nil {
		return nil, fmt.Errorf("get proto descriptor: %w", err)
	}
	return descriptor, nil
}
