package models

import (
	"time"
)

// API is a registered backend service identity: name+version plus its
// server pool and policy flags. Name, version and path are immutable
// after creation.
type API struct {
	ID                     string    `json:"api_id" db:"id"`
	Name                   string    `json:"api_name" db:"name"`
	Version                string    `json:"api_version" db:"version"`
	Path                   string    `json:"api_path" db:"path"`
	Servers                []string  `json:"api_servers" db:"servers"`
	AllowedHeaders         []string  `json:"api_allowed_headers" db:"allowed_headers"`
	AllowedRetryCount      int       `json:"api_allowed_retry_count" db:"allowed_retry_count"`
	TokensEnabled          bool      `json:"api_tokens_enabled" db:"tokens_enabled"`
	TokenGroup             string    `json:"api_token_group,omitempty" db:"token_group"`
	AuthorizationFieldSwap string    `json:"api_authorization_field_swap,omitempty" db:"authorization_field_swap"`
	ValidationEnabled      bool      `json:"validation_enabled" db:"validation_enabled"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

// Endpoint is a method + URI template under an API. The URI may contain
// {param} segments, each matching exactly one path segment.
type Endpoint struct {
	ID        string    `json:"endpoint_id" db:"id"`
	APIID     string    `json:"api_id" db:"api_id"`
	Method    string    `json:"endpoint_method" db:"method"`
	URI       string    `json:"endpoint_uri" db:"uri"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Composite returns the METHOD+uri string endpoint matching compares
// against.
func (e Endpoint) Composite() string {
	return e.Method + "/" + trimSlash(e.URI)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}

// Routing overrides per-API server selection for a specific caller,
// keyed by its opaque client key.
type Routing struct {
	ClientKey   string    `json:"client_key" db:"client_key"`
	Servers     []string  `json:"routing_servers" db:"servers"`
	ServerIndex int       `json:"server_index" db:"server_index"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// User carries credentials plus the per-subject rate/throttle profile.
type User struct {
	Username             string    `json:"username" db:"username"`
	Password             string    `json:"-" db:"password_hash"`
	IsAdmin              bool      `json:"is_admin" db:"is_admin"`
	IsActive             bool      `json:"is_active" db:"is_active"`
	RateLimit            int       `json:"rate_limit" db:"rate_limit"`
	RateLimitDuration    string    `json:"rate_limit_duration" db:"rate_limit_duration"`
	ThrottleLimit        int       `json:"throttle_limit" db:"throttle_limit"`
	ThrottleDuration     string    `json:"throttle_duration" db:"throttle_duration"`
	ThrottleWait         float64   `json:"throttle_wait" db:"throttle_wait"`
	ThrottleWaitDuration string    `json:"throttle_wait_duration" db:"throttle_wait_duration"`
	ThrottleQueueLimit   int       `json:"throttle_queue_limit" db:"throttle_queue_limit"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// TokenDef describes a paid-token group: the header to inject on
// outbound calls and the shared API key for the group.
type TokenDef struct {
	Group     string `json:"token_group" db:"group_name"`
	APIHeader string `json:"api_header" db:"api_header"`
	APIKey    string `json:"api_key" db:"api_key"`
}

// UserTokens is a user's remaining balance within a token group.
type UserTokens struct {
	Username  string `json:"username" db:"username"`
	Group     string `json:"token_group" db:"group_name"`
	Available int    `json:"available" db:"available"`
	UserKey   string `json:"user_key,omitempty" db:"user_key"`
}
