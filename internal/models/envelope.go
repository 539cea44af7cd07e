package models

import (
	"net/http"
	"net/url"
)

// Request is the protocol-neutral view of an inbound gateway call after
// the entry handler has stripped the protocol prefix.
type Request struct {
	RequestID string
	Username  string
	Method    string
	Path      string
	Headers   http.Header
	Query     url.Values
	Body      []byte
}

// ClientKey returns the sticky-routing override header, if supplied.
func (r *Request) ClientKey() string {
	return r.Headers.Get("client-key")
}

// Envelope is the uniform response wrapper every gateway outcome funnels
// through, regardless of entry protocol. Exactly one of Response,
// Message or the ErrorCode/ErrorMessage pair is populated.
type Envelope struct {
	StatusCode      int               `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Response        interface{}       `json:"response,omitempty"`
	Message         string            `json:"message,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// MaxErrorMessageLen bounds error messages carried in the envelope.
const MaxErrorMessageLen = 255

// Truncate caps s at MaxErrorMessageLen characters.
func Truncate(s string) string {
	if len(s) > MaxErrorMessageLen {
		return s[:MaxErrorMessageLen]
	}
	return s
}
