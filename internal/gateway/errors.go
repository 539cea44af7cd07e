package gateway

import "fmt"

// Gateway error codes. These are part of the external contract and must
// not change between releases.
const (
	CodeAPINotFound        = "GTW001"
	CodeNoEndpoints        = "GTW002"
	CodeEndpointNotFound   = "GTW003"
	CodeMethodNotSupported = "GTW004"
	CodeBackendEndpoint    = "GTW005"
	CodeInternalError      = "GTW006"
	CodeUnknownClientKey   = "GTW007"
	CodeTokenExhausted     = "GTW008"
	CodeRateLimited        = "GTW009"
	CodeGatewayTimeout     = "GTW010"
	CodeValidationFailed   = "GTW011"
	CodeProtoNotFound      = "GTW012"
	CodeUnexpected         = "GTW999"
)

// Error is a gateway-level failure that maps directly onto the response
// envelope: a stable code, a caller-safe message and the HTTP status to
// surface it with.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Fixed-message constructors for the common resolution failures.
func ErrAPINotFound() *Error {
	return NewError(CodeAPINotFound, "API does not exist for the requested name and version", 404)
}

func ErrNoEndpoints() *Error {
	return NewError(CodeNoEndpoints, "No endpoints found for the requested API", 404)
}

func ErrEndpointNotFound() *Error {
	return NewError(CodeEndpointNotFound, "Endpoint does not exist for the requested API", 404)
}

func ErrMethodNotSupported() *Error {
	return NewError(CodeMethodNotSupported, "Method not supported", 405)
}

func ErrBackendEndpoint() *Error {
	return NewError(CodeBackendEndpoint, "Endpoint does not exist in backend service", 404)
}

func ErrInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return NewError(CodeInternalError, message, 500)
}

func ErrUnknownClientKey() *Error {
	return NewError(CodeUnknownClientKey, "Client key does not exist in routing", 404)
}

func ErrNoServers() *Error {
	return NewError(CodeAPINotFound, "No API servers configured", 404)
}

func ErrTokenExhausted() *Error {
	return NewError(CodeTokenExhausted, "User does not have any tokens", 401)
}

func ErrRateLimited() *Error {
	return NewError(CodeRateLimited, "Rate limit exceeded", 429)
}

func ErrThrottleQueue() *Error {
	return NewError(CodeRateLimited, "Throttle queue limit exceeded", 429)
}

func ErrTimeout() *Error {
	return NewError(CodeGatewayTimeout, "Gateway timeout", 504)
}

func ErrValidation(message string) *Error {
	return NewError(CodeValidationFailed, message, 400)
}

func ErrProtoNotFound(message string) *Error {
	return NewError(CodeProtoNotFound, message, 404)
}

func ErrUnexpected() *Error {
	return NewError(CodeUnexpected, "An unexpected error occurred", 500)
}
