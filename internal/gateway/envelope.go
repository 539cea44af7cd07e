package gateway

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strings"

	"github.com/apigate/gatewayd/internal/models"
)

// SuccessEnvelope wraps a backend result. JSON-shaped bodies are carried
// as decoded structures; anything else rides as a plain message string.
func SuccessEnvelope(statusCode int, headers map[string]string, body []byte) *models.Envelope {
	env := &models.Envelope{
		StatusCode:      statusCode,
		ResponseHeaders: headers,
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return env
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		env.Response = decoded
	} else {
		env.Message = trimmed
	}
	return env
}

// ErrorEnvelope turns any failure into the envelope form. Gateway errors
// keep their code and status; everything else becomes the unexpected
// error with its detail truncated.
func ErrorEnvelope(err error) *models.Envelope {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		gwErr = ErrUnexpected()
		if err != nil {
			gwErr.Message = err.Error()
		}
	}
	return &models.Envelope{
		StatusCode:   gwErr.Status,
		ErrorCode:    gwErr.Code,
		ErrorMessage: models.Truncate(gwErr.Message),
	}
}

// HeaderMap flattens filtered response headers into the envelope's
// single-value form.
func HeaderMap(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	flat := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) > 0 {
			flat[name] = values[0]
		}
	}
	return flat
}

// withRequestID stamps the correlation id into the envelope's response
// headers so every body, success or error, carries it.
func withRequestID(env *models.Envelope, requestID string) {
	if requestID == "" {
		return
	}
	if env.ResponseHeaders == nil {
		env.ResponseHeaders = make(map[string]string, 1)
	}
	env.ResponseHeaders["request_id"] = requestID
}

// WriteJSON renders the envelope for REST, GraphQL and gRPC callers.
// The envelope status code is mirrored onto the HTTP response.
func WriteJSON(w http.ResponseWriter, requestID string, env *models.Envelope) {
	withRequestID(env, requestID)
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(env.StatusCode)
	_ = json.NewEncoder(w).Encode(env)
}

type soapEnvelope struct {
	XMLName xml.Name     `xml:"envelope"`
	Status  int          `xml:"status_code"`
	Headers *soapHeaders `xml:"response_headers"`
	Message string       `xml:"message,omitempty"`
	Error   *soapErr     `xml:"error,omitempty"`
}

type soapHeaders struct {
	Values []soapHeaderValue
}

// soapHeaderValue marshals each response header as an element named
// after the header key.
type soapHeaderValue struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type soapErr struct {
	Code    string `xml:"code"`
	Message string `xml:"message"`
}

// WriteSOAP renders the envelope as XML for SOAP callers. A structured
// JSON response from the backend is re-serialized into the message body.
func WriteSOAP(w http.ResponseWriter, requestID string, env *models.Envelope) {
	withRequestID(env, requestID)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(env.StatusCode)

	out := soapEnvelope{Status: env.StatusCode, Message: env.Message}
	if len(env.ResponseHeaders) > 0 {
		out.Headers = &soapHeaders{}
		for name, value := range env.ResponseHeaders {
			out.Headers.Values = append(out.Headers.Values,
				soapHeaderValue{XMLName: xml.Name{Local: name}, Value: value})
		}
	}
	if env.ErrorCode != "" {
		out.Error = &soapErr{Code: env.ErrorCode, Message: env.ErrorMessage}
	} else if env.Response != nil {
		if data, err := json.Marshal(env.Response); err == nil {
			out.Message = string(data)
		}
	}
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(out)
}
