package gateway

import (
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apigate/gatewayd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessEnvelope_JSONBody(t *testing.T) {
	env := SuccessEnvelope(200, map[string]string{"Content-Type": "application/json"}, []byte(`{"id": 42}`))

	assert.Equal(t, 200, env.StatusCode)
	assert.Empty(t, env.ErrorCode)
	assert.Empty(t, env.Message)
	response, ok := env.Response.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(42), response["id"])
}

func TestSuccessEnvelope_PlainTextBody(t *testing.T) {
	env := SuccessEnvelope(200, nil, []byte("pong"))

	assert.Nil(t, env.Response)
	assert.Equal(t, "pong", env.Message)
}

func TestSuccessEnvelope_EmptyBody(t *testing.T) {
	env := SuccessEnvelope(204, nil, nil)

	assert.Equal(t, 204, env.StatusCode)
	assert.Nil(t, env.Response)
	assert.Empty(t, env.Message)
}

func TestErrorEnvelope_GatewayError(t *testing.T) {
	env := ErrorEnvelope(ErrAPINotFound())

	assert.Equal(t, 404, env.StatusCode)
	assert.Equal(t, CodeAPINotFound, env.ErrorCode)
	assert.NotEmpty(t, env.ErrorMessage)
	assert.Nil(t, env.Response)
}

func TestErrorEnvelope_UnexpectedError(t *testing.T) {
	env := ErrorEnvelope(errors.New("boom"))

	assert.Equal(t, 500, env.StatusCode)
	assert.Equal(t, CodeUnexpected, env.ErrorCode)
	assert.Equal(t, "boom", env.ErrorMessage)
}

func TestErrorEnvelope_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 400)
	env := ErrorEnvelope(errors.New(long))

	assert.Len(t, env.ErrorMessage, models.MaxErrorMessageLen)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, "req-1", ErrorEnvelope(ErrRateLimited()))

	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), CodeRateLimited)
	assert.Contains(t, rec.Body.String(), `"response_headers":{"request_id":"req-1"}`,
		"error bodies carry the correlation id")
}

func TestWriteJSON_RequestIDJoinsBackendHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	env := SuccessEnvelope(200, map[string]string{"Content-Type": "application/json"}, []byte(`{}`))
	WriteJSON(rec, "req-9", env)

	assert.Equal(t, "req-9", env.ResponseHeaders["request_id"])
	assert.Equal(t, "application/json", env.ResponseHeaders["Content-Type"],
		"allowed backend headers survive alongside the id")
	assert.Contains(t, rec.Body.String(), `"request_id":"req-9"`)
}

func TestWriteSOAP(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSOAP(rec, "req-2", ErrorEnvelope(ErrEndpointNotFound()))

	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")

	var decoded struct {
		XMLName xml.Name `xml:"envelope"`
		Status  int      `xml:"status_code"`
		Error   struct {
			Code    string `xml:"code"`
			Message string `xml:"message"`
		} `xml:"error"`
	}
	body := rec.Body.String()
	require.NoError(t, xml.Unmarshal([]byte(body[strings.Index(body, "<envelope"):]), &decoded))
	assert.Equal(t, 404, decoded.Status)
	assert.Equal(t, CodeEndpointNotFound, decoded.Error.Code)
	assert.Contains(t, body, "<response_headers><request_id>req-2</request_id></response_headers>")
}

func TestHeaderMap(t *testing.T) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Add("X-Multi", "first")
	headers.Add("X-Multi", "second")

	flat := HeaderMap(headers)
	assert.Equal(t, "application/json", flat["Content-Type"])
	assert.Equal(t, "first", flat["X-Multi"])
	assert.Nil(t, HeaderMap(nil))
}
