package gateway

import (
	"testing"

	"github.com/apigate/gatewayd/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantOK  bool
		apiName string
		version string
		rest    string
	}{
		{name: "full path", path: "customers/v1/customer/42", wantOK: true, apiName: "customers", version: "v1", rest: "customer/42"},
		{name: "leading slash", path: "/customers/v1/customer", wantOK: true, apiName: "customers", version: "v1", rest: "customer"},
		{name: "name and version only", path: "customers/v1", wantOK: true, apiName: "customers", version: "v1", rest: ""},
		{name: "missing version", path: "customers", wantOK: false},
		{name: "empty", path: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, version, rest, ok := SplitPath(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.apiName, name)
				assert.Equal(t, tt.version, version)
				assert.Equal(t, tt.rest, rest)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	endpoints := []models.Endpoint{
		{ID: "e1", Method: "GET", URI: "customer/{id}"},
		{ID: "e2", Method: "GET", URI: "customer/{id}/orders"},
		{ID: "e3", Method: "POST", URI: "customer"},
		{ID: "e4", Method: "GET", URI: "reports/daily"},
	}
	m := NewMatcher()

	tests := []struct {
		name   string
		method string
		uri    string
		wantID string
		wantOK bool
	}{
		{name: "parameter match", method: "GET", uri: "customer/42", wantID: "e1", wantOK: true},
		{name: "nested parameter match", method: "GET", uri: "customer/42/orders", wantID: "e2", wantOK: true},
		{name: "literal match", method: "GET", uri: "reports/daily", wantID: "e4", wantOK: true},
		{name: "method distinguishes", method: "POST", uri: "customer", wantOK: true, wantID: "e3"},
		{name: "no partial match", method: "GET", uri: "customer/42/orders/7", wantOK: false},
		{name: "wrong method", method: "DELETE", uri: "customer/42", wantOK: false},
		{name: "param never spans segments", method: "GET", uri: "customer/42/7", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint, ok := m.Match(endpoints, tt.method, tt.uri)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, endpoint.ID)
			}
		})
	}
}

func TestMatcher_FirstMatchWins(t *testing.T) {
	endpoints := []models.Endpoint{
		{ID: "first", Method: "GET", URI: "customer/{id}"},
		{ID: "second", Method: "GET", URI: "customer/{other}"},
	}
	m := NewMatcher()

	endpoint, ok := m.Match(endpoints, "GET", "customer/42")
	assert.True(t, ok)
	assert.Equal(t, "first", endpoint.ID)
}

func TestMatcher_MethodSupported(t *testing.T) {
	endpoints := []models.Endpoint{
		{ID: "e1", Method: "GET", URI: "customer/{id}"},
	}
	m := NewMatcher()

	assert.True(t, m.MethodSupported(endpoints, "POST", "customer/42"))
	assert.False(t, m.MethodSupported(endpoints, "POST", "unknown"))
}

func TestMatcher_RegexMetacharactersQuoted(t *testing.T) {
	endpoints := []models.Endpoint{
		{ID: "e1", Method: "GET", URI: "v1.0/report"},
	}
	m := NewMatcher()

	_, ok := m.Match(endpoints, "GET", "v1x0/report")
	assert.False(t, ok, "dot in URI must match literally")

	endpoint, ok := m.Match(endpoints, "GET", "v1.0/report")
	assert.True(t, ok)
	assert.Equal(t, "e1", endpoint.ID)
}
