package gateway

import (
	"regexp"
	"strings"
	"sync"

	"github.com/apigate/gatewayd/internal/logging"
	"github.com/apigate/gatewayd/internal/models"
)

var templateParam = regexp.MustCompile(`\{[^/{}]+\}`)

// Matcher finds the registered endpoint for an incoming method and path.
// Endpoint URIs may carry {param} segments which match exactly one path
// segment; compiled templates are cached per URI pattern.
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{compiled: map[string]*regexp.Regexp{}}
}

// SplitPath peels the API name and version off a gateway path like
// "customers/v1/customer/42" and returns the backend path remainder.
func SplitPath(path string) (name, version, rest string, ok bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 2 {
		return "", "", "", false
	}
	name, version = parts[0], parts[1]
	if len(parts) == 3 {
		rest = parts[2]
	}
	return name, version, rest, true
}

// Match returns the first endpoint whose template matches the request,
// in registration order. The composite key is METHOD + "/" + uri so a
// POST never matches a GET registration of the same path.
func (m *Matcher) Match(endpoints []models.Endpoint, method, uri string) (*models.Endpoint, bool) {
	composite := method + "/" + strings.Trim(uri, "/")
	for i := range endpoints {
		endpoint := &endpoints[i]
		re, err := m.template(endpoint.Composite())
		if err != nil {
			logging.Debug("skipping endpoint with uncompilable template", map[string]interface{}{
				"endpoint_id": endpoint.ID,
				"template":    endpoint.Composite(),
				"error":       err.Error(),
			})
			continue
		}
		if re.MatchString(composite) {
			return endpoint, true
		}
	}
	return nil, false
}

// MethodSupported reports whether any endpoint matches the URI under a
// different method, which distinguishes a 405 from a plain 404.
func (m *Matcher) MethodSupported(endpoints []models.Endpoint, method, uri string) bool {
	for _, other := range []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"} {
		if other == method {
			continue
		}
		if _, ok := m.Match(endpoints, other, uri); ok {
			return true
		}
	}
	return false
}

func (m *Matcher) template(composite string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, ok := m.compiled[composite]
	m.mu.RUnlock()
	if ok {
		return re, nil
	}

	// Quote the literal pieces, then substitute one wildcard segment for
	// each {param}.
	var pattern strings.Builder
	pattern.WriteString("^")
	last := 0
	for _, loc := range templateParam.FindAllStringIndex(composite, -1) {
		pattern.WriteString(regexp.QuoteMeta(composite[last:loc[0]]))
		pattern.WriteString(`([^/]+)`)
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(composite[last:]))
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.compiled[composite] = re
	m.mu.Unlock()
	return re, nil
}
