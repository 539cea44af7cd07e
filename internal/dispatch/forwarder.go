package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/apigate/gatewayd/internal/config"
	"github.com/apigate/gatewayd/internal/gateway"
	"github.com/apigate/gatewayd/internal/logging"
	"github.com/apigate/gatewayd/internal/metrics"
	"github.com/apigate/gatewayd/internal/models"
)

// Result is the raw backend answer before envelope normalization.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// retryableStatus marks backend statuses worth another attempt against
// the same server.
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Forwarder performs the upstream HTTP call: header filtering in both
// directions, the authorization field swap, token key injection, and
// same-server retries up to the API's budget.
type Forwarder struct {
	client *http.Client
	logger *logging.StructuredLogger
}

func NewForwarder(cfg config.GatewayConfig, logger *logging.StructuredLogger) *Forwarder {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Forwarder{
		client: &http.Client{Transport: transport, Timeout: cfg.BackendTimeout},
		logger: logger,
	}
}

// FilterHeaders keeps only headers named on the API's allow-list,
// case-insensitively. A nil list passes nothing through.
func FilterHeaders(headers http.Header, allowed []string) http.Header {
	filtered := http.Header{}
	for _, name := range allowed {
		canonical := http.CanonicalHeaderKey(name)
		if values, ok := headers[canonical]; ok {
			filtered[canonical] = append([]string(nil), values...)
		}
	}
	return filtered
}

// Do sends the request to the chosen server, retrying the same target on
// retryable failures. A backend 404 maps straight to a gateway error and
// is never retried; the surviving response comes back raw for the
// envelope layer.
func (f *Forwarder) Do(ctx context.Context, server string, api *models.API, req *models.Request, tokenHeader, tokenKey string) (*Result, error) {
	target, err := url.JoinPath(server, req.Path)
	if err != nil {
		return nil, gateway.ErrInternal("invalid backend server url")
	}
	if encoded := req.Query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	headers := FilterHeaders(req.Headers, api.AllowedHeaders)
	if api.AuthorizationFieldSwap != "" {
		// The client keeps its gateway JWT in Authorization; the real
		// backend credential rides in the configured swap header.
		if secret := req.Headers.Get(api.AuthorizationFieldSwap); secret != "" {
			headers.Set("Authorization", secret)
			headers.Del(api.AuthorizationFieldSwap)
		}
	}
	if tokenHeader != "" && tokenKey != "" {
		headers.Set(tokenHeader, tokenKey)
	}

	attempts := api.AllowedRetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	stats := metrics.GetMetrics()
	started := time.Now()

	var last *Result
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			stats.RecordUpstreamRetry()
		}
		result, retry, err := f.attempt(ctx, target, req, headers)
		if err != nil {
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) && gwErr.Code != gateway.CodeInternalError {
				// 404s and timeouts are final; only transport-level
				// failures earn another attempt.
				stats.RecordUpstreamRequest(time.Since(started), false)
				return nil, err
			}
			last, lastErr = nil, err
		} else {
			last, lastErr = result, nil
			if !retry {
				stats.RecordUpstreamRequest(time.Since(started), true)
				return result, nil
			}
		}
		f.logger.Warn("backend attempt failed", map[string]interface{}{
			"request_id": req.RequestID,
			"server":     server,
			"attempt":    attempt + 1,
		})
	}
	stats.RecordUpstreamRequest(time.Since(started), false)
	if last != nil {
		// Retry budget spent: the backend's last 5xx stands.
		return last, nil
	}
	return nil, lastErr
}

func (f *Forwarder) attempt(ctx context.Context, target string, req *models.Request, headers http.Header) (*Result, bool, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, false, gateway.ErrInternal("build backend request")
	}
	for name, values := range headers {
		httpReq.Header[name] = values
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) || isTimeout(err) {
			return nil, false, gateway.ErrTimeout()
		}
		// Connection-level failure: retryable.
		return nil, true, gateway.ErrInternal("backend unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, gateway.ErrInternal("read backend response")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, gateway.ErrBackendEndpoint()
	}
	if retryableStatus[resp.StatusCode] {
		return &Result{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, true, nil
	}
	return &Result{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, false, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
