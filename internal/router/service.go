package router

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/apigate/gatewayd/internal/dispatch"
	"github.com/apigate/gatewayd/internal/gateway"
	"github.com/apigate/gatewayd/internal/logging"
	"github.com/apigate/gatewayd/internal/metrics"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/apigate/gatewayd/internal/protomod"
	"github.com/apigate/gatewayd/internal/ratelimit"
	"github.com/apigate/gatewayd/internal/registry"
	"github.com/apigate/gatewayd/internal/validation"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Service is the gateway pipeline. Every entry protocol funnels through
// the same stages: limits, API resolution, endpoint matching, payload
// validation, token metering, server selection and dispatch, with the
// outcome normalized into the response envelope.
type Service struct {
	resolver  *registry.Resolver
	store     *registry.Store
	matcher   *gateway.Matcher
	selector  *dispatch.Selector
	forwarder *dispatch.Forwarder
	limiter   *ratelimit.Limiter
	validator *validation.Validator
	protos    *protomod.Registry
	invoker   *protomod.Invoker
	logger    *logging.StructuredLogger
	metrics   *metrics.Metrics
}

func NewService(
	resolver *registry.Resolver,
	store *registry.Store,
	selector *dispatch.Selector,
	forwarder *dispatch.Forwarder,
	limiter *ratelimit.Limiter,
	validator *validation.Validator,
	protos *protomod.Registry,
	invoker *protomod.Invoker,
	logger *logging.StructuredLogger,
) *Service {
	return &Service{
		resolver:  resolver,
		store:     store,
		matcher:   gateway.NewMatcher(),
		selector:  selector,
		forwarder: forwarder,
		limiter:   limiter,
		validator: validator,
		protos:    protos,
		invoker:   invoker,
		logger:    logger,
		metrics:   metrics.GetMetrics(),
	}
}

// Rest proxies a JSON REST call.
func (s *Service) Rest(ctx context.Context, req *models.Request) *models.Envelope {
	return s.proxyHTTP(ctx, req, "rest")
}

// Soap proxies an XML call; the request body is validated as XML and
// the caller-facing envelope is rendered as XML by the handler layer.
func (s *Service) Soap(ctx context.Context, req *models.Request) *models.Envelope {
	return s.proxyHTTP(ctx, req, "soap")
}

// VersionHeader selects the API version for protocols whose paths carry
// only the API name.
const VersionHeader = "X-API-Version"

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// applyHeaderVersion rewrites a GraphQL/gRPC path into name/version/rest
// form. These protocols address the API by name and take the version
// from the X-API-Version header, defaulting to v1, unless the path
// already spells one out.
func applyHeaderVersion(req *models.Request) {
	parts := strings.SplitN(strings.Trim(req.Path, "/"), "/", 2)
	if parts[0] == "" {
		return
	}
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}
	if versionSegment.MatchString(strings.SplitN(rest, "/", 2)[0]) {
		return
	}
	version := req.Headers.Get(VersionHeader)
	if version == "" {
		version = "v1"
	}
	req.Path = parts[0] + "/" + version
	if rest != "" {
		req.Path += "/" + rest
	}
}

// GraphQL proxies a GraphQL operation. The body must be a JSON document
// carrying a query string; anything else is rejected before dispatch.
func (s *Service) GraphQL(ctx context.Context, req *models.Request) *models.Envelope {
	applyHeaderVersion(req)
	var op struct {
		Query         string          `json:"query"`
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal(req.Body, &op); err != nil || strings.TrimSpace(op.Query) == "" {
		return gateway.ErrorEnvelope(gateway.ErrValidation("GraphQL request must carry a query"))
	}
	// Some clients double-encode variables as a JSON string; unwrap so
	// the backend always sees an object.
	if len(op.Variables) > 0 && op.Variables[0] == '"' {
		var inner string
		if err := json.Unmarshal(op.Variables, &inner); err != nil {
			return gateway.ErrorEnvelope(gateway.ErrValidation("GraphQL variables are not valid JSON"))
		}
		if !json.Valid([]byte(inner)) {
			return gateway.ErrorEnvelope(gateway.ErrValidation("GraphQL variables are not valid JSON"))
		}
		op.Variables = json.RawMessage(inner)
	}
	// Re-encode so only the operation fields reach the backend.
	cleaned, err := json.Marshal(op)
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}
	req.Body = cleaned
	return s.proxyHTTP(ctx, req, "graphql")
}

func (s *Service) proxyHTTP(ctx context.Context, req *models.Request, protocol string) *models.Envelope {
	start := time.Now()
	env := s.doProxyHTTP(ctx, req, protocol)
	s.finish(req, protocol, env, start)
	return env
}

func (s *Service) doProxyHTTP(ctx context.Context, req *models.Request, protocol string) *models.Envelope {
	api, endpoint, rest, err := s.resolve(ctx, req)
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	if err := s.validatePayload(ctx, api, endpoint, req, protocol); err != nil {
		return gateway.ErrorEnvelope(err)
	}

	tokenHeader, tokenKey, err := s.meterTokens(ctx, api, req.Username)
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	server, err := s.selector.Select(ctx, api, endpoint, req.ClientKey())
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	backendReq := *req
	backendReq.Path = rest
	result, err := s.forwarder.Do(ctx, server, api, &backendReq, tokenHeader, tokenKey)
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	filtered := dispatch.FilterHeaders(result.Headers, api.AllowedHeaders)
	status := result.StatusCode
	if protocol == "graphql" && status == 200 && graphqlHasErrors(result.Body) {
		// GraphQL backends answer 200 even on failure; surface it.
		status = 400
	}
	return gateway.SuccessEnvelope(status, gateway.HeaderMap(filtered), result.Body)
}

func graphqlHasErrors(body []byte) bool {
	var resp struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	return len(resp.Errors) > 0
}

// GRPC proxies a unary gRPC call described by a JSON body of the form
// {"method": "Service.Method", "message": {...}}.
func (s *Service) GRPC(ctx context.Context, req *models.Request) *models.Envelope {
	applyHeaderVersion(req)
	start := time.Now()
	env := s.doProxyGRPC(ctx, req)
	s.finish(req, "grpc", env, start)
	return env
}

func (s *Service) doProxyGRPC(ctx context.Context, req *models.Request) *models.Envelope {
	api, endpoint, _, err := s.resolve(ctx, req)
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	var call struct {
		Method  string          `json:"method"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(req.Body, &call); err != nil || call.Method == "" {
		return gateway.ErrorEnvelope(gateway.ErrValidation("gRPC request must carry a method"))
	}

	if err := s.validateGRPCPayload(ctx, api, endpoint, call.Message); err != nil {
		return gateway.ErrorEnvelope(err)
	}

	tokenHeader, tokenKey, err := s.meterTokens(ctx, api, req.Username)
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}
	if tokenHeader != "" {
		// gRPC backends receive the metered credential as metadata.
		ctx = metadata.AppendToOutgoingContext(ctx, strings.ToLower(tokenHeader), tokenKey)
	}

	method, err := s.protos.ResolveMethod(ctx, api.Name, api.Version, call.Method)
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, protomod.ErrMethodNotFound) {
		return gateway.ErrorEnvelope(gateway.ErrProtoNotFound("No proto definition registered for the requested method"))
	}
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	server, err := s.selector.Select(ctx, api, endpoint, req.ClientKey())
	if err != nil {
		return gateway.ErrorEnvelope(err)
	}

	response, err := s.invoker.Invoke(ctx, server, method, call.Message, api.AllowedRetryCount)
	if err != nil {
		return gateway.ErrorEnvelope(grpcError(err))
	}
	return gateway.SuccessEnvelope(200, nil, response)
}

// resolve runs the shared front half of the pipeline: user limits, API
// lookup, endpoint matching.
func (s *Service) resolve(ctx context.Context, req *models.Request) (*models.API, *models.Endpoint, string, error) {
	user, err := s.resolver.User(ctx, req.Username)
	if err == nil {
		if limitErr := s.limiter.Allow(ctx, user); limitErr != nil {
			return nil, nil, "", limitErr
		}
	} else if !errors.Is(err, registry.ErrNotFound) {
		return nil, nil, "", err
	}

	name, version, rest, ok := gateway.SplitPath(req.Path)
	if !ok {
		return nil, nil, "", gateway.ErrAPINotFound()
	}
	api, err := s.resolver.API(ctx, name, version)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, nil, "", gateway.ErrAPINotFound()
	}
	if err != nil {
		return nil, nil, "", err
	}

	endpoints, err := s.resolver.Endpoints(ctx, api.ID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, nil, "", err
	}
	if len(endpoints) == 0 {
		return nil, nil, "", gateway.ErrNoEndpoints()
	}

	endpoint, ok := s.matcher.Match(endpoints, req.Method, rest)
	if !ok {
		if s.matcher.MethodSupported(endpoints, req.Method, rest) {
			return nil, nil, "", gateway.ErrMethodNotSupported()
		}
		return nil, nil, "", gateway.ErrEndpointNotFound()
	}
	return api, endpoint, rest, nil
}

// validatePayload checks the request body against the endpoint's schema.
// A missing schema, a disabled schema or a schema lookup failure all
// pass the request through untouched.
func (s *Service) validatePayload(ctx context.Context, api *models.API, endpoint *models.Endpoint, req *models.Request, protocol string) error {
	if !api.ValidationEnabled {
		return nil
	}
	schema, err := s.resolver.Validation(ctx, endpoint.ID)
	if err != nil || schema == nil || !schema.ValidationEnabled || len(schema.Schema) == 0 {
		return nil
	}

	var payload map[string]interface{}
	var decodeErr error
	if protocol == "soap" {
		payload, decodeErr = validation.DecodeXML(req.Body)
	} else {
		payload, decodeErr = validation.DecodeJSON(req.Body)
	}
	if decodeErr != nil {
		return gateway.ErrValidation("request body could not be parsed")
	}
	if err := s.validator.Validate(schema.Schema, payload); err != nil {
		return gateway.ErrValidation(err.Error())
	}
	return nil
}

func (s *Service) validateGRPCPayload(ctx context.Context, api *models.API, endpoint *models.Endpoint, message json.RawMessage) error {
	if !api.ValidationEnabled {
		return nil
	}
	schema, err := s.resolver.Validation(ctx, endpoint.ID)
	if err != nil || schema == nil || !schema.ValidationEnabled || len(schema.Schema) == 0 {
		return nil
	}
	payload, decodeErr := validation.DecodeJSON(message)
	if decodeErr != nil {
		return gateway.ErrValidation("gRPC message could not be parsed")
	}
	if err := s.validator.Validate(schema.Schema, payload); err != nil {
		return gateway.ErrValidation(err.Error())
	}
	return nil
}

// meterTokens burns one token from the user's balance for token-metered
// APIs and returns the backend credential header to inject.
func (s *Service) meterTokens(ctx context.Context, api *models.API, username string) (string, string, error) {
	if !api.TokensEnabled {
		return "", "", nil
	}
	def, err := s.resolver.TokenDef(ctx, api.TokenGroup)
	if errors.Is(err, registry.ErrNotFound) {
		return "", "", gateway.ErrInternal("Token group is not configured")
	}
	if err != nil {
		return "", "", err
	}
	tokens, err := s.resolver.UserTokens(ctx, username, api.TokenGroup)
	if errors.Is(err, registry.ErrNotFound) {
		return "", "", gateway.ErrTokenExhausted()
	}
	if err != nil {
		return "", "", err
	}
	if tokens.Available <= 0 {
		return "", "", gateway.ErrTokenExhausted()
	}
	if err := s.store.DeductUserToken(ctx, username, api.TokenGroup); err != nil {
		return "", "", err
	}
	s.metrics.RecordTokenDeducted()
	// The cached balance is stale after the deduct.
	_ = s.resolver.InvalidateUserTokens(ctx, username, api.TokenGroup)

	key := tokens.UserKey
	if key == "" {
		key = def.APIKey
	}
	return def.APIHeader, key, nil
}

func (s *Service) finish(req *models.Request, protocol string, env *models.Envelope, start time.Time) {
	duration := time.Since(start)
	s.metrics.RecordRequest(duration, env.ErrorCode == "")
	fields := map[string]interface{}{
		"request_id":  req.RequestID,
		"username":    req.Username,
		"method":      req.Method,
		"path":        req.Path,
		"protocol":    protocol,
		"status_code": env.StatusCode,
		"duration":    duration,
	}
	if env.ErrorCode != "" {
		fields["error_code"] = env.ErrorCode
		s.logger.Warn("request failed", fields)
		return
	}
	s.logger.Info("request completed", fields)
}

func grpcError(err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return gateway.ErrTimeout()
	case codes.NotFound:
		return gateway.ErrBackendEndpoint()
	case codes.Unavailable:
		return gateway.NewError(gateway.CodeInternalError, "Backend service unavailable", 503)
	}
	return gateway.ErrInternal(models.Truncate(err.Error()))
}
