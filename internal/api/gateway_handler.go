package api

import (
	"io"
	"net/http"

	"github.com/apigate/gatewayd/internal/gateway"
	"github.com/apigate/gatewayd/internal/middleware"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/apigate/gatewayd/internal/router"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps inbound payloads read into memory.
const maxBodyBytes = 10 << 20

// GatewayHandler exposes the four protocol entry points. All of them
// build the same protocol-neutral request and hand it to the pipeline;
// only the response rendering differs.
type GatewayHandler struct {
	service *router.Service
}

func NewGatewayHandler(service *router.Service) *GatewayHandler {
	return &GatewayHandler{service: service}
}

func (h *GatewayHandler) buildRequest(r *http.Request) (*models.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &models.Request{
		RequestID: middleware.GetRequestID(r.Context()),
		Username:  middleware.GetUsername(r.Context()),
		Method:    r.Method,
		Path:      mux.Vars(r)["path"],
		Headers:   r.Header,
		Query:     r.URL.Query(),
		Body:      body,
	}, nil
}

func (h *GatewayHandler) Rest(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		gateway.WriteJSON(w, middleware.GetRequestID(r.Context()), gateway.ErrorEnvelope(err))
		return
	}
	gateway.WriteJSON(w, req.RequestID, h.service.Rest(r.Context(), req))
}

func (h *GatewayHandler) Soap(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		gateway.WriteSOAP(w, middleware.GetRequestID(r.Context()), gateway.ErrorEnvelope(err))
		return
	}
	gateway.WriteSOAP(w, req.RequestID, h.service.Soap(r.Context(), req))
}

func (h *GatewayHandler) GraphQL(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		gateway.WriteJSON(w, middleware.GetRequestID(r.Context()), gateway.ErrorEnvelope(err))
		return
	}
	gateway.WriteJSON(w, req.RequestID, h.service.GraphQL(r.Context(), req))
}

func (h *GatewayHandler) GRPC(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		gateway.WriteJSON(w, middleware.GetRequestID(r.Context()), gateway.ErrorEnvelope(err))
		return
	}
	gateway.WriteJSON(w, req.RequestID, h.service.GRPC(r.Context(), req))
}
