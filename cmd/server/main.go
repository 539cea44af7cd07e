package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apigate/gatewayd/internal/api"
	"github.com/apigate/gatewayd/internal/auth"
	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/config"
	"github.com/apigate/gatewayd/internal/database"
	"github.com/apigate/gatewayd/internal/dispatch"
	"github.com/apigate/gatewayd/internal/logging"
	"github.com/apigate/gatewayd/internal/metrics"
	"github.com/apigate/gatewayd/internal/middleware"
	"github.com/apigate/gatewayd/internal/protomod"
	"github.com/apigate/gatewayd/internal/ratelimit"
	"github.com/apigate/gatewayd/internal/registry"
	"github.com/apigate/gatewayd/internal/router"
	"github.com/apigate/gatewayd/internal/validation"
	"github.com/gorilla/mux"
)

var debugMode bool

func main() {
	flag.BoolVar(&debugMode, "dm", false, "Enable debug mode")
	flag.BoolVar(&debugMode, "debug-mode", false, "Enable debug mode")
	flag.Parse()

	if debugMode {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Debug mode enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.InitStructuredLogger(cfg.Logging.Service, logging.LogLevel(cfg.Logging.Level))

	if debugMode {
		log.Printf("Configuration loaded: %+v", cfg.Server)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	store := cache.NewRedisStore(redisClient.Client, cfg.Gateway.CacheTTL)

	regStore := registry.NewStore(db)
	resolver := registry.NewResolver(regStore, store)
	limiter := ratelimit.New(store, logger, cfg.Gateway.MaxThrottleWait)
	validator := validation.New()
	protos := protomod.NewRegistry(regStore)
	invoker := protomod.NewInvoker()
	defer invoker.Close()
	selector := dispatch.NewSelector(store, resolver)
	forwarder := dispatch.NewForwarder(cfg.Gateway, logger)

	service := router.NewService(resolver, regStore, selector, forwarder,
		limiter, validator, protos, invoker, logger)

	authService := auth.NewService(regStore, resolver, &cfg.Auth)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)

	authHandler := api.NewAuthHandler(authService)
	gatewayHandler := api.NewGatewayHandler(service)
	adminHandler := api.NewAdminHandler(regStore, resolver, protos, store)
	statusHandler := api.NewStatusHandler(db, store)

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	metrics.GetMetrics().StartCollection(metricsCtx)

	r := mux.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.CORS)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
	}).Methods("GET")
	r.HandleFunc("/status", statusHandler.Status).Methods("GET")
	r.HandleFunc("/metrics", statusHandler.Metrics).Methods("GET")
	r.HandleFunc("/metrics/prometheus", statusHandler.Prometheus).Methods("GET")

	r.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protocol entry points. Everything below requires a gateway JWT.
	proxied := r.PathPrefix("/api").Subrouter()
	proxied.Use(authMiddleware.RequireAuth)
	proxied.HandleFunc("/rest/{path:.*}", gatewayHandler.Rest).
		Methods("GET", "POST", "PUT", "PATCH", "DELETE")
	proxied.HandleFunc("/soap/{path:.*}", gatewayHandler.Soap).Methods("POST")
	proxied.HandleFunc("/graphql/{path:.*}", gatewayHandler.GraphQL).Methods("POST")
	proxied.HandleFunc("/grpc/{path:.*}", gatewayHandler.GRPC).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(authMiddleware.RequireAdmin)
	admin.HandleFunc("/apis", adminHandler.CreateAPI).Methods("POST")
	admin.HandleFunc("/apis/{name}/{version}", adminHandler.GetAPI).Methods("GET")
	admin.HandleFunc("/apis/{name}/{version}", adminHandler.DeleteAPI).Methods("DELETE")
	admin.HandleFunc("/apis/{name}/{version}/endpoints", adminHandler.CreateEndpoint).Methods("POST")
	admin.HandleFunc("/apis/{name}/{version}/endpoints", adminHandler.ListEndpoints).Methods("GET")
	admin.HandleFunc("/apis/{name}/{version}/endpoints/{id}", adminHandler.DeleteEndpoint).Methods("DELETE")
	admin.HandleFunc("/apis/{name}/{version}/proto", adminHandler.UploadProto).Methods("POST")
	admin.HandleFunc("/endpoints/{id}/validation", adminHandler.UpsertValidation).Methods("PUT")
	admin.HandleFunc("/endpoints/{id}/validation", adminHandler.DeleteValidation).Methods("DELETE")
	admin.HandleFunc("/routings/{client_key}", adminHandler.UpsertRouting).Methods("PUT")
	admin.HandleFunc("/routings/{client_key}", adminHandler.GetRouting).Methods("GET")
	admin.HandleFunc("/routings/{client_key}", adminHandler.DeleteRouting).Methods("DELETE")
	admin.HandleFunc("/users/{username}/limits", adminHandler.UpdateUserLimits).Methods("PUT")
	admin.HandleFunc("/tokens/defs", adminHandler.UpsertTokenDef).Methods("PUT")
	admin.HandleFunc("/tokens/{username}", adminHandler.SetUserTokens).Methods("PUT")
	admin.HandleFunc("/caches", adminHandler.ClearCaches).Methods("DELETE")

	// Format address properly for IPv6 (needs brackets)
	httpHost := cfg.Server.Host
	if strings.Contains(httpHost, ":") {
		httpHost = "[" + httpHost + "]"
	}
	addr := fmt.Sprintf("%s:%d", httpHost, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}
