package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/apigate/gatewayd/internal/auth"
	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/config"
	"github.com/apigate/gatewayd/internal/database"
	"github.com/apigate/gatewayd/internal/models"
	"github.com/apigate/gatewayd/internal/registry"
)

var (
	configFile string
	demoAPI    string
	dryRun     bool
)

func main() {
	flag.StringVar(&configFile, "config", ".local_admin", "Path to local admin config file")
	flag.StringVar(&demoAPI, "api", "", "Also register a demo API as name:version:server_url")
	flag.BoolVar(&dryRun, "dry-run", false, "Print what would be created without actually creating")
	flag.Parse()

	log.Printf("Loading configuration from: %s", configFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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

	store := registry.NewStore(db)
	resolver := registry.NewResolver(store, cache.NewRedisStore(redisClient.Client, cfg.Gateway.CacheTTL))
	authService := auth.NewService(store, resolver, &cfg.Auth)

	admins, clients, err := parseConfigFile(configFile)
	if err != nil {
		log.Fatalf("Failed to parse config file: %v", err)
	}

	if dryRun {
		printPlan(admins, clients)
		return
	}

	ctx := context.Background()

	log.Println("=== Seeding Admin Users ===")
	for name, password := range admins {
		if err := seedUser(ctx, store, authService, name, password, true); err != nil {
			log.Printf("Warning: Failed to seed admin %s: %v", name, err)
		}
	}

	log.Println("=== Seeding Client Users ===")
	for name, password := range clients {
		if err := seedUser(ctx, store, authService, name, password, false); err != nil {
			log.Printf("Warning: Failed to seed client %s: %v", name, err)
		}
	}

	if demoAPI != "" {
		if err := seedDemoAPI(ctx, store, demoAPI); err != nil {
			log.Fatalf("Failed to seed demo API: %v", err)
		}
	}

	log.Println("=== Seeding Complete ===")
	log.Println("Log in via POST /auth/login to obtain a gateway JWT.")
}

func parseConfigFile(path string) (map[string]string, map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	admins := make(map[string]string)
	clients := make(map[string]string)
	currentSection := ""

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Check for section headers
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.Trim(line, "[]")
			continue
		}

		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			log.Printf("Warning: Skipping invalid line: %s", line)
			continue
		}

		name := strings.TrimSpace(parts[0])
		password := strings.TrimSpace(parts[1])

		switch currentSection {
		case "admins":
			admins[name] = password
		case "clients":
			clients[name] = password
		default:
			log.Printf("Warning: Unknown section '%s', skipping entry: %s", currentSection, name)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("error reading config file: %w", err)
	}

	return admins, clients, nil
}

func printPlan(admins, clients map[string]string) {
	fmt.Println("Would create the following users:")

	fmt.Println("Admins:")
	for name := range admins {
		fmt.Printf("  - %s (admin=true)\n", name)
	}

	fmt.Println("Clients:")
	for name := range clients {
		fmt.Printf("  - %s (admin=false)\n", name)
	}

	if demoAPI != "" {
		fmt.Printf("Demo API: %s\n", demoAPI)
	}

	fmt.Println("To proceed, run without --dry-run flag")
}

func seedUser(ctx context.Context, store *registry.Store, authService *auth.Service, username, password string, isAdmin bool) error {
	if _, err := store.GetUser(ctx, username); err == nil {
		log.Printf("  user %s already exists, skipping", username)
		return nil
	} else if !errors.Is(err, registry.ErrNotFound) {
		return fmt.Errorf("failed to check if user exists: %w", err)
	}

	if _, err := authService.Register(ctx, username, password, isAdmin); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	role := "client"
	if isAdmin {
		role = "admin"
	}
	log.Printf("  created %s user: %s", role, username)
	return nil
}

// seedDemoAPI registers a catch-all API so a fresh install has something
// to route to: GET /ping plus GET and POST on /echo/{id}.
func seedDemoAPI(ctx context.Context, store *registry.Store, spec string) error {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("expected name:version:server_url, got %q", spec)
	}
	name, version, server := parts[0], parts[1], parts[2]

	if _, err := store.GetAPI(ctx, name, version); err == nil {
		log.Printf("  API %s/%s already exists, skipping", name, version)
		return nil
	} else if !errors.Is(err, registry.ErrNotFound) {
		return err
	}

	api := &models.API{
		Name:              name,
		Version:           version,
		Servers:           []string{server},
		AllowedHeaders:    []string{"Content-Type", "Accept"},
		AllowedRetryCount: 1,
	}
	if err := store.CreateAPI(ctx, api); err != nil {
		return err
	}

	endpoints := []models.Endpoint{
		{APIID: api.ID, Method: "GET", URI: "ping"},
		{APIID: api.ID, Method: "GET", URI: "echo/{id}"},
		{APIID: api.ID, Method: "POST", URI: "echo/{id}"},
	}
	for i := range endpoints {
		if err := store.CreateEndpoint(ctx, &endpoints[i]); err != nil {
			return err
		}
	}

	log.Printf("  registered demo API %s/%s -> %s", name, version, server)
	return nil
}
