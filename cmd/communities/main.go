// Communities API server - domain CRUD over PostgreSQL with transactional
// outbox writes.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/beep-industries/communities/pkg/api"
	"github.com/beep-industries/communities/pkg/config"
	"github.com/beep-industries/communities/pkg/database"
	"github.com/beep-industries/communities/pkg/outbox"
	"github.com/beep-industries/communities/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_FILE", "./deploy/config.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	gin.SetMode(getEnv("GIN_MODE", "debug"))

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("✓ Connected to PostgreSQL database")
	log.Println("✓ Database schema initialized")

	table, err := outbox.NewTableFromNames(routingBindings(cfg.Routing))
	if err != nil {
		log.Fatalf("Failed to build routing table: %v", err)
	}

	pool := dbClient.Pool()
	writer := outbox.NewWriter()
	outboxStore := outbox.NewStore(pool)

	serverService := services.NewServerService(pool, writer, table)
	channelService := services.NewChannelService(pool, writer, table)
	roleService := services.NewRoleService(pool, writer, table)
	memberService := services.NewMemberService(pool)
	friendService := services.NewFriendshipService(pool)
	invitationService := services.NewInvitationService(pool)
	log.Println("✓ Services initialized")

	apiServer := api.NewServer(cfg, dbClient,
		serverService, channelService, roleService,
		memberService, friendService, invitationService,
		outboxStore)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: apiServer.Router(),
	}

	go func() {
		log.Printf("HTTP server listening on :%s", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}

// routingBindings flattens the config map for the routing table.
func routingBindings(cfg config.RoutingConfig) map[string]string {
	bindings := make(map[string]string, len(cfg))
	for kind, entry := range cfg {
		bindings[kind] = entry.Exchange
	}
	return bindings
}
