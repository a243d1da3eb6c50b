// Outbox dispatcher - streams committed outbox events from PostgreSQL and
// publishes them to RabbitMQ.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beep-industries/communities/pkg/broker"
	"github.com/beep-industries/communities/pkg/config"
	"github.com/beep-industries/communities/pkg/database"
	"github.com/beep-industries/communities/pkg/outbox"
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
	metricsPort := flag.String("metrics-port",
		getEnv("METRICS_PORT", "9090"),
		"Port for the Prometheus /metrics endpoint")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	table, err := outbox.NewTableFromNames(routingBindings(cfg.Routing))
	if err != nil {
		log.Fatalf("Failed to build routing table: %v", err)
	}

	brokerClient, err := broker.NewClient(broker.Config{
		URL:            cfg.Broker.URL,
		ExchangeType:   cfg.Broker.ExchangeType,
		ConfirmTimeout: cfg.Outbox.PublishConfirmTimeout,
		ReconnectDelay: cfg.Broker.ReconnectDelay,
	})
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer func() { _ = brokerClient.Close() }()
	log.Println("✓ Connected to RabbitMQ")

	listener := outbox.NewListener(dbClient.ConnString())
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("Failed to start outbox listener: %v", err)
	}
	defer listener.Stop(context.Background())

	store := outbox.NewStore(dbClient.Pool())

	janitor := outbox.NewJanitor(store, cfg.Outbox.GCInterval)
	janitor.Start(ctx)
	defer janitor.Stop()

	metricsServer := &http.Server{
		Addr:    ":" + *metricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server failed: %v", err)
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	dispatcher := outbox.NewDispatcher(store, listener, brokerClient, table, outbox.DispatcherConfig{
		BacklogPageSize: cfg.Outbox.BacklogPageSize,
		PollIdle:        cfg.Outbox.PollIdle,
		RetryInitial:    cfg.Outbox.RetryInitial,
		RetryMax:        cfg.Outbox.RetryMax,
		RetryMultiplier: cfg.Outbox.RetryMultiplier,
	})

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Dispatcher failed: %v", err)
	}
	log.Println("Dispatcher exited cleanly")
}

// routingBindings flattens the config map for the routing table.
func routingBindings(cfg config.RoutingConfig) map[string]string {
	bindings := make(map[string]string, len(cfg))
	for kind, entry := range cfg {
		bindings[kind] = entry.Exchange
	}
	return bindings
}
