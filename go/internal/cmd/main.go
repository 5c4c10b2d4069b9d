package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/go/internal/dbconfig"
	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/content"
	"github.com/triviarena/triviarena/go/internal/quiz/coordinator"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
	"github.com/triviarena/triviarena/go/internal/quiz/gateway"
	"github.com/triviarena/triviarena/go/internal/quiz/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rules, err := loadRules(getEnv("RULES_FILE", "config/rules.yaml"))
	if err != nil {
		log.Warn().Err(err).Msg("using default match rules")
	}

	// Database configuration
	dbCfg := dbconfig.NewConfigFromEnv()

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Strs("rounds", rules.Rounds).
		Msg("starting quiz coordinator")

	store := content.NewCachedStore(content.NewRepository(db))
	publisher := setupRelay()

	// The connection registry and the room manager reference each other:
	// rooms broadcast through the registry, the registry forwards decoded
	// events to the manager. The sink closure breaks the construction cycle.
	var manager *coordinator.Manager
	connCfg := gateway.DefaultConnectionConfig()
	connCfg.MaxConnectionsPerRoom = getEnvAsInt("MAX_CONNECTIONS_PER_ROOM", connCfg.MaxConnectionsPerRoom)
	registry := gateway.NewConnectionRegistry(connCfg, gateway.EventSinkFunc(
		func(participantID string, role models.Role, env events.Envelope) error {
			return manager.HandleInbound(participantID, role, env)
		}))
	manager = coordinator.NewManager(rules, nil, registry, store, publisher)
	defer manager.Close()

	gatewayService := gateway.NewService(registry, manager)
	server := setupServer(gatewayService)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give room loops time to drain
	time.Sleep(1 * time.Second)

	log.Info().Msg("quiz coordinator shutdown complete")
}

// setupRelay connects the JetStream publisher, or falls back to a no-op
// publisher when NATS is disabled or unreachable.
func setupRelay() relay.Publisher {
	if getEnv("RELAY_ENABLED", "true") != "true" {
		log.Info().Msg("event relay disabled")
		return relay.NopPublisher{}
	}

	cfg := relay.DefaultConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publisher, err := relay.NewJetStreamPublisher(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("url", cfg.URL).Msg("relay unavailable, match events will not be published")
		return relay.NopPublisher{}
	}
	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("event relay connected")
	return publisher
}
