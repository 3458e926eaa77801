// Package main provides the entrypoint for the TransitPay API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/api"
	"github.com/transitpay/transitpay/internal/api/handler"
	"github.com/transitpay/transitpay/internal/api/middleware"
	"github.com/transitpay/transitpay/internal/auth"
	"github.com/transitpay/transitpay/internal/database"
	"github.com/transitpay/transitpay/internal/events"
	"github.com/transitpay/transitpay/internal/ledger"
	"github.com/transitpay/transitpay/internal/notify"
	"github.com/transitpay/transitpay/internal/payment"
	"github.com/transitpay/transitpay/internal/realtime"
	"github.com/transitpay/transitpay/internal/resilience"
	"github.com/transitpay/transitpay/internal/telemetry"
	"github.com/transitpay/transitpay/internal/tracker"
	"github.com/transitpay/transitpay/internal/transit"
	"github.com/transitpay/transitpay/internal/trip"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "transitpay-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting TransitPay API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryCfg := telemetry.ConfigFromEnv(serviceName, Version)

	tp, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryCfg.Enabled {
		log.Info().
			Str("otlp_endpoint", telemetryCfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Connect to database and apply schema
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Connect to redis for live vehicle positions
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisAddr).Msg("failed to connect to redis")
	}
	log.Info().Str("addr", redisAddr).Msg("redis connected")

	// Initialize JWT service (get signing key from environment)
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: jwtSigningKey,
		Issuer:     os.Getenv("JWT_ISSUER"),
		Audience:   os.Getenv("JWT_AUDIENCE"),
	})

	// Registry tracks the health of external providers for /v1/ops/status
	registry := resilience.NewRegistry()

	// Initialize payment provider
	var payments payment.Provider
	stripeKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeKey != "" {
		payments = payment.NewStripeProvider(payment.StripeConfig{
			APIKey:   stripeKey,
			Registry: registry,
			Logger:   log,
		})
		log.Info().Msg("stripe payment provider initialized")
	} else {
		payments = payment.NewMemoryProvider()
		log.Warn().Msg("STRIPE_SECRET_KEY not set - using in-memory payment provider")
	}

	// Initialize receipt notifier
	var notifier notify.Notifier = &notify.LogNotifier{Logger: log}
	pubsubProject := os.Getenv("PUBSUB_PROJECT_ID")
	if pubsubProject != "" {
		topicName := os.Getenv("PUBSUB_RECEIPT_TOPIC")
		if topicName == "" {
			topicName = "wallet-receipts"
		}
		pubsubNotifier, err := notify.NewPubSubNotifier(ctx, notify.PubSubConfig{
			ProjectID: pubsubProject,
			TopicName: topicName,
			Registry:  registry,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize pubsub notifier")
		}
		defer pubsubNotifier.Close()
		notifier = pubsubNotifier
		log.Info().Str("topic", topicName).Msg("pubsub receipt notifier initialized")
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set - receipts are logged only")
	}

	// Realtime hub pushes balance and trip events over websockets
	hub := realtime.NewHub(log)
	var sink events.Sink = hub

	// Initialize services
	ledgerStore := ledger.NewPostgresStore(pool)
	ledgerService := ledger.NewService(ledgerStore, payments, sink, notifier, log)
	log.Info().Msg("ledger service initialized")

	transitRepo := transit.NewPostgresRepository(pool)
	vehicleTracker := tracker.NewRedisTracker(redisClient, "vehicles:geo")

	tripRepo := trip.NewPostgresRepository(pool)
	tripService := trip.NewService(tripRepo, transitRepo, ledgerService, sink, vehicleTracker, log)
	log.Info().Msg("trip service initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       metrics,
		JWTService:    jwtService,
		LedgerService: ledgerService,
		TripService:   tripService,
		TransitRepo:   transitRepo,
		Tracker:       vehicleTracker,
		Hub:           hub,
		Sink:          sink,
		Registry:      registry,
		Checks: map[string]handler.DependencyCheck{
			"postgres": pool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
