// Package main provides the entrypoint for the TransitPay receipt worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/mail"
	"github.com/transitpay/transitpay/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "transitpay-worker").
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting TransitPay receipt worker")

	// Worker also exposes a health endpoint for Cloud Run
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	if projectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}
	subscription := os.Getenv("PUBSUB_RECEIPT_SUBSCRIPTION")
	if subscription == "" {
		subscription = "wallet-receipts-worker"
	}

	// Owner email directory, loaded from a JSON file of owner id -> address.
	directory := worker.StaticDirectory{}
	if path := os.Getenv("OWNER_DIRECTORY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to read owner directory")
		}
		if err := json.Unmarshal(data, &directory); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to parse owner directory")
		}
		log.Info().Int("owners", len(directory)).Msg("owner directory loaded")
	} else {
		log.Warn().Msg("OWNER_DIRECTORY_FILE not set - receipts without a known owner email are skipped")
	}

	mailer := mail.NewSMTPMailer(mail.ConfigFromEnv(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := worker.NewReceiptHandler(ctx, worker.ReceiptConfig{
		ProjectID:        projectID,
		SubscriptionName: subscription,
		Directory:        directory,
		Mailer:           mailer,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create receipt handler")
	}
	defer handler.Close()

	// Health check endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Receive blocks until the context is cancelled
	errCh := make(chan error, 1)
	go func() {
		errCh <- handler.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down worker")
		cancel()
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("receipt handler stopped with error")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("receipt handler failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
