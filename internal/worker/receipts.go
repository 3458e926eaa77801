// Package worker runs the asynchronous receipt pipeline: it consumes
// receipt messages published by the ledger and mails them to wallet
// owners.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/mail"
	"github.com/transitpay/transitpay/internal/notify"
)

// Directory resolves a wallet owner to an email address. Owners without a
// known address get no receipt.
type Directory interface {
	EmailForOwner(ctx context.Context, ownerID string) (string, bool)
}

// StaticDirectory is a fixed owner-to-email map, loaded from configuration.
type StaticDirectory map[string]string

// EmailForOwner implements Directory.
func (d StaticDirectory) EmailForOwner(_ context.Context, ownerID string) (string, bool) {
	addr, ok := d[ownerID]
	return addr, ok
}

// ReceiptHandler consumes receipt messages from a Pub/Sub subscription and
// delivers them by email.
type ReceiptHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	directory        Directory
	mailer           mail.Mailer
	logger           zerolog.Logger
}

// ReceiptConfig holds configuration for the receipt handler.
type ReceiptConfig struct {
	ProjectID        string
	SubscriptionName string
	Directory        Directory
	Mailer           mail.Mailer
	Logger           zerolog.Logger
}

// NewReceiptHandler creates a new receipt handler.
func NewReceiptHandler(ctx context.Context, cfg ReceiptConfig) (*ReceiptHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &ReceiptHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		directory:        cfg.Directory,
		mailer:           cfg.Mailer,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing receipt messages. It blocks until ctx is
// cancelled.
func (h *ReceiptHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting receipt handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *ReceiptHandler) Close() error {
	return h.client.Close()
}

func (h *ReceiptHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	var receipt notify.Receipt
	if err := json.Unmarshal(msg.Data, &receipt); err != nil {
		logger.Error().Err(err).Msg("failed to parse receipt")
		// Malformed messages never become parseable; drop them.
		msg.Ack()
		return
	}

	if err := h.deliver(ctx, receipt); err != nil {
		logger.Error().Err(err).Str("transaction_id", receipt.TransactionID).Msg("receipt delivery failed")
		msg.Nack()
		return
	}

	logger.Info().
		Str("transaction_id", receipt.TransactionID).
		Dur("duration", time.Since(startTime)).
		Msg("receipt delivered")

	msg.Ack()
}

func (h *ReceiptHandler) deliver(ctx context.Context, r notify.Receipt) error {
	addr, ok := h.directory.EmailForOwner(ctx, r.OwnerID)
	if !ok {
		h.logger.Debug().Str("owner_id", r.OwnerID).Msg("no email on file, skipping receipt")
		return nil
	}
	subject, body := RenderReceipt(r)
	return h.mailer.Send(addr, subject, body)
}

// RenderReceipt formats a receipt as a plain-text email.
func RenderReceipt(r notify.Receipt) (subject, body string) {
	currency := strings.ToUpper(r.Currency)
	subject = fmt.Sprintf("TransitPay receipt: %s %.2f %s", r.Type, r.Amount, currency)

	var b strings.Builder
	fmt.Fprintf(&b, "Your %s of %.2f %s has been processed.\n\n", r.Type, r.Amount, currency)
	fmt.Fprintf(&b, "Transaction: %s\n", r.TransactionID)
	fmt.Fprintf(&b, "Wallet:      %s\n", r.WalletID)
	fmt.Fprintf(&b, "New balance: %.2f %s\n", r.Balance, currency)
	fmt.Fprintf(&b, "Date:        %s\n", r.OccurredAt.Format(time.RFC1123))
	b.WriteString("\nThank you for riding with TransitPay.\n")
	return subject, b.String()
}
