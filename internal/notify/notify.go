// Package notify hands completed-payment receipts off for asynchronous
// delivery. Receipt failures are logged by callers and never fail the
// ledger mutation that produced them.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Receipt describes a completed wallet movement to be mailed to the owner.
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	WalletID      string    `json:"wallet_id"`
	OwnerID       string    `json:"owner_id"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Balance       float64   `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier dispatches receipts for delivery.
type Notifier interface {
	SendReceipt(ctx context.Context, r Receipt) error
}

// LogNotifier writes receipts to the log instead of delivering them. Used
// in development and as the fallback when no broker is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// SendReceipt implements Notifier.
func (n *LogNotifier) SendReceipt(_ context.Context, r Receipt) error {
	n.Logger.Info().
		Str("transaction_id", r.TransactionID).
		Str("wallet_id", r.WalletID).
		Str("type", r.Type).
		Float64("amount", r.Amount).
		Msg("receipt (log only)")
	return nil
}
