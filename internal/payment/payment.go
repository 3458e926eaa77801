// Package payment abstracts the card payment gateway used to fund wallets.
// Top-ups are two-phase: an intent is created when the top-up is initiated,
// and the intent must report success before the wallet is credited.
package payment

import "context"

// IntentStatus is the lifecycle state of a payment intent as reported by
// the gateway.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusCanceled  IntentStatus = "canceled"
	IntentStatusFailed    IntentStatus = "failed"
)

// IntentRequest describes a new payment intent.
type IntentRequest struct {
	// Amount is in major currency units.
	Amount   float64
	Currency string

	// WalletID and TransactionID are attached as gateway metadata so a
	// charge can be traced back to the ledger record.
	WalletID      string
	TransactionID string
}

// Intent is the gateway's view of a charge.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       float64
	Currency     string
	Status       IntentStatus
}

// Provider talks to the payment gateway.
type Provider interface {
	// CreateIntent registers a new charge and returns the client secret the
	// app needs to complete it.
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)

	// GetIntent fetches the current state of an intent.
	GetIntent(ctx context.Context, id string) (*Intent, error)

	// CancelIntent voids an intent that has not been completed.
	CancelIntent(ctx context.Context, id string) error
}
