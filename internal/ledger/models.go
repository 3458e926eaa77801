// Package ledger implements wallets and their transaction ledger. Every
// monetary movement is recorded as a transaction and a history entry in
// the same atomic unit of work as the balance change, and deductions are
// idempotent under client-supplied keys.
package ledger

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrWalletNotFound is returned when a wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned when the owner already has a wallet.
	ErrWalletExists = errors.New("wallet already exists for owner")

	// ErrTransactionNotFound is returned when a transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds is returned when a deduction or hold exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrMissingIdempotencyKey is returned when a deduction carries no key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrDuplicateIdempotencyKey is returned by the store when a new
	// transaction collides with an existing key on the same wallet.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransactionState is returned when an operation targets a
	// transaction in the wrong state, e.g. capturing a released hold.
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	// ErrConcurrencyConflict is returned when a unit of work loses a race
	// and should be retried.
	ErrConcurrencyConflict = errors.New("concurrent ledger update conflict")

	// ErrNotWalletOwner is returned when a caller operates on a wallet it
	// does not own.
	ErrNotWalletOwner = errors.New("wallet does not belong to caller")
)

// DefaultCurrency is applied to wallets created without an explicit currency.
const DefaultCurrency = "npr"

// OwnerKind distinguishes personal wallets from organization-held ones.
type OwnerKind string

const (
	OwnerKindUser         OwnerKind = "user"
	OwnerKindOrganization OwnerKind = "organization"
)

// Valid reports whether the owner kind is one of the known values.
func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerKindUser, OwnerKindOrganization:
		return true
	}
	return false
}

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TransactionTypeFare    TransactionType = "fare"
	TransactionTypeTopUp   TransactionType = "topup"
	TransactionTypePreauth TransactionType = "preauth"
)

// Valid reports whether the type is one of the known values.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeFare, TransactionTypeTopUp, TransactionTypePreauth:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusAuthorized TransactionStatus = "authorized"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusReleased   TransactionStatus = "released"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// Valid reports whether the status is one of the known values.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusAuthorized,
		TransactionStatusCompleted, TransactionStatusReleased, TransactionStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusReleased, TransactionStatusFailed:
		return true
	}
	return false
}

// Wallet is a stored-value account. Balance is spendable; Held is reserved
// by open preauthorizations and not spendable until captured or released.
type Wallet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	OwnerKind OwnerKind `json:"owner_kind"`
	Balance   float64   `json:"balance"`
	Held      float64   `json:"held"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction records one monetary movement against a wallet.
type Transaction struct {
	ID             string            `json:"id"`
	WalletID       string            `json:"wallet_id"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Description    string            `json:"description,omitempty"`

	// PaymentIntentID links a top-up to its gateway charge.
	PaymentIntentID string `json:"payment_intent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is an append-only snapshot written alongside each balance
// change.
type HistoryEntry struct {
	ID            string    `json:"id"`
	WalletID      string    `json:"wallet_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Delta         float64   `json:"delta"`
	Balance       float64   `json:"balance"`
	Held          float64   `json:"held"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Round2 rounds a monetary amount half away from zero to two decimals.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// NewWalletID returns a fresh wallet identifier.
func NewWalletID() string {
	return "wal_" + uuid.New().String()[:22]
}

// NewTransactionID returns a fresh transaction identifier.
func NewTransactionID() string {
	return "txn_" + uuid.New().String()[:22]
}

// NewHistoryID returns a fresh history entry identifier.
func NewHistoryID() string {
	return "hst_" + uuid.New().String()[:22]
}
