package ledger

import (
	"context"
	"time"
)

// TransactionFilter narrows a transaction listing. Zero-valued fields
// match everything.
type TransactionFilter struct {
	Status TransactionStatus
	Type   TransactionType
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Matches reports whether the transaction passes the filter's status,
// type and date criteria.
func (f TransactionFilter) Matches(txn *Transaction) bool {
	if f.Status != "" && txn.Status != f.Status {
		return false
	}
	if f.Type != "" && txn.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && txn.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && txn.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Change is the result of a unit of work: the wallet's new balances plus
// the records to persist with them. All fields are written in one atomic
// step by the store.
type Change struct {
	// Balance and Held are the wallet's new absolute values.
	Balance float64
	Held    float64

	// Entry, if set, is appended to the wallet history.
	Entry *HistoryEntry

	// Create, if set, is a new transaction to insert. The store enforces
	// idempotency key uniqueness per wallet and reports collisions as
	// ErrDuplicateIdempotencyKey.
	Create *Transaction

	// Update, if set, is an existing transaction to save.
	Update *Transaction
}

// ApplyFunc computes a Change for a wallet under lock. w is the current
// wallet row; txn is the transaction named in the Apply call, or nil.
// Both are private copies the callback may mutate freely. Returning a nil
// Change commits nothing.
type ApplyFunc func(w *Wallet, txn *Transaction) (*Change, error)

// Store persists wallets, transactions and history. Apply is the only way
// to mutate balances; everything else is read-only or insert-only.
type Store interface {
	// CreateWallet inserts a new wallet. Returns ErrWalletExists if the
	// owner already has one.
	CreateWallet(ctx context.Context, w *Wallet) error

	// GetWallet returns a wallet by ID, or ErrWalletNotFound.
	GetWallet(ctx context.Context, id string) (*Wallet, error)

	// GetWalletByOwner returns the wallet for an owner, or ErrWalletNotFound.
	GetWalletByOwner(ctx context.Context, ownerID string, kind OwnerKind) (*Wallet, error)

	// GetTransaction returns a transaction by ID, or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// GetTransactionByKey returns the wallet's transaction carrying the
	// given idempotency key, or ErrTransactionNotFound.
	GetTransactionByKey(ctx context.Context, walletID, key string) (*Transaction, error)

	// ListTransactions returns the wallet's transactions matching the
	// filter, newest first.
	ListTransactions(ctx context.Context, walletID string, f TransactionFilter) ([]*Transaction, error)

	// ListHistory returns the wallet's history entries, newest first.
	ListHistory(ctx context.Context, walletID string, limit, offset int) ([]*HistoryEntry, error)

	// Apply runs fn with the wallet (and optionally one transaction)
	// locked, then persists the returned Change atomically. A lost race
	// surfaces as ErrConcurrencyConflict and may be retried.
	Apply(ctx context.Context, walletID, txID string, fn ApplyFunc) error
}
